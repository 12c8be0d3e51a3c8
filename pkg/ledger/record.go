package ledger

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Record is the durable projection of one committed interaction cycle.
// Records are append-only; nothing mutates them after Append.
type Record struct {
	Seq         int64       `json:"seq"`
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"ts"`
	SessionID   string      `json:"session_id"`
	EpochID     string      `json:"epoch_id"`
	TurnCount   int         `json:"turn_count"`
	UserInput   string      `json:"user_input"`
	FinalOutput string      `json:"final_output"`
	Tools       []ToolUse   `json:"tools,omitempty"`
	Deltas      []FactDelta `json:"deltas,omitempty"`
}

// ToolUse summarizes one tool invocation inside a committed cycle. Result
// carries at most maxToolResultBytes; anything larger is replaced with a
// placeholder before the record is written.
type ToolUse struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Result string `json:"result"`
}

// FactDelta is a long-term memory candidate proposed by a committed cycle.
// Deltas are advisory: only the consolidation pass turns them into facts.
type FactDelta struct {
	Kind       string  `json:"kind"`
	Key        string  `json:"key"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
}

const maxToolResultBytes = 2048

// RedactResult bounds a tool result payload for durable storage. The full
// payload exists only in the transient epoch.
func RedactResult(result string) string {
	if len(result) <= maxToolResultBytes {
		return result
	}
	return fmt.Sprintf("[payload omitted: %d bytes]", len(result))
}

// NewRecordID returns a lexicographically sortable record ID so that ID
// order matches commit order.
func NewRecordID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at.UTC()), rand.Reader).String()
}
