package memory

import (
	"context"

	"github.com/halcyonai/halcyon/pkg/ledger"
)

// DistillRequest carries everything a distillation pass may draw on: the
// consumed ledger records plus the current long-term state for dedup and
// identity revision.
type DistillRequest struct {
	Identity Identity
	Facts    []Fact
	Records  []ledger.Record
}

// FactCandidate is a durable fact proposed by a distillation pass. Kind
// and Key identify the slot; re-proposing the same slot updates it in
// place rather than duplicating it.
type FactCandidate struct {
	Kind       FactKind `json:"kind"`
	Key        string   `json:"key"`
	Content    string   `json:"content"`
	Confidence float64  `json:"confidence"`
}

// TraceCandidate is a decaying mid-term trace proposed by a pass.
type TraceCandidate struct {
	Label    string  `json:"label"`
	Content  string  `json:"content"`
	Weight   float64 `json:"weight"`
	TTLHours int     `json:"ttl_hours"`
}

// IdentityUpdate revises the continuity sections of the identity record.
// Nil slices leave the corresponding section untouched.
type IdentityUpdate struct {
	ActiveContext []string `json:"active_context,omitempty"`
	OpenThreads   []string `json:"open_threads,omitempty"`
}

// FactRef names an existing fact slot, used for explicit forget requests.
type FactRef struct {
	Kind FactKind `json:"kind"`
	Key  string   `json:"key"`
}

// DistillResult is the full proposal from one pass. An empty result is a
// valid outcome: nothing in the window was worth keeping.
type DistillResult struct {
	Facts    []FactCandidate
	Deletes  []FactRef
	Traces   []TraceCandidate
	Identity *IdentityUpdate
	Summary  string
}

// Distiller turns consumed ledger records into long-term candidates. A
// failure must leave no side effects; the cycle retries the same records
// later.
type Distiller interface {
	Distill(ctx context.Context, req DistillRequest) (DistillResult, error)
}

// DistillFunc adapts a function to the Distiller interface.
type DistillFunc func(ctx context.Context, req DistillRequest) (DistillResult, error)

func (f DistillFunc) Distill(ctx context.Context, req DistillRequest) (DistillResult, error) {
	return f(ctx, req)
}
