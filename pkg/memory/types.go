package memory

import "time"

// FactKind classifies long-term memories.
type FactKind string

const (
	FactSemantic   FactKind = "semantic_fact"
	FactPreference FactKind = "user_preference"
	FactEpisodic   FactKind = "episodic_summary"
	FactTaskState  FactKind = "task_state"
	FactThread     FactKind = "open_thread"
)

// Fact is a durable, atomic unit of distilled knowledge. Facts are created
// only by the consolidation pass and are read-only during live interaction.
type Fact struct {
	ID          string
	Kind        FactKind
	Key         string
	Content     string
	Confidence  float64
	FromSeq     int64
	UptoSeq     int64
	CreatedAtMS int64
	UpdatedAtMS int64
	ExpiresAtMS int64
}

// Identity is the durable self-description injected at the top of every
// context. It is versioned: each consolidation write bumps Revision and
// recomputes Checksum, and live turns read it by snapshot at epoch open.
type Identity struct {
	DisplayName   string   `json:"display_name"`
	Role          string   `json:"role"`
	CoreDirective string   `json:"core_directive"`
	Tone          string   `json:"tone"`
	ActiveContext []string `json:"active_context"`
	OpenThreads   []string `json:"open_threads"`
	Revision      int64    `json:"revision"`
	Checksum      string   `json:"checksum"`
	UpdatedAtMS   int64    `json:"updated_at_ms"`
}

// Trace is a derived, decaying mid-term memory. Traces carry a TTL and are
// never authoritative; the tier is disabled by default.
type Trace struct {
	ID          string
	Label       string
	Content     string
	Weight      float64
	CreatedAtMS int64
	ExpiresAtMS int64
}

// Expired reports whether the trace has decayed at the given time.
func (t Trace) Expired(now time.Time) bool {
	return t.ExpiresAtMS > 0 && t.ExpiresAtMS <= now.UnixMilli()
}

// Pressure describes short-term token usage relative to configured bounds.
type Pressure int

const (
	// PressureNone: usage is below the operational threshold.
	PressureNone Pressure = iota
	// PressureSoft: the operational threshold is crossed; a consolidation
	// cycle should be scheduled.
	PressureSoft
	// PressureHard: the next commit would exceed the hard cap; consolidation
	// must run synchronously before the commit is accepted.
	PressureHard
)

func (p Pressure) String() string {
	switch p {
	case PressureSoft:
		return "soft"
	case PressureHard:
		return "hard"
	default:
		return "none"
	}
}

// ContextBuckets reports per-section token accounting for one assembled
// context, mirroring the budget split used during assembly.
type ContextBuckets struct {
	Identity  int
	Facts     int
	Traces    int
	ShortTerm int
	Total     int
	Budget    int
	Evicted   int
}

// TurnMessage is one prompt message reconstructed from the short-term tier.
type TurnMessage struct {
	Role    string
	Content string
}

// Context is the bounded, ordered view handed to a new interaction cycle.
type Context struct {
	Identity Identity
	Facts    []Fact
	Traces   []Trace
	History  []TurnMessage
	Buckets  ContextBuckets
}
