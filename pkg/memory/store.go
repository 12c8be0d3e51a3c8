package memory

import "context"

// FactReader is the read-only long-term access used during live turns.
type FactReader interface {
	ReadFacts(ctx context.Context, limit int) ([]Fact, error)
	ReadIdentity(ctx context.Context) (Identity, error)
	ReadTraces(ctx context.Context, nowMS int64) ([]Trace, error)
}

// LongTermWriter is the dedicated long-term write path. Only the
// consolidation pass holds one; no other component is handed a write
// handle, which enforces the single-writer contract by construction.
type LongTermWriter interface {
	UpsertFact(ctx context.Context, fact Fact) (Fact, error)
	DeleteFact(ctx context.Context, kind FactKind, key string) error
	WriteIdentity(ctx context.Context, identity Identity) (Identity, error)
	UpsertTrace(ctx context.Context, trace Trace) error
	PruneExpired(ctx context.Context, nowMS int64) error
	Checkpoint(ctx context.Context) (int64, error)
	SetCheckpoint(ctx context.Context, seq int64) error
}

// Store is the durable long-term substrate: both halves plus lifecycle.
type Store interface {
	FactReader
	LongTermWriter
	Close() error
}
