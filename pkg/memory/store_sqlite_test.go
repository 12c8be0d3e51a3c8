package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state", "memory.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUpsertFactIsKeyed(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first, err := store.UpsertFact(ctx, Fact{
		ID: "fact-1", Kind: FactPreference, Key: "pref/coffee",
		Content: "User prefers dark roast", Confidence: 0.8,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Same slot again: updated in place, not duplicated.
	second, err := store.UpsertFact(ctx, Fact{
		ID: "fact-2", Kind: FactPreference, Key: "pref/coffee",
		Content: "User prefers light roast now", Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert must keep the original row id, got %s vs %s", second.ID, first.ID)
	}

	facts, err := store.ReadFacts(ctx, 10)
	if err != nil {
		t.Fatalf("read facts: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}
	if facts[0].Content != "User prefers light roast now" {
		t.Fatalf("content not updated: %q", facts[0].Content)
	}
	if facts[0].Confidence != 0.9 {
		t.Fatalf("confidence not updated: %v", facts[0].Confidence)
	}
}

func TestDeleteFact(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if _, err := store.UpsertFact(ctx, Fact{ID: "fact-1", Kind: FactSemantic, Key: "identity/name", Content: "n"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.DeleteFact(ctx, FactSemantic, "identity/name"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	facts, err := store.ReadFacts(ctx, 10)
	if err != nil {
		t.Fatalf("read facts: %v", err)
	}
	if len(facts) != 0 {
		t.Fatalf("expected no facts after delete, got %d", len(facts))
	}
}

func TestIdentityRevisionAndChecksum(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	blank, err := store.ReadIdentity(ctx)
	if err != nil {
		t.Fatalf("read blank identity: %v", err)
	}
	if blank.Revision != 0 {
		t.Fatalf("expected revision 0 on empty store, got %d", blank.Revision)
	}

	v1, err := store.WriteIdentity(ctx, Identity{
		DisplayName:   "Halcyon",
		CoreDirective: "be useful",
		OpenThreads:   []string{"plan the trip"},
	})
	if err != nil {
		t.Fatalf("write identity: %v", err)
	}
	if v1.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", v1.Revision)
	}
	if v1.Checksum == "" {
		t.Fatal("expected checksum on written identity")
	}

	v2, err := store.WriteIdentity(ctx, Identity{
		DisplayName:   "Halcyon",
		CoreDirective: "be useful",
		OpenThreads:   []string{"plan the trip", "book flights"},
	})
	if err != nil {
		t.Fatalf("rewrite identity: %v", err)
	}
	if v2.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", v2.Revision)
	}
	if v2.Checksum == v1.Checksum {
		t.Fatal("checksum must change when content changes")
	}

	loaded, err := store.ReadIdentity(ctx)
	if err != nil {
		t.Fatalf("read identity: %v", err)
	}
	if loaded.Revision != 2 || len(loaded.OpenThreads) != 2 {
		t.Fatalf("unexpected loaded identity: %+v", loaded)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	seq, err := store.Checkpoint(ctx)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if seq != 0 {
		t.Fatalf("expected zero checkpoint on fresh store, got %d", seq)
	}

	if err := store.SetCheckpoint(ctx, 42); err != nil {
		t.Fatalf("set checkpoint: %v", err)
	}
	seq, err = store.Checkpoint(ctx)
	if err != nil {
		t.Fatalf("checkpoint after set: %v", err)
	}
	if seq != 42 {
		t.Fatalf("expected checkpoint 42, got %d", seq)
	}
}

func TestTracesExpire(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Now().UnixMilli()

	if err := store.UpsertTrace(ctx, Trace{ID: "trace-1", Label: "mood", Content: "relaxed", Weight: 0.5, ExpiresAtMS: now + 60_000}); err != nil {
		t.Fatalf("upsert live trace: %v", err)
	}
	if err := store.UpsertTrace(ctx, Trace{ID: "trace-2", Label: "old", Content: "stale", Weight: 0.5, ExpiresAtMS: now - 60_000}); err != nil {
		t.Fatalf("upsert expired trace: %v", err)
	}

	traces, err := store.ReadTraces(ctx, now)
	if err != nil {
		t.Fatalf("read traces: %v", err)
	}
	if len(traces) != 1 || traces[0].Label != "mood" {
		t.Fatalf("expected only the live trace, got %+v", traces)
	}

	if err := store.PruneExpired(ctx, now); err != nil {
		t.Fatalf("prune: %v", err)
	}
}
