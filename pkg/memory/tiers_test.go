package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/halcyonai/halcyon/pkg/ledger"
	"github.com/halcyonai/halcyon/pkg/tokens"
)

// testCounter uses an unknown encoding so counting always takes the
// deterministic character-ratio fallback.
func testCounter() *tokens.Counter {
	return tokens.NewCounter("nonexistent-encoding-for-tests")
}

type stubReader struct {
	identity Identity
	facts    []Fact
	traces   []Trace
}

func (r *stubReader) ReadFacts(_ context.Context, _ int) ([]Fact, error) { return r.facts, nil }
func (r *stubReader) ReadIdentity(_ context.Context) (Identity, error)   { return r.identity, nil }
func (r *stubReader) ReadTraces(_ context.Context, _ int64) ([]Trace, error) {
	return r.traces, nil
}

// fifty runes cost 20 tokens under the fallback estimator.
const fifty = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func newTestTiers(t *testing.T, hardCap int) *Tiers {
	t.Helper()
	tiers, err := NewTiers(TiersConfig{
		Counter:          testCounter(),
		Reader:           &stubReader{identity: Identity{DisplayName: "Halcyon"}},
		MaxContextTokens: 4096,
		HardCapTokens:    hardCap,
		PressureFraction: 0.8,
	})
	if err != nil {
		t.Fatalf("new tiers: %v", err)
	}
	return tiers
}

func TestRecordCommitEnforcesHardCap(t *testing.T) {
	tiers := newTestTiers(t, 50)

	rec := ledger.Record{UserInput: fifty}
	if err := tiers.RecordCommit(rec); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	if err := tiers.RecordCommit(rec); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	if got := tiers.UsedTokens(); got != 40 {
		t.Fatalf("expected 40 used tokens, got %d", got)
	}

	if !tiers.WouldExceed(rec) {
		t.Fatal("third commit should exceed the hard cap")
	}
	err := tiers.RecordCommit(rec)
	var budgetErr *BudgetExceededError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected BudgetExceededError, got %v", err)
	}
	if tiers.UsedTokens() != 40 {
		t.Fatalf("refused commit must not change usage, got %d", tiers.UsedTokens())
	}
}

func TestTokenPressureLevels(t *testing.T) {
	tiers := newTestTiers(t, 50)

	if p := tiers.TokenPressure(); p != PressureNone {
		t.Fatalf("expected no pressure on empty tier, got %s", p)
	}

	rec := ledger.Record{UserInput: fifty}
	tiers.RecordCommit(rec)
	if p := tiers.TokenPressure(); p != PressureNone {
		t.Fatalf("expected no pressure at 20/50, got %s", p)
	}

	tiers.RecordCommit(rec)
	if p := tiers.TokenPressure(); p != PressureSoft {
		t.Fatalf("expected soft pressure at 40/50, got %s", p)
	}
}

func TestRehydrateRebuildsWindow(t *testing.T) {
	tiers := newTestTiers(t, 1000)

	tiers.Rehydrate([]ledger.Record{
		{Seq: 1, UserInput: fifty},
		{Seq: 2, UserInput: fifty},
	})
	if tiers.ShortTermLen() != 2 {
		t.Fatalf("expected 2 records, got %d", tiers.ShortTermLen())
	}
	if tiers.UsedTokens() != 40 {
		t.Fatalf("expected 40 tokens after rehydrate, got %d", tiers.UsedTokens())
	}

	// Rehydrate replaces, never accumulates.
	tiers.Rehydrate([]ledger.Record{{Seq: 3, UserInput: fifty}})
	if tiers.ShortTermLen() != 1 {
		t.Fatalf("expected window replaced, got %d records", tiers.ShortTermLen())
	}
}

func TestTrimThroughKeepsCarryOver(t *testing.T) {
	tiers := newTestTiers(t, 1000)
	tiers.Rehydrate([]ledger.Record{
		{Seq: 1, UserInput: "one"},
		{Seq: 2, UserInput: "two"},
		{Seq: 3, UserInput: "three"},
		{Seq: 4, UserInput: "four"},
	})

	tiers.TrimThrough(3, 1)
	records := tiers.ShortTermRecords()
	if len(records) != 2 {
		t.Fatalf("expected carry-over plus unconsumed, got %d records", len(records))
	}
	if records[0].Seq != 3 || records[1].Seq != 4 {
		t.Fatalf("wrong records kept: %d, %d", records[0].Seq, records[1].Seq)
	}

	tiers.TrimThrough(4, 0)
	if tiers.ShortTermLen() != 0 {
		t.Fatalf("expected empty window, got %d", tiers.ShortTermLen())
	}
	if tiers.UsedTokens() != 0 {
		t.Fatalf("expected zero usage after full trim, got %d", tiers.UsedTokens())
	}
}

func TestCurrentContextEvictsOldestFirst(t *testing.T) {
	tiers, err := NewTiers(TiersConfig{
		Counter: testCounter(),
		Reader:  &stubReader{identity: Identity{DisplayName: "H"}},
		// Tight budget: identity costs a few tokens, leaving room for
		// roughly one 20-token exchange.
		MaxContextTokens: 30,
		HardCapTokens:    1000,
		PressureFraction: 0.8,
	})
	if err != nil {
		t.Fatalf("new tiers: %v", err)
	}

	tiers.Rehydrate([]ledger.Record{
		{Seq: 1, UserInput: fifty, FinalOutput: ""},
		{Seq: 2, UserInput: "newest question", FinalOutput: "short"},
	})

	ctx, err := tiers.CurrentContext(context.Background())
	if err != nil {
		t.Fatalf("current context: %v", err)
	}
	if ctx.Buckets.Evicted == 0 {
		t.Fatal("expected oldest entry evicted under tight budget")
	}
	for _, m := range ctx.History {
		if strings.Contains(m.Content, fifty) {
			t.Fatal("oldest entry must be evicted before newer ones")
		}
	}
	if ctx.Buckets.Total > 30 {
		t.Fatalf("context exceeds budget: %d > 30", ctx.Buckets.Total)
	}
}

func TestCurrentContextKeepsLongTermIntact(t *testing.T) {
	reader := &stubReader{
		identity: Identity{DisplayName: "Halcyon", Role: "companion"},
		facts: []Fact{
			{Kind: FactPreference, Key: "pref/1", Content: "User prefers dark roast coffee"},
			{Kind: FactSemantic, Key: "identity/name", Content: "User identity hint: Sam"},
		},
	}
	tiers, err := NewTiers(TiersConfig{
		Counter:          testCounter(),
		Reader:           reader,
		MaxContextTokens: 40,
		HardCapTokens:    1000,
		PressureFraction: 0.8,
	})
	if err != nil {
		t.Fatalf("new tiers: %v", err)
	}
	tiers.Rehydrate([]ledger.Record{{Seq: 1, UserInput: fifty, FinalOutput: fifty}})

	ctx, err := tiers.CurrentContext(context.Background())
	if err != nil {
		t.Fatalf("current context: %v", err)
	}
	// Long-term sections survive even when history is squeezed out.
	if len(ctx.Facts) != 2 {
		t.Fatalf("facts must never be truncated, got %d", len(ctx.Facts))
	}
	if len(ctx.History) != 0 {
		t.Fatalf("expected history fully evicted, got %d messages", len(ctx.History))
	}
}
