package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/halcyonai/halcyon/pkg/ledger"
	"github.com/halcyonai/halcyon/pkg/tokens"
)

// TiersConfig configures one session's tiered memory view.
type TiersConfig struct {
	Counter          *tokens.Counter
	Reader           FactReader
	MaxContextTokens int
	HardCapTokens    int
	PressureFraction float64
	MaxFacts         int
	MidTermEnabled   bool
}

// Tiers combines the short-term window, the optional mid-term traces and
// the long-term store into the context view injected into each new cycle.
// It absorbs commits and reports token pressure; it never writes long-term
// state (that path belongs to the consolidation pass alone).
type Tiers struct {
	mu     sync.Mutex
	cfg    TiersConfig
	window *shortTermWindow
}

func NewTiers(cfg TiersConfig) (*Tiers, error) {
	if cfg.Counter == nil {
		return nil, fmt.Errorf("memory tiers: token counter is required")
	}
	if cfg.Reader == nil {
		return nil, fmt.Errorf("memory tiers: long-term reader is required")
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 8192
	}
	if cfg.HardCapTokens <= 0 {
		cfg.HardCapTokens = cfg.MaxContextTokens * 3 / 4
	}
	if cfg.PressureFraction <= 0 || cfg.PressureFraction >= 1 {
		cfg.PressureFraction = 0.8
	}
	if cfg.MaxFacts <= 0 {
		cfg.MaxFacts = 64
	}
	return &Tiers{
		cfg:    cfg,
		window: newShortTermWindow(cfg.Counter),
	}, nil
}

// Rehydrate rebuilds the short-term window from the ledger's active replay
// set. Called once at startup; the ledger is the sole source of truth.
func (t *Tiers) Rehydrate(records []ledger.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window = newShortTermWindow(t.cfg.Counter)
	for _, rec := range records {
		t.window.append(rec)
	}
}

// WouldExceed reports whether absorbing rec would push the short-term tier
// past the hard cap.
func (t *Tiers) WouldExceed(rec ledger.Record) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window.usedTokens()+t.window.recordCost(rec) > t.cfg.HardCapTokens
}

// RecordCommit absorbs a committed record into the short-term window. The
// hard cap is enforced here: callers must consolidate first when
// WouldExceed reports true.
func (t *Tiers) RecordCommit(rec ledger.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cost := t.window.recordCost(rec)
	if t.window.usedTokens()+cost > t.cfg.HardCapTokens {
		return &BudgetExceededError{
			UsedTokens: t.window.usedTokens() + cost,
			HardCap:    t.cfg.HardCapTokens,
		}
	}
	t.window.append(rec)
	return nil
}

// TokenPressure reports where short-term usage sits relative to the
// operational threshold and the hard cap.
func (t *Tiers) TokenPressure() Pressure {
	t.mu.Lock()
	defer t.mu.Unlock()

	used := t.window.usedTokens()
	if used >= t.cfg.HardCapTokens {
		return PressureHard
	}
	if float64(used) >= t.cfg.PressureFraction*float64(t.cfg.HardCapTokens) {
		return PressureSoft
	}
	return PressureNone
}

// HardCap returns the configured short-term hard cap in tokens.
func (t *Tiers) HardCap() int { return t.cfg.HardCapTokens }

// UsedTokens returns current short-term token usage.
func (t *Tiers) UsedTokens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window.usedTokens()
}

// ShortTermLen returns the number of records in the short-term window.
func (t *Tiers) ShortTermLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window.len()
}

// ShortTermRecords returns a copy of the short-term window in commit order.
func (t *Tiers) ShortTermRecords() []ledger.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.window.records()
}

// TrimThrough removes consumed records after a consolidation cycle,
// retaining carryOver of the most recent consumed records as a seed.
func (t *Tiers) TrimThrough(seq int64, carryOver int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window.trimThrough(seq, carryOver)
}

// CurrentContext assembles the bounded, ordered view for the next cycle:
// identity snapshot first, then durable facts, then active traces, then as
// much short-term history as fits. Long-term sections are never truncated
// to make room; only the oldest short-term entries are evicted.
func (t *Tiers) CurrentContext(ctx context.Context) (Context, error) {
	identity, err := t.cfg.Reader.ReadIdentity(ctx)
	if err != nil {
		return Context{}, err
	}
	facts, err := t.cfg.Reader.ReadFacts(ctx, t.cfg.MaxFacts)
	if err != nil {
		return Context{}, err
	}

	var traces []Trace
	if t.cfg.MidTermEnabled {
		traces, err = t.cfg.Reader.ReadTraces(ctx, time.Now().UnixMilli())
		if err != nil {
			return Context{}, err
		}
	}

	identityTokens := t.cfg.Counter.Count(FormatIdentity(identity))
	factTokens := 0
	for _, f := range facts {
		factTokens += t.cfg.Counter.Count(f.Content)
	}
	traceTokens := 0
	for _, tr := range traces {
		traceTokens += t.cfg.Counter.Count(tr.Content)
	}

	historyBudget := t.cfg.MaxContextTokens - identityTokens - factTokens - traceTokens
	if historyBudget < 0 {
		historyBudget = 0
	}

	t.mu.Lock()
	history, historyTokens, evicted := t.window.history(historyBudget)
	t.mu.Unlock()

	return Context{
		Identity: identity,
		Facts:    facts,
		Traces:   traces,
		History:  history,
		Buckets: ContextBuckets{
			Identity:  identityTokens,
			Facts:     factTokens,
			Traces:    traceTokens,
			ShortTerm: historyTokens,
			Total:     identityTokens + factTokens + traceTokens + historyTokens,
			Budget:    t.cfg.MaxContextTokens,
			Evicted:   evicted,
		},
	}, nil
}

// FormatIdentity renders the identity record as prompt text.
func FormatIdentity(identity Identity) string {
	var b strings.Builder
	name := identity.DisplayName
	if name == "" {
		name = "Assistant"
	}
	fmt.Fprintf(&b, "You are %s.", name)
	if identity.Role != "" {
		fmt.Fprintf(&b, " Role: %s.", identity.Role)
	}
	if identity.CoreDirective != "" {
		fmt.Fprintf(&b, " Directive: %s.", identity.CoreDirective)
	}
	if identity.Tone != "" {
		fmt.Fprintf(&b, " Tone: %s.", identity.Tone)
	}
	if len(identity.ActiveContext) > 0 {
		b.WriteString("\nActive context:\n")
		for _, item := range identity.ActiveContext {
			b.WriteString("- " + item + "\n")
		}
	}
	if len(identity.OpenThreads) > 0 {
		b.WriteString("\nOpen threads:\n")
		for _, item := range identity.OpenThreads {
			b.WriteString("- " + item + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}
