package memory

import (
	"github.com/halcyonai/halcyon/pkg/ledger"
	"github.com/halcyonai/halcyon/pkg/tokens"
)

// shortTermWindow holds the recent committed records with their token
// costs. It is not safe for concurrent use; Tiers serializes access.
type shortTermWindow struct {
	counter *tokens.Counter
	entries []shortTermEntry
	used    int
}

type shortTermEntry struct {
	record ledger.Record
	cost   int
}

func newShortTermWindow(counter *tokens.Counter) *shortTermWindow {
	return &shortTermWindow{counter: counter}
}

func (w *shortTermWindow) recordCost(rec ledger.Record) int {
	cost := w.counter.CountAll(rec.UserInput, rec.FinalOutput)
	for _, tool := range rec.Tools {
		cost += w.counter.Count(tool.Result)
	}
	return cost
}

func (w *shortTermWindow) append(rec ledger.Record) {
	cost := w.recordCost(rec)
	w.entries = append(w.entries, shortTermEntry{record: rec, cost: cost})
	w.used += cost
}

func (w *shortTermWindow) usedTokens() int { return w.used }

func (w *shortTermWindow) len() int { return len(w.entries) }

// trimThrough drops entries with Seq <= seq, optionally retaining the most
// recent carryOver of the dropped entries as a continuity seed.
func (w *shortTermWindow) trimThrough(seq int64, carryOver int) {
	var consumed, kept []shortTermEntry
	for _, e := range w.entries {
		if e.record.Seq <= seq {
			consumed = append(consumed, e)
		} else {
			kept = append(kept, e)
		}
	}
	if carryOver > 0 && len(consumed) > carryOver {
		consumed = consumed[len(consumed)-carryOver:]
	} else if carryOver <= 0 {
		consumed = nil
	}

	w.entries = append(consumed, kept...)
	w.used = 0
	for _, e := range w.entries {
		w.used += e.cost
	}
}

// history returns turn messages within the token budget, preferring the
// most recent entries and evicting the oldest first. Returned messages are
// in chronological order.
func (w *shortTermWindow) history(budget int) ([]TurnMessage, int, int) {
	if budget <= 0 || len(w.entries) == 0 {
		return nil, 0, len(w.entries)
	}

	used := 0
	start := len(w.entries)
	for i := len(w.entries) - 1; i >= 0; i-- {
		cost := w.entries[i].cost
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}

	var out []TurnMessage
	for _, e := range w.entries[start:] {
		if e.record.UserInput != "" {
			out = append(out, TurnMessage{Role: "user", Content: e.record.UserInput})
		}
		if e.record.FinalOutput != "" {
			out = append(out, TurnMessage{Role: "assistant", Content: e.record.FinalOutput})
		}
	}
	return out, used, start
}

func (w *shortTermWindow) records() []ledger.Record {
	out := make([]ledger.Record, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, e.record)
	}
	return out
}
