package memory

import "fmt"

// BudgetExceededError indicates the short-term hard cap was reached and the
// synchronous consolidation attempt also failed. It is a backpressure
// signal: new input must be rejected until consolidation succeeds.
type BudgetExceededError struct {
	UsedTokens int
	HardCap    int
	Cause      error
}

func (e *BudgetExceededError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("short-term budget exceeded (%d/%d tokens) and consolidation failed: %v", e.UsedTokens, e.HardCap, e.Cause)
	}
	return fmt.Sprintf("short-term budget exceeded (%d/%d tokens)", e.UsedTokens, e.HardCap)
}

func (e *BudgetExceededError) Unwrap() error { return e.Cause }
