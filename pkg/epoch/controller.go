package epoch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonai/halcyon/pkg/ledger"
	"github.com/halcyonai/halcyon/pkg/logger"
	"github.com/halcyonai/halcyon/pkg/memory"
)

// State is the epoch lifecycle position. COMMITTED and ABORTED are
// terminal for the epoch but the controller itself resets to IDLE
// immediately, so observers only ever see IDLE, OPEN or EXECUTING.
type State string

const (
	StateIdle      State = "IDLE"
	StateOpen      State = "OPEN"
	StateExecuting State = "EXECUTING"
	StateCommitted State = "COMMITTED"
	StateAborted   State = "ABORTED"
)

func (s State) String() string { return string(s) }

// Turn is one model-invocation step inside an epoch. Immutable once
// recorded via AdvanceTurn.
type Turn struct {
	Number    int
	At        time.Time
	RawOutput string
	Reasoning string
	ToolUses  []ledger.ToolUse
}

// Epoch is one in-flight interaction cycle: transient until commit, gone
// after abort. The context snapshot is taken at open and never refreshed
// mid-epoch.
type Epoch struct {
	ID        string
	SessionID string
	OpenedAt  time.Time
	Input     string
	Snapshot  memory.Context
	Turns     []Turn
}

// ToolSummary flattens tool uses across all turns, in order.
func (e *Epoch) ToolSummary() []ledger.ToolUse {
	var out []ledger.ToolUse
	for _, t := range e.Turns {
		out = append(out, t.ToolUses...)
	}
	return out
}

// ControllerConfig wires one session's controller.
type ControllerConfig struct {
	SessionID string
	Ledger    *ledger.Ledger
	Tiers     *memory.Tiers
	MaxTurns  int

	// ConsolidateNow runs a synchronous consolidation cycle when a commit
	// would breach the hard cap. Nil disables the backpressure escape
	// hatch; over-cap commits then fail outright.
	ConsolidateNow func(ctx context.Context) error

	// NotifyPressure is called after each successful commit with the
	// post-commit pressure reading.
	NotifyPressure func(memory.Pressure)
}

// Controller is the single-writer state machine for one session. All
// durable side effects happen inside Commit; Open, AdvanceTurn and Abort
// touch only the transient epoch.
type Controller struct {
	mu      sync.Mutex
	cfg     ControllerConfig
	state   State
	current *Epoch
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Ledger == nil || cfg.Tiers == nil {
		return nil, fmt.Errorf("epoch controller: ledger and tiers are required")
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 6
	}
	return &Controller{cfg: cfg, state: StateIdle}, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open starts a new epoch. Fails fast while a cycle is in flight rather
// than queueing, so overlapping callers get an immediate busy error.
func (c *Controller) Open(ctx context.Context, input string) (*Epoch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return nil, &InvalidStateError{Op: "open", State: c.state}
	}

	snapshot, err := c.cfg.Tiers.CurrentContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("epoch open: snapshot context: %w", err)
	}

	c.current = &Epoch{
		ID:        "epoch-" + uuid.NewString(),
		SessionID: c.cfg.SessionID,
		OpenedAt:  time.Now().UTC(),
		Input:     input,
		Snapshot:  snapshot,
	}
	c.state = StateOpen
	logger.DebugCF("epoch", "opened", map[string]interface{}{
		"epoch_id": c.current.ID, "session": c.cfg.SessionID,
	})
	return c.current, nil
}

// AdvanceTurn records one model-invocation step. The first call moves the
// epoch to EXECUTING. Exceeding the per-epoch turn limit is an error; the
// caller must then commit or abort.
func (c *Controller) AdvanceTurn(turn Turn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen && c.state != StateExecuting {
		return &InvalidStateError{Op: "advance_turn", State: c.state}
	}
	if len(c.current.Turns) >= c.cfg.MaxTurns {
		return fmt.Errorf("epoch %s: turn limit %d reached", c.current.ID, c.cfg.MaxTurns)
	}

	turn.Number = len(c.current.Turns) + 1
	if turn.At.IsZero() {
		turn.At = time.Now().UTC()
	}
	c.current.Turns = append(c.current.Turns, turn)
	c.state = StateExecuting
	return nil
}

// Commit finalizes the epoch: durable ledger append first, then the
// short-term tier absorbs the record, then the controller resets to IDLE.
// Any failure leaves the state machine in EXECUTING with nothing written,
// as if commit never started. When the record would breach the hard cap a
// synchronous consolidation cycle runs first; if usage still will not fit
// the commit is refused with BudgetExceededError.
func (c *Controller) Commit(ctx context.Context, finalOutput string, deltas []ledger.FactDelta) (ledger.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateExecuting {
		return ledger.Record{}, &InvalidStateError{Op: "commit", State: c.state}
	}

	rec := ledger.Record{
		SessionID:   c.cfg.SessionID,
		EpochID:     c.current.ID,
		TurnCount:   len(c.current.Turns),
		UserInput:   c.current.Input,
		FinalOutput: finalOutput,
		Tools:       c.current.ToolSummary(),
		Deltas:      deltas,
	}

	if c.cfg.Tiers.WouldExceed(rec) {
		if c.cfg.ConsolidateNow == nil {
			return ledger.Record{}, &memory.BudgetExceededError{
				UsedTokens: c.cfg.Tiers.UsedTokens(),
				HardCap:    c.cfg.Tiers.HardCap(),
			}
		}
		logger.InfoCF("epoch", "hard cap pressure, consolidating before commit", map[string]interface{}{
			"epoch_id": c.current.ID, "used_tokens": c.cfg.Tiers.UsedTokens(),
		})
		if err := c.cfg.ConsolidateNow(ctx); err != nil {
			return ledger.Record{}, &memory.BudgetExceededError{
				UsedTokens: c.cfg.Tiers.UsedTokens(),
				HardCap:    c.cfg.Tiers.HardCap(),
				Cause:      err,
			}
		}
		if c.cfg.Tiers.WouldExceed(rec) {
			return ledger.Record{}, &memory.BudgetExceededError{
				UsedTokens: c.cfg.Tiers.UsedTokens(),
				HardCap:    c.cfg.Tiers.HardCap(),
			}
		}
	}

	appended, err := c.cfg.Ledger.Append(rec)
	if err != nil {
		logger.ErrorCF("epoch", "ledger append failed, epoch not committed", map[string]interface{}{
			"epoch_id": c.current.ID, "error": err.Error(),
		})
		return ledger.Record{}, err
	}

	if err := c.cfg.Tiers.RecordCommit(appended); err != nil {
		// The pre-check makes this unreachable under the single-writer
		// discipline; surfacing it keeps a violated invariant loud.
		return ledger.Record{}, fmt.Errorf("epoch commit: record absorbed by ledger but not memory: %w", err)
	}

	c.state = StateCommitted
	logger.InfoCF("epoch", "committed", map[string]interface{}{
		"epoch_id": c.current.ID, "seq": appended.Seq, "turns": rec.TurnCount,
	})

	c.current = nil
	c.state = StateIdle

	if c.cfg.NotifyPressure != nil {
		c.cfg.NotifyPressure(c.cfg.Tiers.TokenPressure())
	}
	return appended, nil
}

// Abort discards the in-flight epoch. Nothing durable is touched, so the
// transition is effective immediately even if background cleanup of tool
// calls is still draining.
func (c *Controller) Abort(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen && c.state != StateExecuting {
		return &InvalidStateError{Op: "abort", State: c.state}
	}

	logger.InfoCF("epoch", "aborted", map[string]interface{}{
		"epoch_id": c.current.ID, "reason": reason,
	})
	c.state = StateAborted
	c.current = nil
	c.state = StateIdle
	return nil
}
