package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/halcyonai/halcyon/pkg/config"
	"github.com/halcyonai/halcyon/pkg/epoch"
	"github.com/halcyonai/halcyon/pkg/ledger"
	"github.com/halcyonai/halcyon/pkg/logger"
	"github.com/halcyonai/halcyon/pkg/memory"
	"github.com/halcyonai/halcyon/pkg/provider"
	"github.com/halcyonai/halcyon/pkg/tokens"
	"github.com/halcyonai/halcyon/pkg/tools"
)

// Session owns one conversation's full stack: ledger, memory tiers,
// consolidation worker, epoch controller and orchestrator. Sessions share
// nothing; each gets its own files under the workspace state directory.
type Session struct {
	ID string

	Ledger       *ledger.Ledger
	Store        memory.Store
	Tiers        *memory.Tiers
	Consolidator *memory.Consolidator
	Scheduler    *memory.Scheduler
	Controller   *epoch.Controller
	Orchestrator *Orchestrator
	Registry     *tools.ToolRegistry
}

// NewSession builds and rehydrates a session from configuration. The
// ledger's active replay set rebuilds the short-term tier, so a restart
// resumes exactly where the last committed epoch left off.
func NewSession(ctx context.Context, cfg *config.Config, sessionID string, chat provider.ChatProvider) (*Session, error) {
	if sessionID == "" {
		sessionID = "default"
	}
	stateDir := cfg.SessionStatePath(sessionID)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create state dir: %w", err)
	}

	led, err := ledger.Open(filepath.Join(stateDir, "ledger.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("session: open ledger: %w", err)
	}

	store, err := memory.NewSQLiteStore(filepath.Join(stateDir, "memory.db"))
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("session: open store: %w", err)
	}

	counter := tokens.NewCounter(cfg.Memory.TokenEncoding)
	tiers, err := memory.NewTiers(memory.TiersConfig{
		Counter:          counter,
		Reader:           store,
		MaxContextTokens: cfg.Memory.ContextBudgetTokens,
		HardCapTokens:    cfg.Memory.HardCapTokens,
		PressureFraction: cfg.Memory.PressureFraction,
		MidTermEnabled:   cfg.Memory.MidTermEnabled,
	})
	if err != nil {
		store.Close()
		led.Close()
		return nil, err
	}

	records, err := led.Replay()
	if err != nil {
		store.Close()
		led.Close()
		return nil, fmt.Errorf("session: replay ledger: %w", err)
	}
	tiers.Rehydrate(records)
	logger.InfoCF("session", "rehydrated from ledger", map[string]interface{}{
		"session": sessionID, "records": len(records), "used_tokens": tiers.UsedTokens(),
	})

	decisions, err := memory.NewDecisionLog(filepath.Join(stateDir, "approvals.jsonl"))
	if err != nil {
		store.Close()
		led.Close()
		return nil, err
	}

	consolidator, err := memory.NewConsolidator(memory.ConsolidatorConfig{
		Store:             store,
		Ledger:            led,
		Tiers:             tiers,
		Distiller:         memory.NewHeuristicDistiller(),
		Gate:              memory.AutoApproveGate{},
		Decisions:         decisions,
		AuditPath:         filepath.Join(stateDir, "sleep.jsonl"),
		MinFactConfidence: cfg.Memory.MinFactConfidence,
		CarryOverRecords:  cfg.Memory.CarryOverRecords,
		MidTermEnabled:    cfg.Memory.MidTermEnabled,
		MidTermTTLHours:   cfg.Memory.MidTermTTLHours,
	})
	if err != nil {
		store.Close()
		led.Close()
		return nil, err
	}

	scheduler := memory.NewScheduler(consolidator, tiers, cfg.Memory.ConsolidateSchedule)

	controller, err := epoch.NewController(epoch.ControllerConfig{
		SessionID: sessionID,
		Ledger:    led,
		Tiers:     tiers,
		MaxTurns:  cfg.Agent.MaxTurnsPerEpoch,
		ConsolidateNow: func(ctx context.Context) error {
			_, err := consolidator.RunCycle(ctx)
			return err
		},
		NotifyPressure: scheduler.NotifyPressure,
	})
	if err != nil {
		store.Close()
		led.Close()
		return nil, err
	}

	registry := tools.NewToolRegistry(cfg.Tools.Allow)
	registry.Register(tools.NewClockTool())
	registry.Register(tools.NewReadFileTool(cfg.Tools.SandboxRoots))
	registry.Register(tools.NewWebFetchTool(cfg.Tools.FetchMaxBytes))

	orch, err := New(OrchestratorConfig{
		Controller:  controller,
		Chat:        chat,
		Registry:    registry,
		Model:       cfg.Agent.Model,
		Temperature: cfg.Agent.Temperature,
		MaxTokens:   cfg.Agent.MaxTokens,
	})
	if err != nil {
		store.Close()
		led.Close()
		return nil, err
	}

	scheduler.Start(ctx)

	return &Session{
		ID:           sessionID,
		Ledger:       led,
		Store:        store,
		Tiers:        tiers,
		Consolidator: consolidator,
		Scheduler:    scheduler,
		Controller:   controller,
		Orchestrator: orch,
		Registry:     registry,
	}, nil
}

// RunTurn forwards to the orchestrator.
func (s *Session) RunTurn(ctx context.Context, userInput string) (string, error) {
	return s.Orchestrator.RunTurn(ctx, userInput)
}

// Consolidate runs one consolidation cycle on demand.
func (s *Session) Consolidate(ctx context.Context) (memory.CycleReport, error) {
	return s.Consolidator.RunCycle(ctx)
}

// Close stops the scheduler and releases all resources.
func (s *Session) Close() error {
	s.Scheduler.Stop()
	if err := s.Registry.Close(); err != nil {
		logger.WarnCF("session", "tool close failures", map[string]interface{}{"error": err.Error()})
	}
	if err := s.Store.Close(); err != nil {
		return err
	}
	return s.Ledger.Close()
}
