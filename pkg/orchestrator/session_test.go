package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/halcyonai/halcyon/pkg/config"
)

func testSessionConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Agent.Workspace = t.TempDir()
	cfg.Memory.TokenEncoding = "nonexistent-encoding-for-tests"
	return cfg
}

func TestSessionsAreIsolatedOnDisk(t *testing.T) {
	cfg := testSessionConfig(t)
	ctx := context.Background()

	alpha, err := NewSession(ctx, cfg, "alpha", &scriptedChat{
		responses: []string{`{"tool_calls": [], "final_response": "hello alpha"}`},
	})
	if err != nil {
		t.Fatalf("new session alpha: %v", err)
	}
	if _, err := alpha.RunTurn(ctx, "hi"); err != nil {
		t.Fatalf("alpha turn: %v", err)
	}
	if err := alpha.Close(); err != nil {
		t.Fatalf("close alpha: %v", err)
	}

	beta, err := NewSession(ctx, cfg, "beta", &scriptedChat{})
	if err != nil {
		t.Fatalf("new session beta: %v", err)
	}
	defer beta.Close()

	// Nothing of alpha's history leaks into beta.
	if got := beta.Ledger.LastSeq(); got != 0 {
		t.Fatalf("beta ledger starts at seq %d", got)
	}
	if got := beta.Tiers.ShortTermLen(); got != 0 {
		t.Fatalf("beta short-term window has %d records", got)
	}

	// Each session owns its own files under the state directory.
	for _, name := range []string{"alpha", "beta"} {
		path := filepath.Join(cfg.SessionStatePath(name), "ledger.jsonl")
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing per-session ledger %s: %v", path, err)
		}
	}
	if cfg.SessionStatePath("alpha") == cfg.SessionStatePath("beta") {
		t.Fatal("sessions share a state directory")
	}
}

func TestSessionRehydratesItsOwnLedger(t *testing.T) {
	cfg := testSessionConfig(t)
	ctx := context.Background()

	first, err := NewSession(ctx, cfg, "alpha", &scriptedChat{
		responses: []string{`{"tool_calls": [], "final_response": "noted"}`},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := first.RunTurn(ctx, "remember the garden"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := NewSession(ctx, cfg, "alpha", &scriptedChat{})
	if err != nil {
		t.Fatalf("reopen session: %v", err)
	}
	defer second.Close()

	if got := second.Tiers.ShortTermLen(); got != 1 {
		t.Fatalf("expected 1 rehydrated record, got %d", got)
	}
	if got := second.Tiers.ShortTermRecords()[0].UserInput; got != "remember the garden" {
		t.Fatalf("wrong record rehydrated: %q", got)
	}
}

func TestSessionNameCannotEscapeStateDir(t *testing.T) {
	cfg := testSessionConfig(t)

	path := cfg.SessionStatePath("../outside")
	rel, err := filepath.Rel(cfg.StatePath(), path)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) >= 2 && rel[:2] == ".." {
		t.Fatalf("session path escapes state dir: %s", path)
	}
}
