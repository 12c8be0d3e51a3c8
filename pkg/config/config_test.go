package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Memory.HardCapTokens != 6144 {
		t.Fatalf("expected default hard cap, got %d", cfg.Memory.HardCapTokens)
	}
	if cfg.Memory.MidTermEnabled {
		t.Fatal("mid-term must default off")
	}
	if cfg.Agent.MaxTurnsPerEpoch <= 0 {
		t.Fatal("expected positive turn limit default")
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"memory": {"hard_cap_tokens": 1234, "midterm_enabled": true}, "agent": {"display_name": "Aria"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Memory.HardCapTokens != 1234 {
		t.Fatalf("file override ignored: %d", cfg.Memory.HardCapTokens)
	}
	if !cfg.Memory.MidTermEnabled {
		t.Fatal("midterm_enabled override ignored")
	}
	if cfg.Agent.DisplayName != "Aria" {
		t.Fatalf("display name override ignored: %q", cfg.Agent.DisplayName)
	}
	// Untouched sections keep their defaults.
	if cfg.Memory.PressureFraction != 0.8 {
		t.Fatalf("unrelated default lost: %v", cfg.Memory.PressureFraction)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"memory": {"hard_cap_tokens": 1234}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("HALCYON_MEMORY_HARD_CAP_TOKENS", "999")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Memory.HardCapTokens != 999 {
		t.Fatalf("env override ignored: %d", cfg.Memory.HardCapTokens)
	}
}

func TestStatePathUnderWorkspace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Agent.Workspace = "/srv/halcyon"
	if got := cfg.StatePath(); got != filepath.Join("/srv/halcyon", "state") {
		t.Fatalf("unexpected state path: %s", got)
	}
}
