package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Memory   MemoryConfig   `json:"memory"`
	Tools    ToolsConfig    `json:"tools"`
	Logging  LoggingConfig  `json:"logging"`
}

type AgentConfig struct {
	Workspace        string  `json:"workspace" env:"HALCYON_AGENT_WORKSPACE"`
	DisplayName      string  `json:"display_name" env:"HALCYON_AGENT_DISPLAY_NAME"`
	Model            string  `json:"model" env:"HALCYON_AGENT_MODEL"`
	Temperature      float64 `json:"temperature" env:"HALCYON_AGENT_TEMPERATURE"`
	MaxTokens        int     `json:"max_tokens" env:"HALCYON_AGENT_MAX_TOKENS"`
	MaxTurnsPerEpoch int     `json:"max_turns_per_epoch" env:"HALCYON_AGENT_MAX_TURNS_PER_EPOCH"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"HALCYON_PROVIDER_API_KEY"`
	APIBase string `json:"api_base" env:"HALCYON_PROVIDER_API_BASE"`
}

type MemoryConfig struct {
	ContextBudgetTokens int     `json:"context_budget_tokens" env:"HALCYON_MEMORY_CONTEXT_BUDGET_TOKENS"`
	HardCapTokens       int     `json:"hard_cap_tokens" env:"HALCYON_MEMORY_HARD_CAP_TOKENS"`
	PressureFraction    float64 `json:"pressure_fraction" env:"HALCYON_MEMORY_PRESSURE_FRACTION"`
	CarryOverRecords    int     `json:"carry_over_records" env:"HALCYON_MEMORY_CARRY_OVER_RECORDS"`
	MidTermEnabled      bool    `json:"midterm_enabled" env:"HALCYON_MEMORY_MIDTERM_ENABLED"`
	MidTermTTLHours     int     `json:"midterm_ttl_hours" env:"HALCYON_MEMORY_MIDTERM_TTL_HOURS"`
	MinFactConfidence   float64 `json:"min_fact_confidence" env:"HALCYON_MEMORY_MIN_FACT_CONFIDENCE"`
	ConsolidateSchedule string  `json:"consolidate_schedule" env:"HALCYON_MEMORY_CONSOLIDATE_SCHEDULE"`
	TokenEncoding       string  `json:"token_encoding" env:"HALCYON_MEMORY_TOKEN_ENCODING"`
}

type ToolsConfig struct {
	Allow         []string `json:"allow"`
	SandboxRoots  []string `json:"sandbox_roots"`
	FetchMaxBytes int      `json:"fetch_max_bytes" env:"HALCYON_TOOLS_FETCH_MAX_BYTES"`
}

type LoggingConfig struct {
	Level string `json:"level" env:"HALCYON_LOGGING_LEVEL"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Workspace:        "~/.halcyon/workspace",
			DisplayName:      "Halcyon",
			Model:            "openai/gpt-5.2",
			Temperature:      0.7,
			MaxTokens:        8192,
			MaxTurnsPerEpoch: 8,
		},
		Provider: ProviderConfig{
			APIBase: "https://openrouter.ai/api/v1",
		},
		Memory: MemoryConfig{
			ContextBudgetTokens: 8192,
			HardCapTokens:       6144,
			PressureFraction:    0.8,
			CarryOverRecords:    0,
			MidTermEnabled:      false,
			MidTermTTLHours:     72,
			MinFactConfidence:   0.5,
			ConsolidateSchedule: "0 */6 * * *",
			TokenEncoding:       "cl100k_base",
		},
		Tools: ToolsConfig{
			Allow:         []string{"clock", "read_file"},
			SandboxRoots:  []string{},
			FetchMaxBytes: 50000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// DefaultConfigPath is where LoadConfig looks unless overridden.
func DefaultConfigPath() string {
	return expandHome("~/.halcyon/config.json")
}

func (c *Config) WorkspacePath() string {
	return expandHome(c.Agent.Workspace)
}

// StatePath returns the directory holding per-session state.
func (c *Config) StatePath() string {
	return filepath.Join(c.WorkspacePath(), "state")
}

// SessionStatePath returns the directory holding one session's ledger and
// memory database. Sessions share nothing on disk; path separators in the
// name are flattened so a session cannot escape the state directory.
func (c *Config) SessionStatePath(session string) string {
	if session == "" {
		session = "default"
	}
	session = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' {
			return '_'
		}
		return r
	}, session)
	return filepath.Join(c.StatePath(), session)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
