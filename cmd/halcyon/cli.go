package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/halcyonai/halcyon/pkg/bus"
	"github.com/halcyonai/halcyon/pkg/config"
	"github.com/halcyonai/halcyon/pkg/ledger"
	"github.com/halcyonai/halcyon/pkg/logger"
	"github.com/halcyonai/halcyon/pkg/memory"
	"github.com/halcyonai/halcyon/pkg/orchestrator"
	"github.com/halcyonai/halcyon/pkg/provider"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool
	var configPath string

	root := &cobra.Command{
		Use:   appName,
		Short: "Epoch-based companion runtime with a durable ledger and tiered memory",
		Long: strings.TrimSpace(`halcyon runs chat sessions as atomic epochs: every exchange either
commits to an append-only ledger and the memory tiers, or aborts without
a trace. A background sleep cycle distills the short-term window into
long-term facts.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("%s %s\n", appName, formatVersion())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version metadata")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "Path to config file")

	root.AddCommand(newInitCommand(&configPath))
	root.AddCommand(newChatCommand(&configPath))
	root.AddCommand(newConsolidateCommand(&configPath))
	root.AddCommand(newReplayCommand(&configPath))
	root.AddCommand(newFactsCommand(&configPath))
	root.AddCommand(newIdentityCommand(&configPath))
	root.AddCommand(newStatusCommand(&configPath))
	return root
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	return cfg, nil
}

func newInitCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:     "init",
		Short:   "Write a default config and create the workspace",
		Example: "  halcyon init",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(*configPath); err == nil {
				return fmt.Errorf("config already exists at %s", *configPath)
			}
			cfg := config.DefaultConfig()
			if err := config.SaveConfig(*configPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.StatePath(), 0o755); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\nWorkspace: %s\n", *configPath, cfg.WorkspacePath())
			fmt.Println("Set HALCYON_PROVIDER_API_KEY or provider.api_key to enable chat.")
			return nil
		},
	}
}

func newChatCommand(configPath *string) *cobra.Command {
	var (
		message string
		session string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run an interactive session, or send a one-shot message",
		Example: strings.Join([]string{
			"  halcyon chat",
			"  halcyon chat --session evening",
			"  halcyon chat --message \"what did we talk about yesterday?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if debug {
				logger.SetLevel(logger.LevelDebug)
			}

			chat, err := provider.NewFromConfig(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sess, err := orchestrator.NewSession(ctx, cfg, session, chat)
			if err != nil {
				return err
			}
			defer sess.Close()

			if strings.TrimSpace(message) != "" {
				reply, err := sess.RunTurn(ctx, message)
				if err != nil {
					return err
				}
				fmt.Println(reply)
				return nil
			}
			return interactiveMode(ctx, sess, cfg.Agent.DisplayName)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot prompt; exits after the reply")
	cmd.Flags().StringVarP(&session, "session", "s", "default", "Session name for continuity")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// interactiveMode runs the REPL. Input flows over the bus to a worker
// goroutine so a slow epoch never blocks Ctrl-C handling.
func interactiveMode(ctx context.Context, sess *orchestrator.Session, displayName string) error {
	mb := bus.NewMessageBus()
	defer mb.Close()

	go func() {
		for {
			msg, ok := mb.ConsumeInbound(ctx)
			if !ok {
				return
			}
			reply, err := sess.RunTurn(ctx, msg.Content)
			mb.PublishOutbound(bus.OutboundMessage{
				SessionID: msg.SessionID,
				Content:   reply,
				Err:       err,
			})
		}
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".halcyon_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		mb.PublishInbound(bus.InboundMessage{SessionID: sess.ID, Content: input})
		out, ok := mb.SubscribeOutbound(ctx)
		if !ok {
			return nil
		}
		if out.Err != nil {
			fmt.Printf("Error: %v\n", out.Err)
			continue
		}
		fmt.Printf("\n%s: %s\n\n", displayName, out.Content)
	}
}

func newConsolidateCommand(configPath *string) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:     "consolidate",
		Short:   "Run one sleep cycle now",
		Example: "  halcyon consolidate --session evening",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			sess, err := orchestrator.NewSession(ctx, cfg, session, unreachableProvider{})
			if err != nil {
				return err
			}
			defer sess.Close()

			report, err := sess.Consolidate(ctx)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(report, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "default", "Session to consolidate")
	return cmd
}

func newReplayCommand(configPath *string) *cobra.Command {
	var (
		from    int64
		session string
	)

	cmd := &cobra.Command{
		Use:     "replay",
		Short:   "Print the active ledger records in commit order",
		Example: "  halcyon replay --from 10",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			led, err := ledger.Open(filepath.Join(cfg.SessionStatePath(session), "ledger.jsonl"))
			if err != nil {
				return err
			}
			defer led.Close()

			records, err := led.ReplayFrom(from)
			if err != nil {
				return err
			}
			for _, rec := range records {
				line, _ := json.Marshal(rec)
				fmt.Println(string(line))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "First sequence number to print")
	cmd.Flags().StringVarP(&session, "session", "s", "default", "Session whose ledger to read")
	return cmd
}

func newFactsCommand(configPath *string) *cobra.Command {
	var (
		limit   int
		session string
	)

	cmd := &cobra.Command{
		Use:     "facts",
		Short:   "List long-term facts",
		Example: "  halcyon facts --limit 20",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := memory.NewSQLiteStore(filepath.Join(cfg.SessionStatePath(session), "memory.db"))
			if err != nil {
				return err
			}
			defer store.Close()

			facts, err := store.ReadFacts(context.Background(), limit)
			if err != nil {
				return err
			}
			if len(facts) == 0 {
				fmt.Println("No facts yet.")
				return nil
			}
			for _, f := range facts {
				fmt.Printf("[%s] %s  (confidence %.2f, key %s)\n", f.Kind, f.Content, f.Confidence, f.Key)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum facts to list")
	cmd.Flags().StringVarP(&session, "session", "s", "default", "Session whose facts to list")
	return cmd
}

func newIdentityCommand(configPath *string) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:     "identity",
		Short:   "Show the identity record",
		Example: "  halcyon identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := memory.NewSQLiteStore(filepath.Join(cfg.SessionStatePath(session), "memory.db"))
			if err != nil {
				return err
			}
			defer store.Close()

			identity, err := store.ReadIdentity(context.Background())
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(identity, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "default", "Session whose identity to show")
	return cmd
}

func newStatusCommand(configPath *string) *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Show ledger and memory tier status",
		Example: "  halcyon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx := context.Background()
			sess, err := orchestrator.NewSession(ctx, cfg, session, unreachableProvider{})
			if err != nil {
				return err
			}
			defer sess.Close()

			checkpoint, err := sess.Store.Checkpoint(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Ledger last seq:     %d\n", sess.Ledger.LastSeq())
			fmt.Printf("Consolidated up to:  %d\n", checkpoint)
			fmt.Printf("Short-term records:  %d\n", sess.Tiers.ShortTermLen())
			fmt.Printf("Short-term tokens:   %d / %d\n", sess.Tiers.UsedTokens(), sess.Tiers.HardCap())
			fmt.Printf("Token pressure:      %s\n", sess.Tiers.TokenPressure())
			fmt.Printf("Controller state:    %s\n", sess.Controller.State())
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", "default", "Session to inspect")
	return cmd
}

// unreachableProvider backs maintenance commands that never chat.
type unreachableProvider struct{}

func (unreachableProvider) Chat(ctx context.Context, messages []provider.Message, model string, options map[string]interface{}) (*provider.Response, error) {
	return nil, fmt.Errorf("no chat provider configured for this command")
}
