package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/simonyos/mcpchat/internal/agent"
	"github.com/simonyos/mcpchat/internal/api"
	"github.com/simonyos/mcpchat/internal/chat"
	"github.com/simonyos/mcpchat/internal/config"
	"github.com/simonyos/mcpchat/internal/llm"
	"github.com/simonyos/mcpchat/internal/relay"
	"github.com/simonyos/mcpchat/internal/store"
	"github.com/simonyos/mcpchat/internal/tools"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "mcpchat",
	Short: "Chat service that lets a model call tools on MCP servers",
	Long: `mcpchat streams chat completions from an OpenAI-compatible API and lets the
model call tools exposed by MCP tool servers, over stdio or HTTP.

Tools are offered to the model as server.tool. Calls arrive either as structured
tool calls or as <FunctionCallBegin>...<FunctionCallEnd> blocks in the text, and
a turn runs for at most chat.max_rounds completion rounds.

Configuration is read from --config, $MCPCHAT_CONFIG or
~/.config/mcpchat/config.yaml.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file path")
}

func loadConfig() (*config.Config, string, error) {
	path := config.ResolvePath(configFlag)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// app is the wired set of components shared by serve and chat.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.SQLiteStore
	registry  *tools.Registry
	agent     *agent.Agent
	publisher *relay.Publisher
	chat      *chat.Service
}

// openStore opens the database and seeds it with the servers named in the config.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	for _, sc := range cfg.Servers {
		if err := st.UpsertServerByName(ctx, store.ServerFromConfig(sc)); err != nil {
			st.Close()
			return nil, fmt.Errorf("seeding server %q: %w", sc.Name, err)
		}
		logger.Debug("seeded tool server", "server", sc.Name)
	}
	return st, nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(logger)
	if err := api.SyncRegistry(ctx, st, registry); err != nil {
		st.Close()
		return nil, fmt.Errorf("listing servers: %w", err)
	}

	client := llm.NewClient(cfg.APIKey(), cfg.LLM.Model, cfg.LLM.BaseURL, cfg.LLM.Timeout)
	ag := agent.New(client, registry,
		agent.WithMaxRounds(cfg.Chat.MaxRounds),
		agent.WithSystemRules(cfg.Chat.SystemPrompt),
		agent.WithLogger(logger),
	)

	a := &app{cfg: cfg, logger: logger, store: st, registry: registry, agent: ag}

	var pub chat.Publisher
	if cfg.NATS.URL != "" {
		rc := relay.DefaultConfig()
		rc.URL = cfg.NATS.URL
		rc.SubjectPrefix = cfg.NATS.SubjectPrefix
		p, err := relay.Connect(rc, logger)
		if err != nil {
			logger.Warn("relay disabled", "error", err)
		} else {
			a.publisher = p
			pub = p
		}
	}
	a.chat = chat.NewService(st, ag, pub, logger)
	return a, nil
}

func (a *app) Close() {
	a.chat.Wait()
	a.registry.Close()
	a.publisher.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}
