package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chatrelay/internal/chatwoot"
	"chatrelay/internal/config"
	"chatrelay/internal/pipeline"
	"chatrelay/internal/provider"
	"chatrelay/internal/server"
)

var (
	version = "0.1.0"
	logger  *slog.Logger
	envFile string // overridable via --env-file flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:     "chatrelay",
		Short:   "chatrelay: Chatwoot to local-LLM reply bridge",
		Long:    "chatrelay relays Chatwoot webhook events to a local Ollama endpoint and posts the generated reply back to the conversation.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&envFile, "env-file", "e", ".env", "path to the .env configuration file")

	root.AddCommand(serveCmd())
	root.AddCommand(initCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())
	root.AddCommand(generateCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newStore() *config.Store {
	return config.NewStore(envFile, logger)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook relay server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	store := newStore()
	cfg, err := store.Get()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ollama := provider.NewOllama(logger)
	platform := chatwoot.New(logger)
	pipe := pipeline.New(store, platform, ollama, platform, logger)

	srv := server.New(server.Config{Port: cfg.Port, Logger: logger}, pipe, store)

	logger.Info("chatrelay starting",
		"version", version,
		"port", cfg.Port,
		"model", cfg.Model,
		"inference_endpoint", cfg.InferenceEndpoint,
		"history_enabled", cfg.HistoryEnabled,
	)
	return srv.Start(ctx)
}

const envTemplate = `# chatrelay configuration
CHATWOOT_BASE_URL=
CHATWOOT_API_TOKEN=
CHATWOOT_ACCOUNT_ID=
OLLAMA_ENDPOINT=http://localhost:11434
LLM_MODEL=mistral
SYSTEM_MESSAGE="You are a helpful AI assistant."
PORT=5000
HISTORY_ENABLED=true
HISTORY_LIMIT=50
INFERENCE_TIMEOUT=120s
PLATFORM_TIMEOUT=15s
LOG_LEVEL=info
`

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a template .env configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(envFile); err == nil {
				return fmt.Errorf("%s already exists, refusing to overwrite", envFile)
			}
			if err := os.WriteFile(envFile, []byte(envTemplate), 0o600); err != nil {
				return err
			}
			logger.Info("initialized", "file", envFile)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the .env file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Get a config value (e.g. LLM_MODEL)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, vals, err := newStore().Values()
			if err != nil {
				return err
			}
			v, ok := vals[args[0]]
			if !ok {
				return fmt.Errorf("unknown config key: %s", args[0])
			}
			fmt.Println(v)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [key] [value]",
		Short: "Set a config value (e.g. LLM_MODEL mistral)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := newStore()
			if _, err := store.Update(map[string]string{args[0]: args[1]}); err != nil {
				return err
			}
			logger.Info("config updated", "key", args[0], "file", store.Path())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, vals, err := newStore().Values()
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Printf("%s=%s\n", k, vals[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(envFile)
		},
	})

	return cmd
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
