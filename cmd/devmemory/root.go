package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/devmemory/internal/config"
	"github.com/dshills/devmemory/internal/embedder"
	"github.com/dshills/devmemory/internal/memory"
	"github.com/dshills/devmemory/internal/storage"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	project string
	verbose bool
	json    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "devmemory",
		Short: "Project-scoped semantic memory for coding agents",
		Long: `devmemory keeps short issues, specs, architecture notes and updates per
project and finds them again by meaning.

The store lives at $DEVMEMORY_DB_PATH (default ~/.devmemory/memory.db). An
older vector-table store found at $DEVMEMORY_LEGACY_DB_PATH is migrated on
first start and kept as a .backup file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flags.project, "project", "", "project name (default: detected from git)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().BoolVar(&flags.json, "json", false, "print JSON")

	cmd.AddCommand(
		newServeCmd(flags),
		newMigrateCmd(flags),
		newProjectsCmd(flags),
		newSearchCmd(flags),
		newRecentCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig reads the environment and applies flag overrides
func loadConfig(flags *globalFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if flags.project != "" {
		cfg.Project = flags.project
	}
	if flags.verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	return cfg, newLogger(os.Stderr, cfg.LogLevel), nil
}

// newLogger logs to w; stdout is reserved for the MCP protocol
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// app bundles what the data commands need
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	service *memory.Service
	result  *storage.OpenResult
}

// openApp selects and opens the store, migrating a legacy store if needed,
// and builds the memory service
func openApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, logger, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	emb, err := embedder.New(cfg.ToEmbedder())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	sc := cfg.ToStorage()
	sc.Logger = logger
	if sc.WorkDir, err = os.Getwd(); err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	store, result, err := storage.Open(ctx, sc, cfg.LegacyDBPath)
	if err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if result.Stats != nil {
		logger.Info("legacy store migrated",
			"projects", result.Stats.Projects,
			"records", result.Stats.Records,
			"embeddings", result.Stats.Embeddings,
			"backup", result.BackupPath)
	}

	project, err := store.CurrentProject(ctx)
	if err == nil {
		logger.Debug("store ready", "backend", store.Backend(), "project", project.Name, "embedder", emb.Provider())
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		service: memory.NewService(store, emb, memory.Options{
			DefaultLimit: cfg.DefaultLimit,
			RecentHours:  cfg.RecentHours,
		}),
		result: result,
	}, nil
}

func (a *app) Close() error {
	return a.service.Close()
}
