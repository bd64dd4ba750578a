package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/atsume/internal/categorize"
	"github.com/hyperjump/atsume/internal/cli"
	"github.com/hyperjump/atsume/internal/config"
	"github.com/hyperjump/atsume/internal/embedding"
	"github.com/hyperjump/atsume/internal/fetch"
	"github.com/hyperjump/atsume/internal/pipeline"
	"github.com/hyperjump/atsume/internal/promptindex"
	"github.com/hyperjump/atsume/internal/storage"
	"github.com/hyperjump/atsume/pkg/utils"
)

var (
	version = "dev"
	commit  = "none"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	config string
	debug  bool
	output string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "atsume",
		Short:         "Collect, categorize and search image-generation prompts",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&g.config, "config", "", "config file path (default: ./config.yaml, then "+config.DefaultPath()+")")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newCollectCmd(g),
		newImportCmd(g),
		newWatchCmd(g),
		newRecategorizeCmd(g),
		newClusterCmd(g),
		newReindexCmd(g),
		newSearchCmd(g),
		newStatusCmd(g),
		newCategoriesCmd(g),
		newExportCmd(g),
		newServeCmd(g),
		newInitCmd(g),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "atsume %s (commit: %s)\n", version, commit)
		},
	}
}

// resolveConfigPath picks the config file: an explicit path, else config.yaml in the
// working directory when present, else the XDG location.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if cwd, err := os.Getwd(); err == nil {
		local := filepath.Join(cwd, "config.yaml")
		if _, err := os.Stat(local); err == nil {
			return local
		}
	}
	return config.DefaultPath()
}

// loadConfig loads the resolved config file. A missing file at the implicit location
// yields the built-in defaults; a missing explicit file is an error.
func loadConfig(explicit string) (*config.Config, string, error) {
	path := resolveConfigPath(explicit)
	cfg, err := config.Load(path)
	if err != nil {
		if explicit == "" && errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
		} else {
			return nil, "", err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

// app holds the components one command runs against.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	format     cli.OutputFormat
	store      *storage.SQLiteStorage
	index      *promptindex.BleveIndex
	embedder   embedding.Embedder
	pipeline   *pipeline.Pipeline
}

type appOptions struct {
	// embedder builds the configured embedding provider for clustering.
	embedder bool
}

func openApp(g *globalFlags, opts appOptions) (*app, error) {
	cfg, path, err := loadConfig(g.config)
	if err != nil {
		return nil, err
	}
	debug := cfg.Debug || g.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", path), zap.Bool("debug", debug))

	a := &app{cfg: cfg, configPath: path, logger: logger, format: cli.ParseFormat(g.output)}
	a.store, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Storage.IndexPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.IndexPath), 0755); err != nil {
			a.Close()
			return nil, fmt.Errorf("create index directory: %w", err)
		}
		a.index, err = promptindex.NewBleveIndex(cfg.Storage.IndexPath)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	catOpts := []categorize.Option{categorize.WithLogger(logger)}
	if opts.embedder {
		a.embedder, err = embedding.New(cfg.Embedding, embedding.WithLogger(logger))
		if err != nil {
			// Clustering degrades to noise without an embedder.
			logger.Warn("embedder unavailable", zap.String("provider", cfg.Embedding.Provider), zap.Error(err))
		} else {
			catOpts = append(catOpts, categorize.WithEmbedder(a.embedder))
		}
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithCategorizer(categorize.New(cfg.Categorize, catOpts...)),
		pipeline.WithCheckpoint(fetch.NewCheckpoint(cfg.Storage.CheckpointDir)),
	}
	if a.index != nil {
		pipeOpts = append(pipeOpts, pipeline.WithIndex(a.index))
	}
	a.pipeline = pipeline.New(cfg, a.store, nil, pipeOpts...)
	return a, nil
}

// Close releases everything openApp acquired.
func (a *app) Close() {
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.index != nil {
		_ = a.index.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// runApp opens the app, runs fn with a context cancelled on SIGINT/SIGTERM, and closes.
func runApp(cmd *cobra.Command, g *globalFlags, opts appOptions, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(g, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}
