// Package cmd provides the CLI commands for the ploke indexer.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/google/uuid"

	"github.com/plokeai/ploke/internal/bm25svc"
	"github.com/plokeai/ploke/internal/changescan"
	"github.com/plokeai/ploke/internal/codeitem"
	"github.com/plokeai/ploke/internal/config"
	"github.com/plokeai/ploke/internal/embedprovider"
	"github.com/plokeai/ploke/internal/heuristicparse"
	"github.com/plokeai/ploke/internal/obslog"
	"github.com/plokeai/ploke/internal/retrieval"
	"github.com/plokeai/ploke/internal/snippet"
	"github.com/plokeai/ploke/internal/store"
	"github.com/plokeai/ploke/pkg/version"
)

var rootDir string

// NewRootCmd creates the root command for the ploke CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ploke",
		Short: "Local-first hybrid code search over a code graph",
		Long: `ploke indexes a codebase into a local store combining dense (vector)
and sparse (BM25) search, fused with reciprocal rank fusion, and answers
natural-language queries over it.`,
		Version: version.Version,
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate("ploke version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&rootDir, "root", "", "project root (default: current directory)")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newRestoreCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// app bundles the collaborators every subcommand wires together: config,
// logger, store engine, embedding provider, sparse index, snippet reader,
// and this workspace's crate namespace.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	engine    store.Engine
	embedder  embedprovider.Embedder
	sparse    *bm25svc.Service
	snippets  *snippet.Reader
	root      string
	namespace uuid.UUID
}

// openApp loads config, sets up logging, opens the store and its
// embedding set, and starts the sparse index actor. Callers must call the
// returned closer once done (it closes the engine and the sparse actor).
func openApp(ctx context.Context) (*app, func(), error) {
	root := rootDir
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve working directory: %w", err)
		}
		root = wd
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve root: %w", err)
	}

	cfg, err := config.Load(absRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	logCfg := obslog.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.WriteToStderr = cfg.Logging.WriteToStderr
	if cfg.Logging.FilePath != "" {
		logCfg.FilePath = cfg.Logging.FilePath
	}
	if cfg.Logging.MaxSizeMB != 0 {
		logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	}
	if cfg.Logging.MaxFiles != 0 {
		logCfg.MaxFiles = cfg.Logging.MaxFiles
	}
	logger, loggingCleanup, err := obslog.Setup(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("setup logging: %w", err)
	}
	slog.SetDefault(logger)

	dbPath := filepath.Join(cfg.Paths.DataDir, "ploke.db")
	engine, err := store.OpenSQLiteEngine(dbPath)
	if err != nil {
		loggingCleanup()
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	embedder, err := embedprovider.New(embedprovider.Config{
		Provider:          cfg.Provider.Provider,
		Model:             cfg.Provider.Model,
		Dimensions:        cfg.Provider.Dimensions,
		RequestDimensions: cfg.Provider.RequestDimensions,
		InputType:         cfg.Provider.InputType,
		BaseURL:           cfg.Provider.BaseURL,
		APIKey:            os.Getenv("PLOKE_API_KEY"),
		MaxInFlight:       cfg.Provider.MaxInFlight,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		MaxAttempts:       cfg.Provider.MaxAttempts,
		InitialBackoffMs:  cfg.Provider.InitialBackoffMs,
		MaxBackoffMs:      cfg.Provider.MaxBackoffMs,
		TimeoutSecs:       cfg.Provider.TimeoutSecs,
	})
	if err != nil {
		_ = engine.Close()
		loggingCleanup()
		return nil, nil, fmt.Errorf("build embedder: %w", err)
	}

	set := codeitemEmbeddingSet(cfg, embedder)
	if err := engine.EnsureEmbeddingSetRelation(ctx); err != nil {
		_ = engine.Close()
		loggingCleanup()
		return nil, nil, fmt.Errorf("ensure embedding set relation: %w", err)
	}
	if err := engine.PutEmbeddingSet(ctx, set); err != nil {
		_ = engine.Close()
		loggingCleanup()
		return nil, nil, fmt.Errorf("put embedding set: %w", err)
	}
	if err := engine.EnsureVectorEmbeddingRelation(ctx, set); err != nil {
		_ = engine.Close()
		loggingCleanup()
		return nil, nil, fmt.Errorf("ensure vector relation: %w", err)
	}

	sparse := bm25svc.Start(ctx, 1.0)

	namespace := uuid.NewSHA1(uuid.Nil, []byte(absRoot))
	if err := engine.EnsureCrate(ctx, store.CrateInfo{ID: namespace, Name: filepath.Base(absRoot), Root: absRoot}); err != nil {
		sparse.Close()
		_ = engine.Close()
		loggingCleanup()
		return nil, nil, fmt.Errorf("ensure crate: %w", err)
	}

	a := &app{
		cfg:       cfg,
		log:       obslog.Component(logger, "cmd"),
		engine:    engine,
		embedder:  embedder,
		sparse:    sparse,
		snippets:  snippet.NewReader(snippet.WithRoots([]string{absRoot})),
		root:      absRoot,
		namespace: namespace,
	}

	closer := func() {
		sparse.Close()
		_ = engine.Close()
		loggingCleanup()
	}
	return a, closer, nil
}

// codeitemEmbeddingSet derives the active embedding set from the
// constructed embedder rather than trusting cfg alone, so a provider that
// rounds or rejects the requested dimension still gets recorded
// correctly.
func codeitemEmbeddingSet(cfg *config.Config, embedder embedprovider.Embedder) codeitem.EmbeddingSet {
	return codeitem.EmbeddingSet{
		Provider:  cfg.Provider.Provider,
		Model:     embedder.ModelName(),
		Dimension: embedder.Dimensions(),
	}
}

func (a *app) scanner() *changescan.Scanner {
	return changescan.New(a.engine, heuristicparse.New())
}

func (a *app) retrievalService() (*retrieval.Service, error) {
	return retrieval.New(retrieval.Config{
		Engine:    a.engine,
		Embedder:  a.embedder,
		Sparse:    a.sparse,
		Snippets:  a.snippets,
		CacheSize: a.cfg.Retrieval.QueryCacheSize,
	})
}
