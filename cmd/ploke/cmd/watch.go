package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plokeai/ploke/internal/orchestrator"
	"github.com/plokeai/ploke/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the workspace and rescan/reindex on change until interrupted",
		Long: `watch starts a filesystem watcher over the workspace root. Each
batch of changes triggers a rescan of tracked files (and a discovery
pass for brand-new ones) followed by an incremental reindex. Runs
until interrupted with Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context())
		},
	}
}

func runWatch(ctx context.Context) error {
	a, closer, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closer()

	if !a.cfg.Watch.Enabled {
		return fmt.Errorf("watch mode is disabled in config (watch.enabled: false)")
	}
	debounce := time.Duration(a.cfg.Watch.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := watcher.NewHybridWatcher(watcher.Options{DebounceWindow: debounce})
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Start blocks until ctx is cancelled or the watcher is stopped, so it
	// runs beside the event loop below.
	startErr := make(chan error, 1)
	go func() { startErr <- w.Start(ctx, a.root) }()
	defer func() { _ = w.Stop() }()

	a.log.Info("watching for changes", "root", a.root, "backend", w.WatcherType())

	for {
		select {
		case <-ctx.Done():
			a.log.Info("watch stopped")
			return nil
		case err := <-startErr:
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("start watcher: %w", err)
			}
			return nil
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			a.log.Warn("watcher error", "error", err)
		case events, ok := <-w.Events():
			if !ok {
				return nil
			}
			if len(events) == 0 {
				continue
			}
			if err := reconcileOnEvents(ctx, a, events); err != nil {
				a.log.Warn("reconcile after change failed", "error", err)
			}
		}
	}
}

// reconcileOnEvents discovers any brand-new files, rescans every
// already-tracked file for content drift, and re-embeds whatever the scan
// retracted. A single pass handles the whole batch regardless of how many
// distinct paths changed, since both steps are already workspace-wide.
func reconcileOnEvents(ctx context.Context, a *app, events []watcher.FileEvent) error {
	a.log.Info("reconciling after filesystem change", "batch_size", len(events))

	discovered, err := ingestNewFiles(ctx, a)
	if err != nil {
		return fmt.Errorf("ingest new files: %w", err)
	}
	result, err := a.scanner().ScanForChange(ctx, a.namespace)
	if err != nil {
		return fmt.Errorf("scan for change: %w", err)
	}
	if discovered == 0 && len(result.Changed) == 0 {
		return nil
	}

	o := orchestrator.New(orchestrator.Config{
		Engine:    a.engine,
		Embedder:  a.embedder,
		Sparse:    a.sparse,
		Snippets:  a.snippets,
		DataDir:   a.cfg.Paths.DataDir,
		BatchSize: a.cfg.Orchestrator.BatchSize,
	})
	if err := o.IndexWorkspace(ctx, a.namespace); err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	p := o.Progress()
	a.log.Info("reindex complete", "discovered", discovered, "changed", len(result.Changed), "processed", p.RecentProcessed, "status", p.Status)
	return nil
}
