package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plokeai/ploke/internal/orchestrator"
)

func newScanCmd() *cobra.Command {
	var reindex bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Rescan tracked files for content changes and reconcile the graph",
		Long: `scan recomputes the tracking hash of every file the store already
knows about. Any file whose content changed has its items reparsed and
its stale embeddings retracted; run 'ploke index' afterward (or pass
--reindex) to re-embed them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), reindex)
		},
	}
	cmd.Flags().BoolVar(&reindex, "reindex", false, "immediately re-embed any retracted items")
	return cmd
}

func runScan(ctx context.Context, reindex bool) error {
	a, closer, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closer()

	result, err := a.scanner().ScanForChange(ctx, a.namespace)
	if err != nil {
		return fmt.Errorf("scan for change: %w", err)
	}
	fmt.Printf("changed files: %d\n", len(result.Changed))
	for _, rec := range result.Changed {
		fmt.Printf("  - file=%s new_hash=%s\n", rec.FileID, rec.NewHash)
	}

	if !reindex || len(result.Changed) == 0 {
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
		return fmt.Errorf("reindex after scan: %w", err)
	}
	p := o.Progress()
	fmt.Printf("reindex status=%s processed=%d\n", p.Status, p.RecentProcessed)
	return nil
}
