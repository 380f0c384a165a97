package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid (dense + sparse) query against the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), strings.Join(args, " "), topK)
		},
	}
	cmd.Flags().IntVar(&topK, "top", 0, "number of hits to return (default: configured default_top_k)")
	return cmd
}

func runSearch(ctx context.Context, query string, topK int) error {
	a, closer, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closer()

	if topK <= 0 {
		topK = a.cfg.Retrieval.DefaultTopK
	}
	svc, err := a.retrievalService()
	if err != nil {
		return fmt.Errorf("build retrieval service: %w", err)
	}

	hits, err := svc.Search(ctx, query, topK)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(hits) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, h := range hits {
		fmt.Printf("%d. %s (%s) score=%.4f both=%v\n   %s:%d-%d\n", i+1, h.Name, h.Kind, h.Score, h.InBoth, h.FilePath, h.Range.Start, h.Range.End)
		if h.Snippet != "" {
			fmt.Println("   " + firstLine(h.Snippet))
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
