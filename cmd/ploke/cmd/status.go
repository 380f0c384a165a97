package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index health: tracked files, embedding backlog, active embedding set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context())
		},
	}
}

func runStatus(ctx context.Context) error {
	a, closer, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closer()

	files, err := a.engine.ListFileNodes(ctx)
	if err != nil {
		return fmt.Errorf("list file nodes: %w", err)
	}
	unembedded, err := a.engine.CountUnembeddedNonFiles(ctx)
	if err != nil {
		return fmt.Errorf("count unembedded items: %w", err)
	}
	set, ok, err := a.engine.ActiveEmbeddingSet(ctx)
	if err != nil {
		return fmt.Errorf("read active embedding set: %w", err)
	}

	fmt.Printf("root:            %s\n", a.root)
	fmt.Printf("data dir:        %s\n", a.cfg.Paths.DataDir)
	fmt.Printf("tracked files:   %d\n", len(files))
	fmt.Printf("unembedded:      %d\n", unembedded)
	if ok {
		fmt.Printf("embedding set:   provider=%s model=%s dim=%d\n", set.Provider, set.Model, set.Dimension)
	} else {
		fmt.Println("embedding set:   none")
	}
	return nil
}
