package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <path>",
		Short: "Replace the store's contents with a previously written backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd.Context(), args[0])
		},
	}
}

func runRestore(ctx context.Context, path string) error {
	a, closer, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closer()

	if err := a.engine.ImportFromBackup(ctx, path); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	fmt.Println("restored from", path)
	return nil
}
