package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <path>",
		Short: "Write a full copy of the store to path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd.Context(), args[0])
		},
	}
}

func runBackup(ctx context.Context, path string) error {
	a, closer, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closer()

	if err := a.engine.BackupTo(ctx, path); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	fmt.Println("wrote", path)
	return nil
}
