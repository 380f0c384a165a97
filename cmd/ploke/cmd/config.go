package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"gopkg.in/yaml.v3"

	"github.com/plokeai/ploke/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize ploke configuration",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

func resolveRoot() (string, error) {
	root := rootDir
	if root == "" {
		root = "."
	}
	return filepath.Abs(root)
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the fully merged configuration (defaults + user + project + env)",
		RunE: func(cmd *cobra.Command, args []string) error {
			absRoot, err := resolveRoot()
			if err != nil {
				return err
			}
			cfg, err := config.Load(absRoot)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default project config to .ploke.yaml in the root",
		RunE: func(cmd *cobra.Command, args []string) error {
			absRoot, err := resolveRoot()
			if err != nil {
				return err
			}
			cfg := config.NewConfig()
			path := filepath.Join(absRoot, ".ploke.yaml")
			if err := cfg.WriteYAML(path); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}
