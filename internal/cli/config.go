package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/dwarftags/internal/config"
)

// newConfigCmd creates the 'config' command and its subcommands.
func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create dwarftags configuration",
		Long: `Inspect and create dwarftags configuration.

Configuration priority (highest first):
  1. Command-line flags
  2. DWARFTAGS_* environment variables
  3. Config file (--config, or .dwarftags.yaml in the current directory)
  4. Built-in defaults`,
	}

	cmd.AddCommand(newConfigViewCmd(root))
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

// newConfigViewCmd creates the 'config view' command.
func newConfigViewCmd(root *rootOptions) *cobra.Command {
	var defaultsOnly bool

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLayeredLoader()
			if defaultsOnly {
				loader.DisableLayer(config.LayerFile)
				loader.DisableLayer(config.LayerEnv)
				loader.DisableLayer(config.LayerFlags)
			}
			cfg, err := loader.Load(root.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().BoolVar(&defaultsOnly, "defaults", false, "show the built-in defaults, ignoring every other layer")

	return cmd
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var (
		path  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(path, config.Default(), force); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return err
		},
	}

	cmd.Flags().StringVar(&path, "path", config.ProjectFile, "file to create")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}

