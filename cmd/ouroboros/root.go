package main

import (
	"fmt"
	"os"
	"path/filepath"

	"ouroboros/internal/appversion"
	"ouroboros/pkg/config"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root ouroboros command with all subcommands
// attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ouroboros",
		Short:         "Ouroboros self-modifying agent supervisor",
		Long:          "ouroboros supervises a long-running autonomous agent that modifies its own code.\nIt manages the worker pool, the task queue, safety gating, and git checkpoints.",
		Version:       fmt.Sprintf("ouroboros %s (%s)", appversion.String(), appversion.Commit()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().String("config", "", "path to ouroboros.toml (default ~/.ouroboros/ouroboros.toml)")

	cmd.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newWorkerCmd(),
		newLogCmd(),
		newRollbackCmd(),
		newPromoteCmd(),
		newDashCmd(),
	)

	return cmd
}

// loadConfig resolves the --config flag and loads the configuration. A
// missing file yields the built-in defaults.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return config.Config{}, fmt.Errorf("get home dir: %w", err)
		}
		path = filepath.Join(home, ".ouroboros", "ouroboros.toml")
	}
	return config.Load(path)
}
