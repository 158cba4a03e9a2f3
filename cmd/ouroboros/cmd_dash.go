package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// newDashCmd creates the "ouroboros dash" subcommand.
func newDashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Launch interactive dashboard",
		Long:  "Opens the ouroboros dashboard TUI for monitoring the queue, workers,\nbudget, and the event stream.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dashCmd := exec.CommandContext(cmd.Context(), "ouroboros-dash")
			dashCmd.Stdin = os.Stdin
			dashCmd.Stdout = os.Stdout
			dashCmd.Stderr = os.Stderr

			if err := dashCmd.Run(); err != nil {
				return fmt.Errorf("run ouroboros-dash: %w", err)
			}

			return nil
		},
	}
}
