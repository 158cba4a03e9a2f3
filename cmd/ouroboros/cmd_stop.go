package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStopCmd creates the "ouroboros stop" subcommand.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Graceful shutdown of the supervisor",
		Long:  "Sends SIGTERM to the supervisor. Queued work is persisted before it exits\nand restored on the next start.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			status, pid, err := DaemonStatus(cfg.PIDPath())
			if err != nil {
				return err
			}

			switch status {
			case StatusStopped:
				fmt.Fprintln(cmd.OutOrStdout(), "supervisor is not running")
				return nil
			case StatusStale:
				fmt.Fprintln(cmd.OutOrStdout(), "removing stale PID file (process already dead)")
				return RemovePIDFile(cfg.PIDPath())
			case StatusRunning:
				fmt.Fprintf(cmd.OutOrStdout(), "sending SIGTERM to supervisor (PID %d)\n", pid)
				if err := StopDaemon(cfg.PIDPath()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "stop signal sent")
				return nil
			}

			return nil
		},
	}
}
