package main

import (
	"fmt"

	"ouroboros/pkg/gitops"

	"github.com/spf13/cobra"
)

// newRollbackCmd creates the "ouroboros rollback" subcommand.
func newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <commit-or-tag>",
		Short: "Hard-reset the agent's branch to a known-good commit",
		Long: `Checks out the development branch and resets it to the given target.
Uncommitted changes are first written to a rescue patch outside the
repository, so nothing is silently lost.

Stop the supervisor before rolling back; workers mid-task will otherwise
be writing into the tree you are resetting.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if status, pid, err := DaemonStatus(cfg.PIDPath()); err == nil && status == StatusRunning {
				return fmt.Errorf("supervisor is running (PID %d); stop it before rolling back", pid)
			}

			mgr := gitops.New(&gitops.ExecGitRunner{}, cfg.RepoDir, cfg.RescueDir())
			cp, err := mgr.RescueAndReset(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "reset %s to %s (was %s)\n", cp.Branch, args[0], shortSHA(cp.SHA))
			if cp.RescuePath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "uncommitted changes rescued to %s\n", cp.RescuePath)
			}
			return nil
		},
	}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
