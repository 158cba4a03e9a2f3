package main

import (
	"fmt"

	"ouroboros/pkg/gitops"
	"ouroboros/pkg/protocol"

	"github.com/spf13/cobra"
)

// newPromoteCmd creates the "ouroboros promote" subcommand.
func newPromoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote",
		Short: "Mark the current development tip as the stable baseline",
		Long:  "Force-updates the stable branch to the development branch tip.\nRollbacks target the stable branch, so promote after verifying a good state.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			mgr := gitops.New(&gitops.ExecGitRunner{}, cfg.RepoDir, cfg.RescueDir())
			updated, sha, err := mgr.Promote(cmd.Context())
			if err != nil {
				return err
			}
			if !updated {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already at %s, nothing to promote\n",
					protocol.BranchStable, shortSHA(sha))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", protocol.BranchStable, shortSHA(sha))
			return nil
		},
	}
}
