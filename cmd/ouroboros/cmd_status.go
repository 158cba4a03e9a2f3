package main

import (
	"fmt"

	"ouroboros/pkg/statestore"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the "ouroboros status" subcommand.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show supervisor health and session state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			status, pid, err := DaemonStatus(cfg.PIDPath())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch status {
			case StatusRunning:
				fmt.Fprintf(out, "supervisor: running (PID %d)\n", pid)
			case StatusStale:
				fmt.Fprintf(out, "supervisor: stale PID file (PID %d is dead)\n", pid)
			case StatusStopped:
				fmt.Fprintln(out, "supervisor: stopped")
			}
			fmt.Fprintf(out, "home:   %s\n", cfg.Home)
			fmt.Fprintf(out, "socket: %s\n", cfg.SocketPath())

			// Best-effort peek at the persisted session; absent state just
			// means the supervisor has never run here.
			store, err := statestore.Open(cfg.StateDir())
			if err != nil {
				return nil //nolint:nilerr // status stays useful without state
			}
			var rt statestore.RuntimeState
			if ok, err := store.Load(statestore.KeyRuntime, &rt); err != nil || !ok {
				return nil //nolint:nilerr
			}
			fmt.Fprintf(out, "session: %s (started %s)\n", rt.SessionID, rt.StartedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "branch:  %s\n", rt.Branch)
			fmt.Fprintf(out, "spent:   $%.2f\n", rt.SpentUSD)
			fmt.Fprintf(out, "evolution: %s, background: %s\n", onOffWord(rt.EvolutionEnabled), onOffWord(rt.BackgroundEnabled))
			return nil
		},
	}
}

func onOffWord(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
