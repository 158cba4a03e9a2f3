package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"ouroboros/pkg/bus"
	"ouroboros/pkg/config"
	"ouroboros/pkg/eventlog"
	"ouroboros/pkg/gitops"
	"ouroboros/pkg/pool"
	"ouroboros/pkg/statestore"
	"ouroboros/pkg/supervisor"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// socketPollTimeout is the maximum time the detaching parent waits for the
// supervisor socket to appear.
const socketPollTimeout = 5 * time.Second

// socketPollInterval is how often the parent checks for the socket file.
const socketPollInterval = 50 * time.Millisecond

// newStartCmd creates the "ouroboros start" subcommand.
func newStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Launch the Ouroboros supervisor",
		Long: `Starts the supervisor daemon: the control loop, the worker pool, the
event log, and the owner bridge.

With --foreground the supervisor runs in this process. A restart request
from the owner makes the process exit with code 86; run it under a
launcher that relaunches on that code.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
				return fmt.Errorf("create data dir %s: %w", cfg.Home, err)
			}

			status, pid, err := DaemonStatus(cfg.PIDPath())
			if err != nil {
				return err
			}
			switch status {
			case StatusRunning:
				fmt.Fprintf(cmd.OutOrStdout(), "supervisor already running (PID %d)\n", pid)
				return nil
			case StatusStale:
				_ = RemovePIDFile(cfg.PIDPath())
			case StatusStopped:
			}

			if foreground {
				return runSupervisor(cmd, cfg)
			}
			return detachSupervisor(cmd, cfg)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run the supervisor in this process instead of detaching")
	return cmd
}

// detachSupervisor spawns a child running `ouroboros start --foreground`
// and waits for its socket to come up before returning.
func detachSupervisor(cmd *cobra.Command, cfg config.Config) error {
	args := []string{"start", "--foreground"}
	if flag, _ := cmd.Flags().GetString("config"); flag != "" {
		args = append(args, "--config", flag)
	}
	child := exec.CommandContext(context.Background(), os.Args[0], args...) //nolint:gosec // intentionally re-executing self
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	if err := child.Start(); err != nil {
		return fmt.Errorf("spawn supervisor: %w", err)
	}
	// Detach: the child is on its own from here.
	if err := child.Process.Release(); err != nil {
		return fmt.Errorf("release supervisor: %w", err)
	}

	deadline := time.Now().Add(socketPollTimeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(cfg.SocketPath()); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "supervisor started (socket %s)\n", cfg.SocketPath())
			return nil
		}
		time.Sleep(socketPollInterval)
	}
	return fmt.Errorf("supervisor socket not ready at %s", cfg.SocketPath())
}

// runSupervisor wires production dependencies and runs the control loop in
// the current process.
func runSupervisor(cmd *cobra.Command, cfg config.Config) error {
	if err := WritePIDFile(cfg.PIDPath(), os.Getpid()); err != nil {
		return err
	}
	ctx, cleanup := SetupSignalHandler(cmd.Context(), cfg.PIDPath())
	defer cleanup()

	store, err := statestore.Open(cfg.StateDir())
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}

	evlog, err := eventlog.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer func() { _ = evlog.Close() }()

	bridge, err := supervisor.NewFileBridge(cfg.Bridge.InboxDir, cfg.Bridge.OutboxDir, cfg.Bridge.FallbackPoll)
	if err != nil {
		return fmt.Errorf("open bridge: %w", err)
	}
	defer func() { _ = bridge.Close() }()

	// A previous crash can leave the socket file behind.
	_ = os.Remove(cfg.SocketPath())
	b := bus.New(bus.Config{})
	server, err := bus.Listen(cfg.SocketPath(), b)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer func() { _ = os.Remove(cfg.SocketPath()) }()

	workers := pool.New(pool.Config{}, pool.NewExecProcessManager(cfg.SocketPath(), cfg.Home))
	git := gitops.New(&gitops.ExecGitRunner{}, cfg.RepoDir, cfg.RescueDir())

	sup := supervisor.New(cfg, supervisor.Deps{
		Store:  store,
		Bus:    b,
		Pool:   workers,
		Git:    git,
		Log:    evlog,
		Bridge: bridge,
	})

	fmt.Fprintf(cmd.OutOrStdout(), "supervisor running (PID %d, socket %s)\n", os.Getpid(), cfg.SocketPath())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(gctx) })
	g.Go(func() error {
		// Closing the listener unblocks Serve once the loop stops.
		<-gctx.Done()
		return server.Close()
	})
	g.Go(func() error { return sup.Run(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "supervisor stopped")
	return nil
}
