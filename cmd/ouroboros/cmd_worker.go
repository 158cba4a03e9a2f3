package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"ouroboros/pkg/config"
	"ouroboros/pkg/safety"
	"ouroboros/pkg/worker"

	"github.com/spf13/cobra"
)

// newWorkerCmd creates the "ouroboros worker" subcommand.
// This wraps pkg/worker into a runnable process that connects to the
// supervisor's UDS socket and executes tasks.
func newWorkerCmd() *cobra.Command {
	var socketPath string
	var workerID string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run an ouroboros worker process",
		Long: `Starts a worker that connects to the supervisor UDS socket, receives
task assignments, and executes them via the configured agent command.

This command is typically invoked by the supervisor, not by humans.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if socketPath == "" {
				return fmt.Errorf("--socket is required")
			}
			if workerID == "" {
				return fmt.Errorf("--id is required")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cfg, socketPath, workerID)
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", "", "path to supervisor UDS socket (required)")
	cmd.Flags().StringVar(&workerID, "id", "", "worker ID, e.g. worker-1 (required)")

	return cmd
}

// runWorker creates a worker instance and runs its event loop.
func runWorker(ctx context.Context, cfg config.Config, socketPath, id string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	policy, err := safety.LoadPolicy(cfg.SafetyPolicyPath())
	if err != nil {
		return fmt.Errorf("load safety policy: %w", err)
	}
	gate := safety.NewGate(
		safety.NewRuleClassifier(),
		&safety.ExecClassifier{Argv: cfg.AgentArgv},
		policy,
	)

	agent := &worker.ExecAgent{
		Argv:    cfg.AgentArgv,
		Workdir: cfg.RepoDir,
		Gate:    gate,
	}
	w, err := worker.New(id, socketPath, agent)
	if err != nil {
		return fmt.Errorf("create worker %s: %w", id, err)
	}

	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("worker %s: %w", id, err)
	}
	return nil
}
