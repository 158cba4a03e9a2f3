package main

import (
	"fmt"
	"time"

	"ouroboros/pkg/eventlog"

	"github.com/spf13/cobra"
)

// newLogCmd creates the "ouroboros log" subcommand.
func newLogCmd() *cobra.Command {
	var (
		workerID  string
		taskID    string
		eventType string
		limit     int
		since     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Query the supervisor event log",
		Long:  "Reads the durable event log (read-only, safe while the supervisor runs)\nand prints matching events, newest first.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			reader, err := eventlog.NewReader(cfg.DBPath())
			if err != nil {
				return err
			}
			defer func() { _ = reader.Close() }()

			opts := eventlog.QueryOpts{
				WorkerID:  workerID,
				TaskID:    taskID,
				EventType: eventType,
				Limit:     limit,
			}
			if since > 0 {
				after := time.Now().Add(-since)
				opts.After = &after
			}

			events, err := reader.Query(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no events")
				return nil
			}
			for _, e := range events {
				line := fmt.Sprintf("%s  %-18s %-10s", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Type, e.Source)
				if e.TaskID != "" {
					line += " task=" + e.TaskID
				}
				if e.WorkerID != "" {
					line += " worker=" + e.WorkerID
				}
				if e.Payload != "" {
					line += "  " + e.Payload
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workerID, "worker", "", "filter by worker ID")
	cmd.Flags().StringVar(&taskID, "task", "", "filter by task ID")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type, e.g. task_done")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of events")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this, e.g. 2h")

	return cmd
}
