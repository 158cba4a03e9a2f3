package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ouroboros/pkg/config"
	"ouroboros/pkg/eventlog"
	"ouroboros/pkg/protocol"
	"ouroboros/pkg/statestore"
)

// eventFetchLimit bounds how many recent events the dashboard shows.
const eventFetchLimit = 100

// Snapshot is one consistent read of everything the dashboard renders.
// All reads are best-effort: a stopped supervisor or missing files leave
// the corresponding fields zeroed.
type Snapshot struct {
	SupervisorAlive bool
	SupervisorPID   int

	HaveState bool
	Runtime   statestore.RuntimeState
	Settings  statestore.Settings
	Queue     protocol.QueueSnapshot

	Events []eventlog.Event
}

// fetchSnapshot reads supervisor liveness, persisted state, and recent
// events from disk.
func fetchSnapshot(ctx context.Context, cfg config.Config) Snapshot {
	var snap Snapshot

	if pid, ok := readPID(cfg.PIDPath()); ok {
		snap.SupervisorPID = pid
		snap.SupervisorAlive = processAlive(pid)
	}

	if store, err := statestore.Open(cfg.StateDir()); err == nil {
		snap.Settings = statestore.DefaultSettings()
		_, _ = store.Load(statestore.KeySettings, &snap.Settings)
		if ok, err := store.Load(statestore.KeyRuntime, &snap.Runtime); err == nil && ok {
			snap.HaveState = true
		}
		_, _ = store.Load(statestore.KeyQueue, &snap.Queue)
	}

	if reader, err := eventlog.NewReader(cfg.DBPath()); err == nil {
		defer func() { _ = reader.Close() }()
		events, err := reader.Query(ctx, eventlog.QueryOpts{Limit: eventFetchLimit})
		if err == nil {
			snap.Events = events
		}
	}

	return snap
}

// queueCounts tallies the snapshot's tasks per status.
func queueCounts(snap protocol.QueueSnapshot) map[protocol.TaskStatus]int {
	counts := make(map[protocol.TaskStatus]int)
	for _, t := range snap.Tasks {
		counts[t.Status]++
	}
	return counts
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path) //nolint:gosec // PID file path is config-derived
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// staleAfter is how old a queue snapshot may be before the dashboard
// flags it.
const staleAfter = 30 * time.Second

// queueStale reports whether the persisted queue snapshot is older than
// expected for a running supervisor.
func queueStale(snap Snapshot, now time.Time) bool {
	if !snap.SupervisorAlive || snap.Queue.SavedAt.IsZero() {
		return false
	}
	return now.Sub(snap.Queue.SavedAt) > staleAfter
}
