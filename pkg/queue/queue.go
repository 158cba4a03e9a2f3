// Package queue holds the task queue and scheduling rules. Ordering is
// FIFO by submission; assignment respects the kinds a worker declared in
// its HELLO. The queue is the single source of truth for task status
// transitions: PENDING -> RUNNING -> DONE | FAILED | TIMED_OUT, with no
// transitions out of a terminal status.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"ouroboros/pkg/protocol"
)

// DefaultMaxPending bounds the number of queued tasks when Config leaves
// MaxPending unset.
const DefaultMaxPending = 100

// Config tunes the queue.
type Config struct {
	MaxPending  int
	SoftTimeout time.Duration
	HardTimeout time.Duration
}

// Timeout describes one task that crossed a deadline during
// EnforceTimeouts. Soft timeouts warn; hard timeouts carry the terminal
// transition and the error the supervisor should report.
type Timeout struct {
	Task protocol.Task
	Hard bool
	Err  *protocol.TimeoutError
}

// Queue is the scheduler state. Safe for concurrent use, though in
// practice all mutation happens on the supervisor goroutine.
type Queue struct {
	cfg Config

	mu         sync.Mutex
	tasks      map[string]*protocol.Task
	order      []string // submission order, pruned lazily
	softWarned map[string]bool

	nowFunc func() time.Time
}

// New creates an empty queue.
func New(cfg Config) *Queue {
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	return &Queue{
		cfg:        cfg,
		tasks:      make(map[string]*protocol.Task),
		softWarned: make(map[string]bool),
		nowFunc:    time.Now,
	}
}

// SetNowFunc overrides the queue clock (for testing).
func (q *Queue) SetNowFunc(f func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nowFunc = f
}

// Submit adds a new PENDING task and returns it with its id assigned.
// Returns *protocol.CapacityError when the pending count is at the limit.
func (q *Queue) Submit(kind protocol.TaskKind, channelID int64, input protocol.TaskInput) (protocol.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.countLocked(protocol.StatusPending)
	if pending >= q.cfg.MaxPending {
		return protocol.Task{}, &protocol.CapacityError{Pending: pending, Limit: q.cfg.MaxPending}
	}

	task := &protocol.Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		ChannelID: channelID,
		Input:     input,
		Status:    protocol.StatusPending,
		CreatedAt: q.nowFunc(),
	}
	q.tasks[task.ID] = task
	q.order = append(q.order, task.ID)
	return *task, nil
}

// Assign hands the oldest eligible PENDING task to the given worker,
// marking it RUNNING and stamping its deadlines. Returns false when no
// pending task matches the worker's kinds.
func (q *Queue) Assign(workerID string, kinds []protocol.TaskKind) (protocol.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	eligible := make(map[protocol.TaskKind]bool, len(kinds))
	for _, k := range kinds {
		eligible[k] = true
	}

	for _, id := range q.order {
		task, ok := q.tasks[id]
		if !ok || task.Status != protocol.StatusPending || !eligible[task.Kind] {
			continue
		}
		now := q.nowFunc()
		task.Status = protocol.StatusRunning
		task.WorkerID = workerID
		task.StartedAt = &now
		task.SoftDeadline = now.Add(q.cfg.SoftTimeout)
		task.HardDeadline = now.Add(q.cfg.HardTimeout)
		return *task, true
	}
	return protocol.Task{}, false
}

// Complete moves a task to a terminal status. Only the worker the task is
// currently RUNNING under may complete it: a duplicate DONE after a
// timeout, a late ERROR from an aborted worker, or a stray report for a
// task that was requeued to another owner is a no-op and returns false.
func (q *Queue) Complete(taskID, workerID string, status protocol.TaskStatus) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	task, ok := q.tasks[taskID]
	if !ok || task.Status != protocol.StatusRunning || task.WorkerID != workerID {
		return false
	}
	task.Status = status
	return true
}

// EnforceTimeouts checks every RUNNING task against its deadlines. Each
// soft-deadline crossing is reported exactly once; a hard-deadline
// crossing marks the task TIMED_OUT here so a racing DONE cannot land
// afterwards.
func (q *Queue) EnforceTimeouts() []Timeout {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.nowFunc()
	var out []Timeout
	for _, id := range q.order {
		task, ok := q.tasks[id]
		if !ok || task.Status != protocol.StatusRunning {
			continue
		}
		if now.After(task.HardDeadline) {
			task.Status = protocol.StatusTimedOut
			out = append(out, Timeout{
				Task: *task,
				Hard: true,
				Err: &protocol.TimeoutError{
					TaskID:  task.ID,
					Hard:    true,
					Elapsed: now.Sub(*task.StartedAt),
					Limit:   q.cfg.HardTimeout,
				},
			})
			continue
		}
		if now.After(task.SoftDeadline) && !q.softWarned[id] {
			q.softWarned[id] = true
			out = append(out, Timeout{
				Task: *task,
				Err: &protocol.TimeoutError{
					TaskID:  task.ID,
					Elapsed: now.Sub(*task.StartedAt),
					Limit:   q.cfg.SoftTimeout,
				},
			})
		}
	}
	return out
}

// RequeueWorker returns every RUNNING task owned by the given worker to
// PENDING. Used when a worker dies mid-task. Returns the requeued tasks.
func (q *Queue) RequeueWorker(workerID string) []protocol.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var requeued []protocol.Task
	for _, id := range q.order {
		task, ok := q.tasks[id]
		if !ok || task.Status != protocol.StatusRunning || task.WorkerID != workerID {
			continue
		}
		q.requeueLocked(task)
		requeued = append(requeued, *task)
	}
	return requeued
}

// PruneKind removes all PENDING tasks of one kind, returning how many
// were dropped. RUNNING tasks are left alone; the caller aborts those
// separately if it wants them gone.
func (q *Queue) PruneKind(kind protocol.TaskKind) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := 0
	for _, id := range q.order {
		task, ok := q.tasks[id]
		if ok && task.Status == protocol.StatusPending && task.Kind == kind {
			delete(q.tasks, id)
			dropped++
		}
	}
	if dropped > 0 {
		q.compactLocked()
	}
	return dropped
}

// Snapshot captures every non-terminal task for persistence.
func (q *Queue) Snapshot(reason string) protocol.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := protocol.QueueSnapshot{SavedAt: q.nowFunc(), Reason: reason}
	for _, id := range q.order {
		if task, ok := q.tasks[id]; ok && !task.Status.Terminal() {
			snap.Tasks = append(snap.Tasks, *task)
		}
	}
	return snap
}

// Restore loads a snapshot into an empty queue. Tasks recorded as RUNNING
// on a worker that is not in liveWorkers go back to PENDING, so work that
// died with the previous process gets rescheduled instead of hanging
// forever in a phantom RUNNING state. Returns how many tasks were
// requeued that way.
func (q *Queue) Restore(snap protocol.QueueSnapshot, liveWorkers map[string]bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	requeued := 0
	for i := range snap.Tasks {
		task := snap.Tasks[i]
		if task.Status == protocol.StatusRunning && !liveWorkers[task.WorkerID] {
			q.requeueLocked(&task)
			requeued++
		}
		t := task
		q.tasks[t.ID] = &t
		q.order = append(q.order, t.ID)
	}
	return requeued
}

// Get returns a copy of one task.
func (q *Queue) Get(taskID string) (protocol.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[taskID]
	if !ok {
		return protocol.Task{}, false
	}
	return *task, true
}

// Counts returns the number of tasks per status.
func (q *Queue) Counts() map[protocol.TaskStatus]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := make(map[protocol.TaskStatus]int)
	for _, task := range q.tasks {
		counts[task.Status]++
	}
	return counts
}

// HasActive reports whether any non-terminal task of the given kind
// exists.
func (q *Queue) HasActive(kind protocol.TaskKind) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, task := range q.tasks {
		if task.Kind == kind && !task.Status.Terminal() {
			return true
		}
	}
	return false
}

// PendingKinds returns the kinds that currently have at least one PENDING
// task, in submission order of their oldest task.
func (q *Queue) PendingKinds() []protocol.TaskKind {
	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[protocol.TaskKind]bool)
	var kinds []protocol.TaskKind
	for _, id := range q.order {
		task, ok := q.tasks[id]
		if !ok || task.Status != protocol.StatusPending || seen[task.Kind] {
			continue
		}
		seen[task.Kind] = true
		kinds = append(kinds, task.Kind)
	}
	return kinds
}

// Running returns copies of all RUNNING tasks.
func (q *Queue) Running() []protocol.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []protocol.Task
	for _, id := range q.order {
		if task, ok := q.tasks[id]; ok && task.Status == protocol.StatusRunning {
			out = append(out, *task)
		}
	}
	return out
}

func (q *Queue) requeueLocked(task *protocol.Task) {
	task.Status = protocol.StatusPending
	task.WorkerID = ""
	task.StartedAt = nil
	task.SoftDeadline = time.Time{}
	task.HardDeadline = time.Time{}
	delete(q.softWarned, task.ID)
}

func (q *Queue) countLocked(status protocol.TaskStatus) int {
	n := 0
	for _, task := range q.tasks {
		if task.Status == status {
			n++
		}
	}
	return n
}

func (q *Queue) compactLocked() {
	kept := q.order[:0]
	for _, id := range q.order {
		if _, ok := q.tasks[id]; ok {
			kept = append(kept, id)
		}
	}
	q.order = kept
}
