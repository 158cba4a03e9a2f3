package queue

import (
	"errors"
	"testing"
	"time"

	"ouroboros/pkg/protocol"
)

var (
	chatKinds = []protocol.TaskKind{protocol.KindChat, protocol.KindBackground}
	allKinds  = []protocol.TaskKind{protocol.KindChat, protocol.KindEvolution, protocol.KindReview, protocol.KindBackground}
)

// newTestQueue pins the clock so deadline math is deterministic.
func newTestQueue(cfg Config) (*Queue, *time.Time) {
	q := New(cfg)
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	q.nowFunc = func() time.Time { return now }
	return q, &now
}

func submit(t *testing.T, q *Queue, kind protocol.TaskKind, text string) protocol.Task {
	t.Helper()
	task, err := q.Submit(kind, 100, protocol.TaskInput{Text: text})
	if err != nil {
		t.Fatalf("submit %q: %v", text, err)
	}
	return task
}

func TestSubmitCapacity(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{MaxPending: 2})
	submit(t, q, protocol.KindChat, "a")
	submit(t, q, protocol.KindChat, "b")

	_, err := q.Submit(protocol.KindChat, 100, protocol.TaskInput{Text: "c"})
	var capErr *protocol.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if capErr.Pending != 2 || capErr.Limit != 2 {
		t.Errorf("CapacityError = %+v", capErr)
	}
}

func TestAssignFIFO(t *testing.T) {
	t.Parallel()

	q, now := newTestQueue(Config{SoftTimeout: 10 * time.Minute, HardTimeout: 30 * time.Minute})
	first := submit(t, q, protocol.KindChat, "first")
	submit(t, q, protocol.KindChat, "second")

	got, ok := q.Assign("w1", chatKinds)
	if !ok {
		t.Fatal("expected an assignment")
	}
	if got.ID != first.ID {
		t.Errorf("assigned %q, want oldest task %q", got.Input.Text, "first")
	}
	if got.Status != protocol.StatusRunning || got.WorkerID != "w1" {
		t.Errorf("task = %+v, want RUNNING on w1", got)
	}
	if !got.SoftDeadline.Equal(now.Add(10 * time.Minute)) {
		t.Errorf("soft deadline = %s", got.SoftDeadline)
	}
	if !got.HardDeadline.Equal(now.Add(30 * time.Minute)) {
		t.Errorf("hard deadline = %s", got.HardDeadline)
	}
}

func TestAssignRespectsKinds(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{})
	submit(t, q, protocol.KindEvolution, "evolve")
	chat := submit(t, q, protocol.KindChat, "chat")

	// A chat-only worker must skip the older evolution task.
	got, ok := q.Assign("w1", chatKinds)
	if !ok || got.ID != chat.ID {
		t.Fatalf("assigned %+v, want the chat task", got)
	}

	if _, ok := q.Assign("w1", chatKinds); ok {
		t.Error("no further chat-eligible task should be available")
	}
	if got, ok := q.Assign("w2", allKinds); !ok || got.Kind != protocol.KindEvolution {
		t.Errorf("all-kinds worker got %+v, want the evolution task", got)
	}
}

func TestCompleteIdempotent(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{})
	task := submit(t, q, protocol.KindChat, "a")
	q.Assign("w1", chatKinds)

	if !q.Complete(task.ID, "w1", protocol.StatusDone) {
		t.Fatal("first completion should apply")
	}
	if q.Complete(task.ID, "w1", protocol.StatusFailed) {
		t.Error("second completion should be a no-op")
	}
	if got, _ := q.Get(task.ID); got.Status != protocol.StatusDone {
		t.Errorf("status = %s, want done", got.Status)
	}
}

func TestCompleteRequiresRunningWorker(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{})
	task := submit(t, q, protocol.KindChat, "a")

	// Nobody owns a PENDING task; no report may complete it.
	if q.Complete(task.ID, "w1", protocol.StatusDone) {
		t.Fatal("completed a task that was never assigned")
	}

	q.Assign("w1", chatKinds)
	if q.Complete(task.ID, "w2", protocol.StatusDone) {
		t.Fatal("a worker completed a task it does not own")
	}

	// A task requeued after its worker died must shrug off the worker's
	// late report instead of jumping PENDING -> DONE.
	q.RequeueWorker("w1")
	if q.Complete(task.ID, "w1", protocol.StatusDone) {
		t.Fatal("late report completed a requeued task")
	}
	if got, _ := q.Get(task.ID); got.Status != protocol.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}

	// Reassigned, the new owner's report lands normally.
	q.Assign("w2", chatKinds)
	if !q.Complete(task.ID, "w2", protocol.StatusDone) {
		t.Error("new owner could not complete the task")
	}
}

func TestEnforceTimeouts(t *testing.T) {
	t.Parallel()

	q, now := newTestQueue(Config{SoftTimeout: 10 * time.Minute, HardTimeout: 30 * time.Minute})
	task := submit(t, q, protocol.KindChat, "slow")
	q.Assign("w1", chatKinds)

	// Before the soft deadline: nothing.
	*now = now.Add(5 * time.Minute)
	if got := q.EnforceTimeouts(); len(got) != 0 {
		t.Fatalf("premature timeouts: %+v", got)
	}

	// Past soft: exactly one warning, then silence on repeat ticks.
	*now = now.Add(6 * time.Minute)
	got := q.EnforceTimeouts()
	if len(got) != 1 || got[0].Hard {
		t.Fatalf("expected one soft timeout, got %+v", got)
	}
	if got[0].Err.Hard {
		t.Error("soft timeout error marked hard")
	}
	if again := q.EnforceTimeouts(); len(again) != 0 {
		t.Errorf("soft warning repeated: %+v", again)
	}

	// Past hard: terminal transition, and a late DONE must not apply.
	*now = now.Add(20 * time.Minute)
	got = q.EnforceTimeouts()
	if len(got) != 1 || !got[0].Hard {
		t.Fatalf("expected one hard timeout, got %+v", got)
	}
	if q.Complete(task.ID, "w1", protocol.StatusDone) {
		t.Error("completion applied after hard timeout")
	}
	if final, _ := q.Get(task.ID); final.Status != protocol.StatusTimedOut {
		t.Errorf("status = %s, want timed_out", final.Status)
	}
}

func TestRequeueWorker(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{})
	task := submit(t, q, protocol.KindChat, "a")
	other := submit(t, q, protocol.KindChat, "b")
	q.Assign("w1", chatKinds)
	q.Assign("w2", chatKinds)

	requeued := q.RequeueWorker("w1")
	if len(requeued) != 1 || requeued[0].ID != task.ID {
		t.Fatalf("requeued %+v", requeued)
	}
	if got, _ := q.Get(task.ID); got.Status != protocol.StatusPending || got.WorkerID != "" || got.StartedAt != nil {
		t.Errorf("requeued task = %+v, want clean PENDING", got)
	}
	if got, _ := q.Get(other.ID); got.Status != protocol.StatusRunning {
		t.Errorf("unrelated task disturbed: %+v", got)
	}
}

func TestPruneKind(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{})
	submit(t, q, protocol.KindEvolution, "e1")
	running := submit(t, q, protocol.KindEvolution, "e2")
	chat := submit(t, q, protocol.KindChat, "c1")
	// e1 is older, so an all-kinds worker picks it up and e2 stays pending.
	q.Assign("w1", allKinds)

	if dropped := q.PruneKind(protocol.KindEvolution); dropped != 1 {
		t.Fatalf("dropped = %d, want 1 (only the pending evolution task)", dropped)
	}
	if _, ok := q.Get(running.ID); !ok {
		t.Error("pending evolution task should be the one pruned")
	}
	if _, ok := q.Get(chat.ID); !ok {
		t.Error("chat task should survive pruning")
	}
}

func TestSnapshotExcludesTerminal(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(Config{})
	keep := submit(t, q, protocol.KindChat, "keep")
	done := submit(t, q, protocol.KindChat, "done")
	q.Assign("w1", chatKinds) // takes "keep", the oldest
	q.Assign("w2", chatKinds) // takes "done"
	q.Complete(done.ID, "w2", protocol.StatusFailed)

	snap := q.Snapshot("restart")
	if len(snap.Tasks) != 1 || snap.Tasks[0].ID != keep.ID {
		t.Fatalf("snapshot = %+v, want only the running task", snap.Tasks)
	}
	if snap.Reason != "restart" {
		t.Errorf("reason = %q", snap.Reason)
	}
}

func TestRestoreRequeuesOrphans(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 8, 29, 11, 0, 0, 0, time.UTC)
	snap := protocol.QueueSnapshot{
		SavedAt: started.Add(time.Minute),
		Reason:  "crash",
		Tasks: []protocol.Task{
			{ID: "t-pending", Kind: protocol.KindChat, Status: protocol.StatusPending, CreatedAt: started},
			{ID: "t-orphan", Kind: protocol.KindChat, Status: protocol.StatusRunning, WorkerID: "w-dead", StartedAt: &started, CreatedAt: started},
			{ID: "t-alive", Kind: protocol.KindChat, Status: protocol.StatusRunning, WorkerID: "w-live", StartedAt: &started, CreatedAt: started},
		},
	}

	q, _ := newTestQueue(Config{})
	if requeued := q.Restore(snap, map[string]bool{"w-live": true}); requeued != 1 {
		t.Fatalf("requeued = %d, want 1", requeued)
	}
	if got, _ := q.Get("t-orphan"); got.Status != protocol.StatusPending || got.WorkerID != "" || got.StartedAt != nil {
		t.Errorf("orphan = %+v, want clean PENDING", got)
	}
	if got, _ := q.Get("t-alive"); got.Status != protocol.StatusRunning || got.WorkerID != "w-live" {
		t.Errorf("alive task = %+v, want RUNNING on w-live", got)
	}
	if got, _ := q.Get("t-pending"); got.Status != protocol.StatusPending {
		t.Errorf("pending task = %+v", got)
	}

	// Restored pending tasks keep their submission order.
	first, ok := q.Assign("w1", chatKinds)
	if !ok || first.ID != "t-pending" {
		t.Errorf("first assignment = %+v, want t-pending", first)
	}
}
