// Package supervisor is the Ouroboros control loop. A single goroutine
// owns all mutable state and advances it in fixed-order ticks: drain the
// owner bridge, drain the worker bus, reap the dead, refill the pool,
// assign work, enforce deadlines, run the background consciousness, and
// persist. Everything else in the process (socket server, bridge watcher,
// worker reapers) only feeds queues this loop drains.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ouroboros/pkg/bus"
	"ouroboros/pkg/config"
	"ouroboros/pkg/eventlog"
	"ouroboros/pkg/gitops"
	"ouroboros/pkg/pool"
	"ouroboros/pkg/protocol"
	"ouroboros/pkg/queue"
	"ouroboros/pkg/statestore"
)

// Stop sentinels returned by Run. The start command maps them to process
// exit codes: a restart exits with protocol.RestartExitCode so the outer
// launcher relaunches, a panic exits 1.
var (
	ErrRestartRequested = errors.New("restart requested")
	ErrPanicRequested   = errors.New("panic shutdown requested")
)

// persistEvery bounds how often runtime state and the queue snapshot hit
// disk during normal operation.
const persistEvery = 5 * time.Second

// pruneEvery is how often old event log rows are cleared out.
const pruneEvery = 24 * time.Hour

// evolutionCooldown is the minimum gap between self-seeded evolution
// tasks while evolution is enabled.
const evolutionCooldown = 10 * time.Minute

// Deps are the supervisor's collaborators. cmd/ouroboros wires production
// implementations; tests substitute fakes and drive tick directly.
type Deps struct {
	Store  *statestore.Store
	Bus    *bus.Bus
	Pool   *pool.Manager
	Git    *gitops.Manager
	Log    *eventlog.Log // optional; nil disables the durable event log
	Bridge Bridge
}

// Supervisor owns all mutable state. None of its methods are safe for
// concurrent use; Run is the only intended caller.
type Supervisor struct {
	cfg      config.Config
	settings statestore.Settings
	runtime  statestore.RuntimeState
	deps     Deps
	queue    *queue.Queue
	bg       *BackgroundConsciousness

	stopErr       error
	budgetHit     bool
	lastPersist   time.Time
	lastPrune     time.Time
	lastEvolution time.Time
	restoredTasks int
	starvedKinds  map[protocol.TaskKind]bool

	nowFunc func() time.Time
}

// New creates a Supervisor. Settings come from the state store during
// bootstrap; cfg covers the static side.
func New(cfg config.Config, deps Deps) *Supervisor {
	return &Supervisor{
		cfg:          cfg,
		deps:         deps,
		bg:           NewBackgroundConsciousness(0),
		starvedKinds: make(map[protocol.TaskKind]bool),
		nowFunc:      time.Now,
	}
}

// Run bootstraps state and ticks until ctx is cancelled or an owner
// command stops the loop. The returned error is nil for a clean stop,
// ErrRestartRequested, or ErrPanicRequested.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.bootstrap(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown(ctx, true, "signal")
			return nil
		case <-ticker.C:
			s.tick(ctx)
			if s.stopErr != nil {
				graceful := !errors.Is(s.stopErr, ErrPanicRequested)
				s.shutdown(ctx, graceful, s.stopErr.Error())
				return s.stopErr
			}
		}
	}
}

// bootstrap loads persisted state and rebuilds the queue. Corrupt
// documents fall back to defaults with an error event; a corrupt queue
// snapshot loses queued tasks but never blocks startup.
func (s *Supervisor) bootstrap(ctx context.Context) error {
	now := s.nowFunc()

	s.settings = statestore.DefaultSettings()
	loadedSettings, err := s.deps.Store.Load(statestore.KeySettings, &s.settings)
	if err != nil {
		s.settings = statestore.DefaultSettings()
		s.logEvent(ctx, "state_corrupt", "supervisor", "", "", err.Error())
	}
	if !loadedSettings && err == nil {
		// First run: write the defaults out so the operator has a file to
		// edit before the next start.
		if err := s.deps.Store.Save(statestore.KeySettings, s.settings); err != nil {
			s.logEvent(ctx, "state_error", "supervisor", "", "", err.Error())
		}
	}

	s.runtime = statestore.DefaultRuntimeState(uuid.NewString(), now)
	loadedRuntime, err := s.loadRuntime()
	if err != nil {
		s.logEvent(ctx, "state_corrupt", "supervisor", "", "", err.Error())
	} else if loadedRuntime {
		s.runtime.SessionID = uuid.NewString()
		s.runtime.StartedAt = now
	}

	s.queue = queue.New(queue.Config{
		SoftTimeout: s.settings.SoftTimeout(),
		HardTimeout: s.settings.HardTimeout(),
	})
	var snap protocol.QueueSnapshot
	ok, err := s.deps.Store.Load(statestore.KeyQueue, &snap)
	switch {
	case err != nil:
		s.logEvent(ctx, "state_corrupt", "supervisor", "", "", err.Error())
	case ok:
		// No worker survives a supervisor restart, so every RUNNING task
		// in the snapshot comes back as PENDING.
		requeued := s.queue.Restore(snap, nil)
		s.restoredTasks = len(snap.Tasks)
		s.logEvent(ctx, "queue_restored", "supervisor", "", "",
			fmt.Sprintf("restored %d tasks, requeued %d", len(snap.Tasks), requeued))
	}

	if s.deps.Git != nil {
		if err := s.deps.Git.EnsureBranches(ctx); err != nil {
			s.logEvent(ctx, "git_error", "supervisor", "", "", err.Error())
		}
		branch, sha, err := s.deps.Git.Head(ctx)
		if err == nil {
			s.runtime.Branch = branch
			s.runtime.HeadSHA = sha
		}
	}

	s.budgetHit = s.runtime.SpentUSD >= s.settings.TotalBudgetUSD
	s.logEvent(ctx, "startup", "supervisor", "", "", "session "+s.runtime.SessionID)

	// Let the owner know queued work survived the restart.
	if s.restoredTasks > 0 && s.runtime.OwnerChannelID != nil {
		s.say(*s.runtime.OwnerChannelID,
			fmt.Sprintf("Back up. Restored %d queued tasks from before the restart.", s.restoredTasks))
	}
	return nil
}

// loadRuntime loads the runtime document, preserving the zero-value
// default on absence.
func (s *Supervisor) loadRuntime() (bool, error) {
	var rt statestore.RuntimeState
	ok, err := s.deps.Store.Load(statestore.KeyRuntime, &rt)
	if err != nil || !ok {
		return false, err
	}
	s.runtime = rt
	return true, nil
}

// tick advances the world by one step. The order is fixed: inputs first,
// then repair, then scheduling, then persistence.
func (s *Supervisor) tick(ctx context.Context) {
	s.drainBridge(ctx)
	s.drainBus(ctx)
	s.reapDead(ctx)
	s.ensurePool(ctx)
	s.assignTasks(ctx)
	s.enforceTimeouts(ctx)
	s.backgroundTick(ctx)
	s.persistTick(ctx)
}

// --- Step 1: owner bridge ---

func (s *Supervisor) drainBridge(ctx context.Context) {
	for _, msg := range s.deps.Bridge.Drain(16) {
		s.handleOwnerMessage(ctx, msg)
	}
}

func (s *Supervisor) handleOwnerMessage(ctx context.Context, msg OwnerMessage) {
	now := s.nowFunc()

	// First contact wins ownership; everything else from other channels
	// is ignored, logged for the record.
	if s.runtime.OwnerChannelID == nil {
		ch := msg.ChannelID
		s.runtime.OwnerChannelID = &ch
		s.saveRuntime(ctx)
		s.logEvent(ctx, "owner_registered", "supervisor", "", "", fmt.Sprintf("channel %d", ch))
		s.say(ch, "Registered you as my owner. I'm listening.")
		if s.restoredTasks > 0 {
			s.say(ch, fmt.Sprintf("Also: I restored %d queued tasks from before the restart.", s.restoredTasks))
		}
	} else if *s.runtime.OwnerChannelID != msg.ChannelID {
		s.logEvent(ctx, "unowned_message", "supervisor", "", "", fmt.Sprintf("channel %d", msg.ChannelID))
		return
	}
	s.runtime.LastOwnerMessageAt = &now

	if cmd, ok := protocol.ParseCommand(msg.Text); ok {
		s.handleCommand(ctx, msg.ChannelID, cmd)
		return
	}

	if s.budgetHit {
		s.say(msg.ChannelID, fmt.Sprintf("Budget exhausted ($%.2f of $%.2f). Not taking new work.",
			s.runtime.SpentUSD, s.settings.TotalBudgetUSD))
		return
	}

	task, err := s.queue.Submit(protocol.KindChat, msg.ChannelID, protocol.TaskInput{Text: msg.Text})
	if err != nil {
		var capErr *protocol.CapacityError
		if errors.As(err, &capErr) {
			s.say(msg.ChannelID, fmt.Sprintf("Queue is full (%d pending). Try again in a bit.", capErr.Pending))
		}
		s.logEvent(ctx, "submit_rejected", "supervisor", "", "", err.Error())
		return
	}
	s.logEvent(ctx, "task_submitted", "supervisor", task.ID, "", string(task.Kind))
}

// --- Step 2: worker bus ---

func (s *Supervisor) drainBus(ctx context.Context) {
	for _, evt := range s.deps.Bus.Drain(256) {
		s.handleWorkerEvent(ctx, evt)
	}
}

func (s *Supervisor) handleWorkerEvent(ctx context.Context, evt protocol.Event) {
	msg := evt.Msg
	if id := msg.WorkerID(); id != "" {
		s.deps.Pool.Touch(id)
	}

	switch msg.Type {
	case protocol.MsgHello:
		s.deps.Pool.ObserveHello(msg.Hello.WorkerID, msg.Hello.PID, msg.Hello.Kinds)
		s.logEvent(ctx, "worker_hello", "worker", "", msg.Hello.WorkerID, fmt.Sprintf("pid %d", msg.Hello.PID))

	case protocol.MsgHeartbeat:
		// Touch above is the whole point.

	case protocol.MsgChat:
		ch := msg.Chat.ChannelID
		if ch == 0 {
			ch = s.ownerChannel()
		}
		if ch != 0 {
			s.say(ch, msg.Chat.Text)
		}

	case protocol.MsgMetrics:
		s.runtime.SpentUSD += msg.Metrics.CostUSD
		if !s.budgetHit && s.runtime.SpentUSD >= s.settings.TotalBudgetUSD {
			s.budgetHit = true
			s.runtime.BackgroundEnabled = false
			s.runtime.EvolutionEnabled = false
			s.logEvent(ctx, "budget_exhausted", "supervisor", "", "", fmt.Sprintf("$%.2f", s.runtime.SpentUSD))
			if ch := s.ownerChannel(); ch != 0 {
				s.say(ch, fmt.Sprintf("Budget exhausted: $%.2f of $%.2f spent. Pausing autonomous work.",
					s.runtime.SpentUSD, s.settings.TotalBudgetUSD))
			}
		}

	case protocol.MsgDone:
		// Only the owning worker's first report lands: a DONE racing a hard
		// timeout, or replayed after the task moved on, loses quietly and
		// must not free a worker that is busy with something else.
		if s.queue.Complete(msg.Done.TaskID, msg.Done.WorkerID, protocol.StatusDone) {
			s.logEvent(ctx, "task_done", "worker", msg.Done.TaskID, msg.Done.WorkerID, "")
			s.deps.Pool.MarkIdle(msg.Done.WorkerID)
		}

	case protocol.MsgError:
		if s.queue.Complete(msg.Error.TaskID, msg.Error.WorkerID, protocol.StatusFailed) {
			s.logEvent(ctx, "task_failed", "worker", msg.Error.TaskID, msg.Error.WorkerID, msg.Error.Reason)
			if task, ok := s.queue.Get(msg.Error.TaskID); ok && task.ChannelID != 0 {
				s.say(task.ChannelID, "Task failed: "+msg.Error.Reason)
			}
			s.deps.Pool.MarkIdle(msg.Error.WorkerID)
		}

	case protocol.MsgLog:
		s.logEvent(ctx, "worker_log", "worker", msg.Log.TaskID, msg.Log.WorkerID,
			msg.Log.Level+": "+msg.Log.Text)
	default:
	}
}

// --- Step 3: dead workers ---

func (s *Supervisor) reapDead(ctx context.Context) {
	for _, id := range s.deps.Pool.ReapDead() {
		s.deps.Bus.Unregister(id)
		s.logEvent(ctx, "worker_dead", "supervisor", "", id, "")
		for _, task := range s.queue.RequeueWorker(id) {
			s.logEvent(ctx, "task_requeued", "supervisor", task.ID, id, "")
			if task.ChannelID != 0 {
				s.say(task.ChannelID, "A worker died mid-task; your task is queued again.")
			}
		}
	}
}

// --- Step 4: pool size ---

func (s *Supervisor) ensurePool(ctx context.Context) {
	spawned, notices := s.deps.Pool.EnsurePool(s.settings.MaxWorkers)
	for _, id := range spawned {
		s.logEvent(ctx, "worker_spawned", "supervisor", "", id, "")
	}
	for _, n := range notices {
		s.logEvent(ctx, "pool_notice", "supervisor", "", "", n.Level+": "+n.Text)
		if n.Level == "error" {
			if ch := s.ownerChannel(); ch != 0 {
				s.say(ch, "Worker pool trouble: "+n.Text)
			}
		}
	}
}

// --- Step 5: assignment ---

func (s *Supervisor) assignTasks(ctx context.Context) {
	for _, w := range s.deps.Pool.Idle() {
		task, ok := s.queue.Assign(w.ID, w.Kinds)
		if !ok {
			continue
		}
		err := s.deps.Bus.Publish(w.ID, protocol.Message{
			Type:   protocol.MsgAssign,
			Assign: &protocol.AssignPayload{Task: task},
		})
		if err != nil {
			// Worker queue gone or full: put the task back and let the
			// liveness machinery sort the worker out.
			s.queue.RequeueWorker(w.ID)
			s.logEvent(ctx, "assign_failed", "supervisor", task.ID, w.ID, err.Error())
			continue
		}
		s.deps.Pool.MarkBusy(w.ID)
		s.logEvent(ctx, "task_assigned", "supervisor", task.ID, w.ID, "")
	}

	// Pending kinds that no live worker declared stay queued; flag each
	// once so the event log explains why nothing is being assigned.
	served := s.deps.Pool.KindsServed()
	starved := make(map[protocol.TaskKind]bool)
	for _, kind := range s.queue.PendingKinds() {
		if served[kind] {
			continue
		}
		starved[kind] = true
		if !s.starvedKinds[kind] {
			err := &protocol.WorkerUnavailableError{Kind: kind}
			s.logEvent(ctx, "no_eligible_worker", "supervisor", "", "", err.Error())
		}
	}
	s.starvedKinds = starved
}

// --- Step 6: deadlines ---

func (s *Supervisor) enforceTimeouts(ctx context.Context) {
	for _, to := range s.queue.EnforceTimeouts() {
		if !to.Hard {
			s.logEvent(ctx, "task_soft_timeout", "supervisor", to.Task.ID, to.Task.WorkerID, to.Err.Error())
			if to.Task.ChannelID != 0 {
				s.say(to.Task.ChannelID, "Still working on your task; it's past the soft time limit.")
			}
			continue
		}
		s.logEvent(ctx, "task_hard_timeout", "supervisor", to.Task.ID, to.Task.WorkerID, to.Err.Error())
		// Cooperative first, then the hammer: the ABORT message lets the
		// worker die cleanly, but the slot comes down either way so a fresh
		// worker replaces it even when the message never lands.
		_ = s.deps.Bus.Publish(to.Task.WorkerID, protocol.Message{
			Type:  protocol.MsgAbort,
			Abort: &protocol.AbortPayload{TaskID: to.Task.ID, Reason: "hard timeout"},
		})
		if err := s.deps.Pool.Abort(to.Task.WorkerID); err != nil {
			s.logEvent(ctx, "worker_abort_failed", "supervisor", to.Task.ID, to.Task.WorkerID, err.Error())
		}
		s.deps.Bus.Unregister(to.Task.WorkerID)
		if to.Task.ChannelID != 0 {
			s.say(to.Task.ChannelID, "Task hit the hard time limit and was stopped.")
		}
	}
}

// --- Step 7: autonomous work ---

func (s *Supervisor) backgroundTick(ctx context.Context) {
	if s.budgetHit {
		return
	}
	now := s.nowFunc()

	if s.runtime.BackgroundEnabled {
		if prompt, due := s.bg.Next(now); due {
			task, err := s.queue.Submit(protocol.KindBackground, s.ownerChannel(), protocol.TaskInput{Text: prompt})
			if err == nil {
				s.logEvent(ctx, "task_submitted", "background", task.ID, "", string(task.Kind))
			}
		}
	}

	// Evolution keeps exactly one task in flight, with a cooldown between
	// completions.
	if s.runtime.EvolutionEnabled && now.Sub(s.lastEvolution) >= evolutionCooldown && !s.queue.HasActive(protocol.KindEvolution) {
		task, err := s.queue.Submit(protocol.KindEvolution, s.ownerChannel(), protocol.TaskInput{
			Text: "Pick one concrete improvement to your own code or prompts, implement it, and commit it with a clear message.",
		})
		if err == nil {
			s.lastEvolution = now
			s.logEvent(ctx, "task_submitted", "evolution", task.ID, "", string(task.Kind))
		}
	}
}

// --- Step 8: persistence ---

func (s *Supervisor) persistTick(ctx context.Context) {
	now := s.nowFunc()
	if now.Sub(s.lastPersist) >= persistEvery {
		s.lastPersist = now
		s.saveRuntime(ctx)
		s.saveQueue(ctx, "main_loop")
	}
	if s.deps.Log != nil && now.Sub(s.lastPrune) >= pruneEvery {
		s.lastPrune = now
		cutoff := now.AddDate(0, 0, -s.cfg.LogRetentionDays)
		if _, err := s.deps.Log.Prune(ctx, cutoff); err != nil {
			s.logEvent(ctx, "prune_failed", "supervisor", "", "", err.Error())
		}
	}
}

// --- Shutdown ---

func (s *Supervisor) shutdown(ctx context.Context, graceful bool, reason string) {
	s.logEvent(ctx, "shutdown", "supervisor", "", "", reason)

	if graceful {
		s.saveRuntime(ctx)
		s.saveQueue(ctx, reason)
		for _, id := range s.deps.Bus.Registered() {
			_ = s.deps.Bus.Publish(id, protocol.Message{Type: protocol.MsgShutdown})
		}
	}
	s.deps.Pool.Shutdown()
}

// --- Helpers ---

func (s *Supervisor) ownerChannel() int64 {
	if s.runtime.OwnerChannelID == nil {
		return 0
	}
	return *s.runtime.OwnerChannelID
}

// say delivers a supervisor message to the owner, best-effort.
func (s *Supervisor) say(channelID int64, text string) {
	_ = s.deps.Bridge.Send(channelID, text, false)
}

func (s *Supervisor) saveRuntime(ctx context.Context) {
	if err := s.deps.Store.Save(statestore.KeyRuntime, s.runtime); err != nil {
		s.logEvent(ctx, "persist_failed", "supervisor", "", "", err.Error())
	}
}

func (s *Supervisor) saveQueue(ctx context.Context, reason string) {
	if err := s.deps.Store.Save(statestore.KeyQueue, s.queue.Snapshot(reason)); err != nil {
		s.logEvent(ctx, "persist_failed", "supervisor", "", "", err.Error())
	}
}

// logEvent appends to the durable event log; a failing log never takes
// the loop down.
func (s *Supervisor) logEvent(ctx context.Context, eventType, source, taskID, workerID, payload string) {
	if s.deps.Log == nil {
		return
	}
	_ = s.deps.Log.Append(ctx, eventType, source, taskID, workerID, payload)
}
