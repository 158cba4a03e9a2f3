// Package pool keeps the worker pool at its target size. It spawns worker
// subprocesses into fixed slots, watches them for death (process exit or
// heartbeat silence), and applies exponential backoff to slots that crash
// repeatedly so a broken worker binary cannot spin the supervisor into a
// fork storm.
package pool

import (
	"fmt"
	"sync"
	"time"

	"ouroboros/pkg/protocol"
)

// Config tunes the pool manager. Zero values get sane defaults.
type Config struct {
	// LivenessWindow is how long a connected worker may go without any
	// message before it is declared dead.
	LivenessWindow time.Duration
	// HelloTimeout is how long a freshly spawned worker gets to connect
	// and send HELLO before its slot is recycled.
	HelloTimeout time.Duration
	// RestartThreshold is how many restarts inside RestartWindow trigger
	// backoff for a slot.
	RestartThreshold int
	// RestartWindow is the sliding window for counting restarts.
	RestartWindow time.Duration
	// BackoffBase and BackoffMax bound the per-slot respawn delay, which
	// doubles on every restart past the threshold.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.LivenessWindow == 0 {
		out.LivenessWindow = 90 * time.Second
	}
	if out.HelloTimeout == 0 {
		out.HelloTimeout = 30 * time.Second
	}
	if out.RestartThreshold == 0 {
		out.RestartThreshold = 3
	}
	if out.RestartWindow == 0 {
		out.RestartWindow = 5 * time.Minute
	}
	if out.BackoffBase == 0 {
		out.BackoffBase = 2 * time.Second
	}
	if out.BackoffMax == 0 {
		out.BackoffMax = 5 * time.Minute
	}
	return out
}

// WorkerInfo is a read-only view of one slot for status reporting.
type WorkerInfo struct {
	ID           string
	PID          int
	State        protocol.WorkerState
	Kinds        []protocol.TaskKind
	LastSeen     time.Time
	BackoffUntil time.Time
}

// Notice is a pool event the supervisor should log or surface, such as a
// crash-storm backoff kicking in.
type Notice struct {
	Level string // "warning" or "error"
	Text  string
}

type slot struct {
	id       string
	pid      int
	running  bool // process spawned and not yet reaped
	helloed  bool
	state    protocol.WorkerState
	kinds    []protocol.TaskKind
	lastSeen time.Time
	spawnAt  time.Time

	restarts     []time.Time
	backoff      time.Duration
	backoffUntil time.Time
}

// Manager owns the worker slots.
type Manager struct {
	cfg Config
	pm  ProcessManager

	mu    sync.Mutex
	slots map[string]*slot

	nowFunc func() time.Time
}

// New creates a Manager on top of the given process manager.
func New(cfg Config, pm ProcessManager) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		pm:      pm,
		slots:   make(map[string]*slot),
		nowFunc: time.Now,
	}
}

// slotID names slots worker-1..worker-N so logs and per-worker directories
// stay stable across respawns.
func slotID(i int) string { return fmt.Sprintf("worker-%d", i) }

// EnsurePool brings the pool up to target slots, spawning a process for
// every slot without a live one, subject to per-slot backoff. Returns the
// slot ids spawned this call plus any notices for the supervisor log.
func (m *Manager) EnsurePool(target int) ([]string, []Notice) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	var spawned []string
	var notices []Notice

	for i := 1; i <= target; i++ {
		id := slotID(i)
		s, ok := m.slots[id]
		if !ok {
			s = &slot{id: id, state: protocol.WorkerIdle}
			m.slots[id] = s
		}
		if s.running || now.Before(s.backoffUntil) {
			continue
		}

		pid, err := m.pm.Spawn(id)
		if err != nil {
			notices = append(notices, Notice{Level: "error", Text: fmt.Sprintf("spawn %s: %v", id, err)})
			continue
		}
		s.pid = pid
		s.running = true
		s.helloed = false
		s.state = protocol.WorkerIdle
		s.kinds = nil
		s.spawnAt = now
		s.lastSeen = now
		spawned = append(spawned, id)

		if notice, ok := m.recordRestartLocked(s, now); ok {
			notices = append(notices, notice)
		}
	}

	// Slots beyond the target (after a settings change) get torn down.
	for id, s := range m.slots {
		if slotIndex(id) > target && s.running {
			_ = m.pm.Kill(id)
			s.running = false
			notices = append(notices, Notice{Level: "warning", Text: fmt.Sprintf("scaled down %s", id)})
		}
	}

	return spawned, notices
}

// recordRestartLocked tracks the spawn in the slot's sliding restart
// window and arms backoff when the slot is crash-storming.
func (m *Manager) recordRestartLocked(s *slot, now time.Time) (Notice, bool) {
	cutoff := now.Add(-m.cfg.RestartWindow)
	kept := s.restarts[:0]
	for _, t := range s.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restarts = append(kept, now)

	if len(s.restarts) <= m.cfg.RestartThreshold {
		s.backoff = 0
		return Notice{}, false
	}

	if s.backoff == 0 {
		s.backoff = m.cfg.BackoffBase
	} else {
		s.backoff *= 2
		if s.backoff > m.cfg.BackoffMax {
			s.backoff = m.cfg.BackoffMax
		}
	}
	s.backoffUntil = now.Add(s.backoff)
	return Notice{
		Level: "error",
		Text: fmt.Sprintf("%s restarted %d times in %s; backing off %s",
			s.id, len(s.restarts), m.cfg.RestartWindow, s.backoff),
	}, true
}

// ObserveHello records a worker's HELLO: its pid, the task kinds it
// serves, and the start of its liveness window.
func (m *Manager) ObserveHello(id string, pid int, kinds []protocol.TaskKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		// A connection from a slot we never spawned; track it anyway so
		// liveness checking covers it.
		s = &slot{id: id}
		m.slots[id] = s
		s.running = true
	}
	s.pid = pid
	s.helloed = true
	s.kinds = kinds
	s.state = protocol.WorkerIdle
	s.lastSeen = m.nowFunc()
}

// Touch refreshes a worker's liveness window. Any message from the worker
// counts.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[id]; ok {
		s.lastSeen = m.nowFunc()
	}
}

// MarkBusy and MarkIdle track assignment state for scheduling and status.
func (m *Manager) MarkBusy(id string) { m.setState(id, protocol.WorkerBusy) }

// MarkIdle returns a slot to the assignable state.
func (m *Manager) MarkIdle(id string) { m.setState(id, protocol.WorkerIdle) }

func (m *Manager) setState(id string, state protocol.WorkerState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.slots[id]; ok {
		s.state = state
	}
}

// Idle returns the slots currently able to take an assignment, with the
// kinds they declared.
func (m *Manager) Idle() []WorkerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WorkerInfo
	for _, s := range m.slots {
		if s.running && s.helloed && s.state == protocol.WorkerIdle {
			out = append(out, infoOf(s))
		}
	}
	return out
}

// ReapDead finds and clears dead slots: process exited, heartbeat silence
// past the liveness window, or no HELLO within the hello timeout. The
// process tree is killed best-effort and the slot left empty for the next
// EnsurePool to respawn. Returns the reaped slot ids.
func (m *Manager) ReapDead() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	var dead []string
	for id, s := range m.slots {
		if !s.running {
			continue
		}
		exited := m.pm.Exited(id)
		silent := s.helloed && now.Sub(s.lastSeen) > m.cfg.LivenessWindow
		mute := !s.helloed && now.Sub(s.spawnAt) > m.cfg.HelloTimeout
		if !exited && !silent && !mute {
			continue
		}
		if !exited {
			_ = m.pm.Kill(id)
		}
		s.running = false
		s.helloed = false
		s.state = protocol.WorkerDead
		dead = append(dead, id)
	}
	return dead
}

// Abort force-kills one slot's worker process and clears the slot so the
// next EnsurePool respawns it. Used on hard timeout, where a cooperative
// ABORT message may never reach the worker. Returns an error when the
// slot has no running process to kill.
func (m *Manager) Abort(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok || !s.running {
		return fmt.Errorf("abort %s: no running worker", id)
	}
	_ = m.pm.Kill(id)
	s.running = false
	s.helloed = false
	s.state = protocol.WorkerDead
	return nil
}

// Shutdown kills every running slot. Used on supervisor exit after
// workers were given their SHUTDOWN message.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	var running []string
	for id, s := range m.slots {
		if s.running {
			running = append(running, id)
			s.running = false
		}
	}
	m.mu.Unlock()

	for _, id := range running {
		_ = m.pm.Kill(id)
	}
	m.pm.Wait()
}

// Workers returns a status view of every slot.
func (m *Manager) Workers() []WorkerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WorkerInfo, 0, len(m.slots))
	for _, s := range m.slots {
		out = append(out, infoOf(s))
	}
	return out
}

// KindsServed returns the union of task kinds declared by live workers,
// busy or idle. A kind missing here has no worker that could ever take it.
func (m *Manager) KindsServed() map[protocol.TaskKind]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	served := make(map[protocol.TaskKind]bool)
	for _, s := range m.slots {
		if !s.running || !s.helloed {
			continue
		}
		for _, k := range s.kinds {
			served[k] = true
		}
	}
	return served
}

// Live reports the slot ids that currently have a running, helloed worker.
func (m *Manager) Live() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := make(map[string]bool)
	for id, s := range m.slots {
		if s.running && s.helloed {
			live[id] = true
		}
	}
	return live
}

func infoOf(s *slot) WorkerInfo {
	state := s.state
	if !s.running {
		state = protocol.WorkerDead
	}
	return WorkerInfo{
		ID:           s.id,
		PID:          s.pid,
		State:        state,
		Kinds:        s.kinds,
		LastSeen:     s.lastSeen,
		BackoffUntil: s.backoffUntil,
	}
}

// slotIndex parses the trailing integer of a slot id; unknown shapes sort
// as 0 so they are never scaled down by mistake.
func slotIndex(id string) int {
	var n int
	if _, err := fmt.Sscanf(id, "worker-%d", &n); err != nil {
		return 0
	}
	return n
}
