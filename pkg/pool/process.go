package pool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// ProcessManager abstracts worker subprocess lifecycle so the pool manager
// can be tested without spawning real processes.
type ProcessManager interface {
	// Spawn starts the worker process for a slot and returns its pid.
	Spawn(id string) (int, error)
	// Kill terminates the slot's process tree.
	Kill(id string) error
	// Exited reports whether the slot's process has terminated.
	Exited(id string) bool
	// Wait blocks until all reaper goroutines have finished.
	Wait()
}

// killGrace is how long Kill waits after SIGTERM before escalating.
const killGrace = 3 * time.Second

type trackedProc struct {
	proc   *os.Process
	exited chan struct{}
}

// ExecProcessManager implements ProcessManager by spawning worker
// subprocesses and tracking them for lifecycle management.
//
// Thread-safe: all access to the process map is protected by a mutex.
type ExecProcessManager struct {
	socketPath string
	home       string
	mu         sync.Mutex
	procs      map[string]*trackedProc
	wg         sync.WaitGroup

	// cmdFactory builds the exec.Cmd for a given slot id. Production use
	// re-execs the current binary as `ouroboros worker`; tests override
	// this with a dummy command like `sleep`.
	cmdFactory func(id string) *exec.Cmd
}

// NewExecProcessManager creates a process manager that re-execs the
// current binary as `ouroboros worker --socket <socketPath> --id <id>`.
// When home is non-empty each worker's output goes to
// home/workers/<id>/output.log; otherwise it falls through to the
// supervisor's own stdout/stderr.
func NewExecProcessManager(socketPath, home string) *ExecProcessManager {
	pm := &ExecProcessManager{
		socketPath: socketPath,
		home:       home,
		procs:      make(map[string]*trackedProc),
	}
	self := os.Args[0]
	pm.cmdFactory = func(id string) *exec.Cmd {
		//nolint:gosec // intentionally spawning worker subprocess
		return exec.CommandContext(context.Background(), self, "worker", "--socket", socketPath, "--id", id)
	}
	return pm
}

// SetCmdFactory replaces the command factory. Tests use this to spawn a
// controllable subprocess instead of the real worker binary.
func (pm *ExecProcessManager) SetCmdFactory(factory func(id string) *exec.Cmd) {
	pm.cmdFactory = factory
}

// Spawn starts a new worker process for the slot and tracks it. Each
// worker gets its own process group (Setpgid) so Kill can terminate the
// entire tree, including any agent subprocesses the worker launched.
func (pm *ExecProcessManager) Spawn(id string) (int, error) {
	cmd := pm.cmdFactory(id)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var logFile *os.File
	if pm.home == "" {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		logDir := filepath.Join(pm.home, "workers", id)
		if err := os.MkdirAll(logDir, 0o700); err != nil {
			return 0, fmt.Errorf("create worker log dir %s: %w", logDir, err)
		}
		logPath := filepath.Join(logDir, "output.log")
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // log path is deterministic
		if err != nil {
			return 0, fmt.Errorf("open worker log %s: %w", logPath, err)
		}
		logFile = f
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return 0, fmt.Errorf("spawn worker %s: %w", id, err)
	}
	// The child inherited the log fd; the parent's copy can go.
	if logFile != nil {
		_ = logFile.Close()
	}

	tracked := &trackedProc{proc: cmd.Process, exited: make(chan struct{})}
	pm.mu.Lock()
	pm.procs[id] = tracked
	pm.mu.Unlock()

	// Reap the child in the background to avoid zombies; closing exited
	// is how Exited learns about the death.
	pm.wg.Add(1)
	go func() {
		defer pm.wg.Done()
		_ = cmd.Wait()
		close(tracked.exited)
	}()

	return cmd.Process.Pid, nil
}

// Kill sends SIGTERM to the slot's process group, waits a short grace
// period, and then sends SIGKILL if the process is still alive. The slot
// is removed from tracking regardless of outcome.
func (pm *ExecProcessManager) Kill(id string) error {
	pm.mu.Lock()
	tracked, ok := pm.procs[id]
	if !ok {
		pm.mu.Unlock()
		return fmt.Errorf("unknown worker %s", id)
	}
	delete(pm.procs, id)
	pm.mu.Unlock()

	// Negative pid targets the whole process group.
	pgid := tracked.proc.Pid
	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		_ = tracked.proc.Kill()
		return nil //nolint:nilerr // SIGTERM failure means the process already exited
	}

	select {
	case <-tracked.exited:
	case <-time.After(killGrace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-tracked.exited
	}
	return nil
}

// Exited reports whether the slot's process has terminated. Unknown slots
// count as exited.
func (pm *ExecProcessManager) Exited(id string) bool {
	pm.mu.Lock()
	tracked, ok := pm.procs[id]
	pm.mu.Unlock()
	if !ok {
		return true
	}
	select {
	case <-tracked.exited:
		return true
	default:
		return false
	}
}

// Wait blocks until all reaper goroutines have completed.
func (pm *ExecProcessManager) Wait() {
	pm.wg.Wait()
}
