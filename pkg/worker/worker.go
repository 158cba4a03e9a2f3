// Package worker is the runtime for one worker process. A worker connects
// to the supervisor's unix socket, announces itself with HELLO, and then
// serves ASSIGN messages by handing tasks to its Agent while streaming
// CHAT, METRICS, and LOG messages back. ABORT cancels the running task;
// SHUTDOWN ends the process.
package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"sync"
	"time"

	"ouroboros/pkg/protocol"
)

// DefaultHeartbeatInterval is how often the worker reports liveness.
const DefaultHeartbeatInterval = 15 * time.Second

// reconnectBaseInterval is the base retry interval for reconnection.
const reconnectBaseInterval = 2 * time.Second

// reconnectJitter is the maximum jitter added to the reconnect interval.
const reconnectJitter = 500 * time.Millisecond

// Emitter lets an Agent stream progress while a task runs. The worker
// stamps each emission with the current task and channel.
type Emitter interface {
	Chat(text string, markdown bool)
	Metrics(costUSD float64, inputTokens, outputTokens int64)
	Log(level, text string)
}

// Agent executes one task. Execute blocks until the task finishes and
// returns its result text; a cancelled ctx means the task was aborted.
type Agent interface {
	Execute(ctx context.Context, task protocol.Task, em Emitter) (string, error)
	// Kinds reports which task kinds this agent serves.
	Kinds() []protocol.TaskKind
}

// Worker holds the UDS connection to the supervisor and the agent that
// does the actual work.
type Worker struct {
	ID         string
	agent      Agent
	socketPath string // empty means no reconnection (test with net.Pipe)

	heartbeatInterval time.Duration

	mu           sync.Mutex
	conn         net.Conn
	disconnected bool
	task         *protocol.Task
	cancelTask   context.CancelFunc
}

// New creates a Worker connected to the supervisor at socketPath.
func New(id, socketPath string, agent Agent) (*Worker, error) {
	conn, err := net.Dial("unix", socketPath) //nolint:noctx // UDS connect is instant
	if err != nil {
		return nil, fmt.Errorf("connect to supervisor: %w", err)
	}
	return &Worker{
		ID:                id,
		agent:             agent,
		socketPath:        socketPath,
		conn:              conn,
		heartbeatInterval: DefaultHeartbeatInterval,
	}, nil
}

// NewWithConn creates a Worker with a pre-established connection (for testing).
func NewWithConn(id string, conn net.Conn, agent Agent) *Worker {
	return &Worker{
		ID:                id,
		agent:             agent,
		conn:              conn,
		heartbeatInterval: DefaultHeartbeatInterval,
	}
}

// SetHeartbeatInterval overrides the heartbeat cadence (for testing).
func (w *Worker) SetHeartbeatInterval(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.heartbeatInterval = d
}

// Run is the main event loop. It sends HELLO, starts the heartbeat
// ticker, and dispatches incoming messages until SHUTDOWN or ctx
// cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.sendHello(); err != nil {
		return err
	}

	hbCtx, stopHeartbeats := context.WithCancel(ctx)
	defer stopHeartbeats()
	go w.heartbeatLoop(hbCtx)

	return w.readLoop(ctx)
}

func (w *Worker) readLoop(ctx context.Context) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	scanner := bufio.NewScanner(conn)
	msgCh := make(chan protocol.Message)
	errCh := make(chan error, 1)

	// Read in a goroutine so we can select on ctx.Done.
	go func() {
		for scanner.Scan() {
			var msg protocol.Message
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue // skip malformed messages
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
		} else {
			errCh <- errors.New("connection closed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.abortTask("worker shutting down")
			return nil

		case msg := <-msgCh:
			if done := w.handleMessage(ctx, msg); done {
				return nil
			}

		case err := <-errCh:
			if ctx.Err() != nil {
				return nil //nolint:nilerr // cancelled = clean shutdown
			}
			if w.socketPath == "" {
				return err
			}
			if reconnErr := w.reconnect(ctx); reconnErr != nil {
				return reconnErr
			}
			return w.readLoop(ctx)
		}
	}
}

// handleMessage processes one supervisor message. Returns true on SHUTDOWN.
func (w *Worker) handleMessage(ctx context.Context, msg protocol.Message) bool {
	switch msg.Type {
	case protocol.MsgAssign:
		if msg.Assign != nil {
			w.handleAssign(ctx, msg.Assign.Task)
		}
	case protocol.MsgAbort:
		if msg.Abort != nil {
			w.handleAbort(msg.Abort)
		}
	case protocol.MsgShutdown:
		w.abortTask("worker shutting down")
		return true
	default:
		// Unknown message type, ignore.
	}
	return false
}

// handleAssign starts the task on the agent. A second ASSIGN while busy is
// a supervisor bug; it gets an immediate ERROR so the task is not lost
// silently.
func (w *Worker) handleAssign(ctx context.Context, task protocol.Task) {
	w.mu.Lock()
	if w.task != nil {
		w.mu.Unlock()
		_ = w.send(protocol.Message{
			Type: protocol.MsgError,
			Error: &protocol.ErrorPayload{
				WorkerID: w.ID,
				TaskID:   task.ID,
				Reason:   "worker busy with " + w.task.ID,
			},
		})
		return
	}
	taskCtx, cancel := context.WithCancel(ctx)
	t := task
	w.task = &t
	w.cancelTask = cancel
	w.mu.Unlock()

	go w.runTask(taskCtx, t)
}

func (w *Worker) runTask(ctx context.Context, task protocol.Task) {
	em := &taskEmitter{w: w, task: task}
	result, err := w.agent.Execute(ctx, task, em)

	w.mu.Lock()
	w.task = nil
	w.cancelTask = nil
	w.mu.Unlock()

	if err != nil {
		reason := err.Error()
		if ctx.Err() != nil {
			reason = "aborted: " + reason
		}
		_ = w.send(protocol.Message{
			Type:  protocol.MsgError,
			Error: &protocol.ErrorPayload{WorkerID: w.ID, TaskID: task.ID, Reason: reason},
		})
		return
	}
	_ = w.send(protocol.Message{
		Type: protocol.MsgDone,
		Done: &protocol.DonePayload{WorkerID: w.ID, TaskID: task.ID, Result: result},
	})
}

func (w *Worker) handleAbort(abort *protocol.AbortPayload) {
	w.mu.Lock()
	match := w.task != nil && w.task.ID == abort.TaskID
	cancel := w.cancelTask
	w.mu.Unlock()
	if match && cancel != nil {
		cancel()
	}
}

// abortTask cancels whatever is running, if anything.
func (w *Worker) abortTask(string) {
	w.mu.Lock()
	cancel := w.cancelTask
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	w.mu.Lock()
	interval := w.heartbeatInterval
	w.mu.Unlock()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.Lock()
			taskID := ""
			if w.task != nil {
				taskID = w.task.ID
			}
			w.mu.Unlock()
			_ = w.send(protocol.Message{
				Type:      protocol.MsgHeartbeat,
				Heartbeat: &protocol.HeartbeatPayload{WorkerID: w.ID, TaskID: taskID},
			})
		}
	}
}

func (w *Worker) sendHello() error {
	return w.send(protocol.Message{
		Type: protocol.MsgHello,
		Hello: &protocol.HelloPayload{
			WorkerID: w.ID,
			PID:      os.Getpid(),
			Kinds:    w.agent.Kinds(),
		},
	})
}

// send encodes and writes one line-delimited JSON message. Writes during
// a disconnection window are dropped; the supervisor treats delivery as
// at-most-once anyway.
func (w *Worker) send(msg protocol.Message) error {
	w.mu.Lock()
	conn := w.conn
	disconnected := w.disconnected
	w.mu.Unlock()

	if disconnected {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// reconnect re-establishes the UDS connection, retrying every 2s with
// jitter until success or ctx cancellation. The running task is not
// killed while reconnecting.
func (w *Worker) reconnect(ctx context.Context) error {
	w.mu.Lock()
	w.disconnected = true
	w.mu.Unlock()

	for {
		jitter := time.Duration(rand.Int64N(int64(2*reconnectJitter))) - reconnectJitter //nolint:gosec // jitter does not need crypto rand
		wait := reconnectBaseInterval + jitter

		select {
		case <-ctx.Done():
			return fmt.Errorf("worker reconnect: %w", ctx.Err())
		case <-time.After(wait):
		}

		conn, err := net.Dial("unix", w.socketPath) //nolint:noctx // UDS reconnect is instant
		if err != nil {
			continue
		}

		w.mu.Lock()
		w.conn = conn
		w.disconnected = false
		w.mu.Unlock()

		// The supervisor sees a brand new connection; re-announce.
		if err := w.sendHello(); err != nil {
			continue
		}
		return nil
	}
}

// taskEmitter stamps agent emissions with the task they belong to.
type taskEmitter struct {
	w    *Worker
	task protocol.Task
}

func (e *taskEmitter) Chat(text string, markdown bool) {
	_ = e.w.send(protocol.Message{
		Type: protocol.MsgChat,
		Chat: &protocol.ChatPayload{
			WorkerID:  e.w.ID,
			TaskID:    e.task.ID,
			ChannelID: e.task.ChannelID,
			Text:      text,
			Markdown:  markdown,
		},
	})
}

func (e *taskEmitter) Metrics(costUSD float64, inputTokens, outputTokens int64) {
	_ = e.w.send(protocol.Message{
		Type: protocol.MsgMetrics,
		Metrics: &protocol.MetricsPayload{
			WorkerID:     e.w.ID,
			TaskID:       e.task.ID,
			CostUSD:      costUSD,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		},
	})
}

func (e *taskEmitter) Log(level, text string) {
	_ = e.w.send(protocol.Message{
		Type: protocol.MsgLog,
		Log:  &protocol.LogPayload{WorkerID: e.w.ID, TaskID: e.task.ID, Level: level, Text: text},
	})
}
