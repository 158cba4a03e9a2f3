package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"ouroboros/pkg/protocol"
)

func heartbeat(workerID, taskID string) protocol.Message {
	return protocol.Message{
		Type:      protocol.MsgHeartbeat,
		Heartbeat: &protocol.HeartbeatPayload{WorkerID: workerID, TaskID: taskID},
	}
}

func TestPublishUnknownTarget(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	err := b.Publish("ghost", protocol.Message{Type: protocol.MsgShutdown})
	if !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestPublishPerTargetFIFO(t *testing.T) {
	t.Parallel()

	b := New(Config{InboundCapacity: 8})
	ch := b.Register("w1")

	for i := range 5 {
		msg := protocol.Message{
			Type:  protocol.MsgAbort,
			Abort: &protocol.AbortPayload{TaskID: fmt.Sprintf("t%d", i)},
		}
		if err := b.Publish("w1", msg); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	for i := range 5 {
		msg := <-ch
		if want := fmt.Sprintf("t%d", i); msg.Abort.TaskID != want {
			t.Errorf("message %d out of order: got %s, want %s", i, msg.Abort.TaskID, want)
		}
	}
}

func TestPublishBoundedQueue(t *testing.T) {
	t.Parallel()

	b := New(Config{InboundCapacity: 2})
	b.Register("w1")

	if err := b.Publish("w1", protocol.Message{Type: protocol.MsgShutdown}); err != nil {
		t.Fatalf("publish 1: %v", err)
	}
	if err := b.Publish("w1", protocol.Message{Type: protocol.MsgShutdown}); err != nil {
		t.Fatalf("publish 2: %v", err)
	}
	err := b.Publish("w1", protocol.Message{Type: protocol.MsgShutdown})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull on third publish, got %v", err)
	}
}

func TestDrainNonBlocking(t *testing.T) {
	t.Parallel()

	b := New(Config{})

	start := time.Now()
	events := b.Drain(10)
	if len(events) != 0 {
		t.Errorf("empty bus drained %d events", len(events))
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Drain blocked for %s", elapsed)
	}

	for i := range 5 {
		b.Emit(heartbeat("w1", fmt.Sprintf("t%d", i)))
	}
	if got := b.Drain(3); len(got) != 3 {
		t.Errorf("Drain(3) returned %d events", len(got))
	}
	if got := b.Drain(10); len(got) != 2 {
		t.Errorf("second Drain returned %d events, want 2", len(got))
	}
}

func TestEmitDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := New(Config{OutboundCapacity: 1})
	if !b.Emit(heartbeat("w1", "t1")) {
		t.Fatal("first emit should succeed")
	}
	if b.Emit(heartbeat("w1", "t2")) {
		t.Fatal("second emit should drop")
	}
	if b.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", b.Dropped())
	}
}

func TestRegisterReplacesQueueOnRespawn(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	old := b.Register("w1")
	fresh := b.Register("w1")

	// The old queue is closed so a stale writer goroutine exits.
	if _, ok := <-old; ok {
		t.Error("old queue should be closed after re-register")
	}
	if err := b.Publish("w1", protocol.Message{Type: protocol.MsgShutdown}); err != nil {
		t.Fatalf("publish after respawn: %v", err)
	}
	select {
	case msg := <-fresh:
		if msg.Type != protocol.MsgShutdown {
			t.Errorf("got %s, want SHUTDOWN", msg.Type)
		}
	default:
		t.Error("message not routed to the fresh queue")
	}
}

func TestServerBridgesWorkerConnection(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	socketPath := filepath.Join(t.TempDir(), "sup.sock")
	srv, err := Listen(socketPath, b)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = srv.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	send := func(msg protocol.Message) {
		t.Helper()
		data, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if _, err := conn.Write(append(data, '\n')); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send(protocol.Message{
		Type:  protocol.MsgHello,
		Hello: &protocol.HelloPayload{WorkerID: "w1", PID: 4242, Kinds: []protocol.TaskKind{protocol.KindChat}},
	})
	send(heartbeat("w1", "t1"))

	// HELLO then HEARTBEAT must surface, in order, within the drain window.
	deadline := time.After(2 * time.Second)
	var events []protocol.Event
	for len(events) < 2 {
		select {
		case <-deadline:
			t.Fatalf("timed out with %d events", len(events))
		default:
			events = append(events, b.Drain(10)...)
			time.Sleep(5 * time.Millisecond)
		}
	}
	if events[0].Msg.Type != protocol.MsgHello || events[1].Msg.Type != protocol.MsgHeartbeat {
		t.Fatalf("event order wrong: %s, %s", events[0].Msg.Type, events[1].Msg.Type)
	}

	// Supervisor -> worker direction.
	if err := b.Publish("w1", protocol.Message{Type: protocol.MsgAbort, Abort: &protocol.AbortPayload{TaskID: "t1", Reason: "hard timeout"}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var line []byte
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	line = buf[:n]
	var got protocol.Message
	if err := json.Unmarshal(line, &got); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	if got.Type != protocol.MsgAbort || got.Abort.Reason != "hard timeout" {
		t.Errorf("worker received %+v", got)
	}
}
