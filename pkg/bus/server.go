package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"ouroboros/pkg/protocol"
)

// maxLineBytes bounds a single worker message on the wire.
const maxLineBytes = 4 * 1024 * 1024

// Server owns the supervisor's unix socket. Each worker process connects,
// sends HELLO, and is then bridged into the Bus: a reader goroutine feeds
// the shared outbound queue and a writer goroutine drains the worker's
// inbound queue onto the connection.
type Server struct {
	bus *Bus
	ln  net.Listener
	wg  sync.WaitGroup
}

// Listen binds the unix socket at socketPath.
func Listen(socketPath string, b *Bus) (*Server, error) {
	ln, err := net.Listen("unix", socketPath) //nolint:noctx // UDS bind is instant
	if err != nil {
		return nil, fmt.Errorf("listen unix %s: %w", socketPath, err)
	}
	return &Server{bus: b, ln: ln}, nil
}

// Serve accepts worker connections until ctx is cancelled or the listener
// is closed.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close shuts the listener and waits for connection goroutines.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

// handleConn bridges one worker connection into the bus. The first message
// must be HELLO; anything else drops the connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	if !scanner.Scan() {
		return
	}
	var hello protocol.Message
	if err := json.Unmarshal(scanner.Bytes(), &hello); err != nil || hello.Type != protocol.MsgHello || hello.Hello == nil {
		return
	}
	workerID := hello.Hello.WorkerID

	inbound := s.bus.Register(workerID)
	defer s.bus.Unregister(workerID)
	s.bus.Emit(hello)

	// Writer: inbound queue -> connection. Exits when the queue is closed
	// (unregister/respawn) or a write fails.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for msg := range inbound {
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			data = append(data, '\n')
			if _, err := conn.Write(data); err != nil {
				return
			}
		}
	}()

	// Reader: connection -> shared outbound queue.
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		var msg protocol.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue // skip malformed lines
		}
		s.bus.Emit(msg)
	}

	// Connection gone: surface the disconnect so the supervisor can mark
	// the worker for liveness checking.
	s.bus.Emit(protocol.Message{
		Type: protocol.MsgLog,
		Log: &protocol.LogPayload{
			WorkerID: workerID,
			Level:    "warning",
			Text:     "worker connection closed",
		},
	})
}
