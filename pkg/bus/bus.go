// Package bus routes messages between the supervisor and its worker
// processes. It provides one bounded inbound queue per worker
// (supervisor -> worker) and one shared bounded outbound queue
// (worker -> supervisor). Publish never blocks; Drain never blocks.
// Ordering is FIFO per target, with no guarantee across targets.
// Delivery is at-most-once: the supervisor loop handles duplicates.
package bus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"ouroboros/pkg/protocol"
)

// Bus-level sentinel errors.
var (
	// ErrUnknownTarget means Publish was called for an unregistered worker.
	ErrUnknownTarget = errors.New("unknown bus target")

	// ErrQueueFull means the target's bounded queue rejected the message.
	ErrQueueFull = errors.New("bus queue full")
)

// Config bounds the bus queues.
type Config struct {
	InboundCapacity  int // per-worker supervisor->worker queue (default 16)
	OutboundCapacity int // shared worker->supervisor queue (default 1024)
}

func (c Config) withDefaults() Config {
	out := c
	if out.InboundCapacity == 0 {
		out.InboundCapacity = 16
	}
	if out.OutboundCapacity == 0 {
		out.OutboundCapacity = 1024
	}
	return out
}

// Bus is the supervisor-side message router.
type Bus struct {
	cfg Config

	mu      sync.Mutex
	inbound map[string]chan protocol.Message

	outbound chan protocol.Event
	dropped  int // outbound messages lost to a full queue

	// nowFunc allows tests to control event timestamps.
	nowFunc func() time.Time
}

// New creates a Bus with the given queue bounds.
func New(cfg Config) *Bus {
	return &Bus{
		cfg:      cfg.withDefaults(),
		inbound:  make(map[string]chan protocol.Message),
		outbound: make(chan protocol.Event, cfg.withDefaults().OutboundCapacity),
		nowFunc:  time.Now,
	}
}

// Register creates the inbound queue for a worker and returns its receive
// side. Registering an already-known worker replaces (and closes) the old
// queue, which covers worker respawn under the same slot id.
func (b *Bus) Register(workerID string) <-chan protocol.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.inbound[workerID]; ok {
		close(old)
	}
	ch := make(chan protocol.Message, b.cfg.InboundCapacity)
	b.inbound[workerID] = ch
	return ch
}

// Unregister removes and closes a worker's inbound queue. Idempotent.
func (b *Bus) Unregister(workerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.inbound[workerID]; ok {
		close(ch)
		delete(b.inbound, workerID)
	}
}

// Publish enqueues a message for one worker without blocking. Returns
// ErrUnknownTarget for unregistered workers and ErrQueueFull when the
// bounded queue is at capacity.
func (b *Bus) Publish(workerID string, msg protocol.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.inbound[workerID]
	if !ok {
		return fmt.Errorf("publish %s to %s: %w", msg.Type, workerID, ErrUnknownTarget)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("publish %s to %s: %w", msg.Type, workerID, ErrQueueFull)
	}
}

// Emit pushes a worker-originated message onto the shared outbound queue
// without blocking. A full queue drops the message and returns false;
// delivery is at most once by contract.
func (b *Bus) Emit(msg protocol.Message) bool {
	evt := protocol.Event{Msg: msg, Time: b.nowFunc()}
	select {
	case b.outbound <- evt:
		return true
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		return false
	}
}

// Drain pops up to max outbound events without blocking, returning
// immediately with however many are available (possibly zero).
func (b *Bus) Drain(max int) []protocol.Event {
	if max <= 0 {
		return nil
	}
	var events []protocol.Event
	for len(events) < max {
		select {
		case evt := <-b.outbound:
			events = append(events, evt)
		default:
			return events
		}
	}
	return events
}

// Dropped returns the count of outbound messages lost to a full queue.
func (b *Bus) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Registered returns the ids of all workers with a live inbound queue.
func (b *Bus) Registered() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.inbound))
	for id := range b.inbound {
		ids = append(ids, id)
	}
	return ids
}
