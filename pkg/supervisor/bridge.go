package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// OwnerMessage is one inbound message from the owner's chat surface.
type OwnerMessage struct {
	ChannelID  int64     `json:"channel_id"`
	Author     string    `json:"author,omitempty"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Bridge connects the supervisor to the owner's chat surface. Drain never
// blocks; the tick loop calls it once per tick.
type Bridge interface {
	Drain(max int) []OwnerMessage
	Send(channelID int64, text string, markdown bool) error
	Close() error
}

// FileBridge is a Bridge backed by two directories: message files dropped
// into the inbox are consumed (and deleted), chat replies are written to
// the outbox. An fsnotify watcher keeps latency low; a fallback poll
// covers missed events, the same safety net the rest of the system uses
// for anything inotify-shaped.
// defaultMaxOutbox bounds how many unconsumed chat files may accumulate
// in the outbox before the oldest are dropped.
const defaultMaxOutbox = 512

type FileBridge struct {
	inboxDir  string
	outboxDir string
	poll      time.Duration
	maxOutbox int

	mu      sync.Mutex
	pending []OwnerMessage

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
}

// NewFileBridge creates the directories if needed and starts watching the
// inbox.
func NewFileBridge(inboxDir, outboxDir string, fallbackPoll time.Duration) (*FileBridge, error) {
	for _, dir := range []string{inboxDir, outboxDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create bridge dir %s: %w", dir, err)
		}
	}
	if fallbackPoll <= 0 {
		fallbackPoll = 10 * time.Second
	}
	b := &FileBridge{
		inboxDir:  inboxDir,
		outboxDir: outboxDir,
		poll:      fallbackPoll,
		maxOutbox: defaultMaxOutbox,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(inboxDir); err != nil {
			_ = watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}
	b.watcher = watcher

	go b.watchLoop()
	b.scanInbox()
	return b, nil
}

// watchLoop collects inbox changes until Close. Pure polling when the
// watcher could not be created.
func (b *FileBridge) watchLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	if b.watcher != nil {
		events = b.watcher.Events
	}
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.scanInbox()
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			b.scanInbox()
		}
	}
}

// scanInbox reads, queues, and removes every message file currently in
// the inbox, oldest filename first. Writers are expected to create files
// atomically (write elsewhere, rename in).
func (b *FileBridge) scanInbox() {
	entries, err := os.ReadDir(b.inboxDir)
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(b.inboxDir, name)
		data, err := os.ReadFile(path) //nolint:gosec // inbox path is config-derived
		if err != nil {
			continue
		}
		var msg OwnerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed message files get removed too, or they would be
			// retried every poll forever.
			_ = os.Remove(path)
			continue
		}
		if msg.ReceivedAt.IsZero() {
			msg.ReceivedAt = time.Now()
		}
		_ = os.Remove(path)

		b.mu.Lock()
		b.pending = append(b.pending, msg)
		b.mu.Unlock()
	}
}

// Drain implements Bridge.
func (b *FileBridge) Drain(max int) []OwnerMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if max <= 0 || len(b.pending) == 0 {
		return nil
	}
	n := min(max, len(b.pending))
	out := make([]OwnerMessage, n)
	copy(out, b.pending[:n])
	b.pending = append(b.pending[:0], b.pending[n:]...)
	return out
}

// outboundChat is the file format written to the outbox.
type outboundChat struct {
	ChannelID int64     `json:"channel_id"`
	Text      string    `json:"text"`
	Markdown  bool      `json:"markdown"`
	SentAt    time.Time `json:"sent_at"`
}

// Send implements Bridge. The file is written to a temp name and renamed
// in so outbox consumers never see partial JSON.
func (b *FileBridge) Send(channelID int64, text string, markdown bool) error {
	data, err := json.Marshal(outboundChat{
		ChannelID: channelID,
		Text:      text,
		Markdown:  markdown,
		SentAt:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal outbound chat: %w", err)
	}

	name := fmt.Sprintf("%d-%s.json", time.Now().UnixNano(), uuid.NewString()[:8])
	tmp := filepath.Join(b.outboxDir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write outbound chat: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(b.outboxDir, name)); err != nil {
		return fmt.Errorf("publish outbound chat: %w", err)
	}
	b.rotateOutbox()
	return nil
}

// rotateOutbox drops the oldest chat files once the outbox exceeds its
// cap. A consumer that has stopped reading must not fill the disk; the
// newest messages are the ones worth keeping.
func (b *FileBridge) rotateOutbox() {
	entries, err := os.ReadDir(b.outboxDir)
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= b.maxOutbox {
		return
	}
	// Filenames start with a nanosecond timestamp, so lexical order is
	// delivery order.
	sort.Strings(names)
	for _, name := range names[:len(names)-b.maxOutbox] {
		_ = os.Remove(filepath.Join(b.outboxDir, name))
	}
}

// Close stops the watcher and the poll loop.
func (b *FileBridge) Close() error {
	close(b.stop)
	<-b.done
	if b.watcher != nil {
		return b.watcher.Close()
	}
	return nil
}
