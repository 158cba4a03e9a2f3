// Package protocol defines the wire types shared between the Ouroboros
// supervisor and its worker processes: tasks, the line-delimited JSON
// message envelope, typed errors, and owner slash commands.
package protocol

import "time"

// TaskKind classifies a unit of agent work.
type TaskKind string

// Task kind constants.
const (
	KindChat       TaskKind = "chat"       // direct owner conversation
	KindEvolution  TaskKind = "evolution"  // self-improvement work on the agent's own source
	KindReview     TaskKind = "review"     // code/state review pass
	KindBackground TaskKind = "background" // consciousness-generated background work
)

// Valid reports whether k is one of the four known task kinds.
func (k TaskKind) Valid() bool {
	switch k {
	case KindChat, KindEvolution, KindReview, KindBackground:
		return true
	default:
		return false
	}
}

// TaskStatus is the lifecycle state of a task. Transitions only move
// forward: pending -> running -> {done, failed, timed_out}.
type TaskStatus string

// Task status constants.
const (
	StatusPending  TaskStatus = "pending"
	StatusRunning  TaskStatus = "running"
	StatusDone     TaskStatus = "done"
	StatusFailed   TaskStatus = "failed"
	StatusTimedOut TaskStatus = "timed_out"
)

// Terminal reports whether s is a final status.
func (s TaskStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusTimedOut
}

// TaskInput carries the payload a task was submitted with.
type TaskInput struct {
	Text          string `json:"text"`
	AttachmentRef string `json:"attachment_ref,omitempty"` // opaque reference resolved by the tool layer
}

// Task is one unit of agent work. Owned by the queue; mutated only by the
// supervisor loop and by events from the assigned worker.
type Task struct {
	ID           string     `json:"id"`
	Kind         TaskKind   `json:"kind"`
	ChannelID    int64      `json:"channel_id"` // originating chat channel
	Input        TaskInput  `json:"input"`
	Status       TaskStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	WorkerID     string     `json:"worker_id,omitempty"` // assigned worker, empty when pending
	SoftDeadline time.Time  `json:"soft_deadline,omitempty"`
	HardDeadline time.Time  `json:"hard_deadline,omitempty"`
}

// QueueSnapshot is the serialized view of all non-terminal tasks, written
// after every scheduling tick and read once at startup.
type QueueSnapshot struct {
	SavedAt time.Time `json:"saved_at"`
	Reason  string    `json:"reason"` // e.g. "startup", "main_loop", "evolve_off"
	Tasks   []Task    `json:"tasks"`
}

// WorkerState represents the supervisor-side view of a worker slot.
type WorkerState string

// Worker state constants.
const (
	WorkerIdle WorkerState = "idle"
	WorkerBusy WorkerState = "busy"
	WorkerDead WorkerState = "dead"
)
