package protocol

import (
	"fmt"
	"time"
)

// CapacityError is returned by the queue when the pending ceiling is hit.
// The caller must retry later; the task was not accepted.
type CapacityError struct {
	Pending int
	Limit   int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("task queue full: %d pending (limit %d)", e.Pending, e.Limit)
}

// WorkerUnavailableError means no idle worker is eligible for a task kind.
// The task stays pending; this is informational, not fatal.
type WorkerUnavailableError struct {
	Kind TaskKind
}

func (e *WorkerUnavailableError) Error() string {
	return fmt.Sprintf("no idle worker eligible for %s tasks", e.Kind)
}

// TimeoutError reports a task deadline crossing. Hard distinguishes the
// forced-termination threshold from the warning threshold.
type TimeoutError struct {
	TaskID  string
	Hard    bool
	Elapsed time.Duration
	Limit   time.Duration
}

func (e *TimeoutError) Error() string {
	kind := "soft"
	if e.Hard {
		kind = "hard"
	}
	return fmt.Sprintf("task %s crossed %s timeout: ran %s (limit %s)",
		e.TaskID, kind, e.Elapsed.Round(time.Second), e.Limit)
}

// SafetyRejectedError means the safety gate refused a mutating action.
// The rationale is surfaced verbatim to the agent and the owner.
type SafetyRejectedError struct {
	Tool      string
	Rationale string
}

func (e *SafetyRejectedError) Error() string {
	return fmt.Sprintf("safety gate rejected %s: %s", e.Tool, e.Rationale)
}

// CorruptStateError reports a persisted document that failed integrity
// checks on load. Callers fall back to a default instead of crashing.
type CorruptStateError struct {
	Key  string
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt state document %q at %s: %v", e.Key, e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }

// GitOperationError reports a failed checkout/reset/promotion. The rescue
// snapshot, if one was taken, is preserved at RescuePath. Never retried
// automatically.
type GitOperationError struct {
	Op         string // e.g. "rescue_and_reset", "promote"
	Target     string // sha, tag, or branch
	RescuePath string // non-empty if a rescue snapshot was written before the failure
	Err        error
}

func (e *GitOperationError) Error() string {
	if e.RescuePath != "" {
		return fmt.Sprintf("git %s to %s failed (rescue snapshot preserved at %s): %v",
			e.Op, e.Target, e.RescuePath, e.Err)
	}
	return fmt.Sprintf("git %s to %s failed: %v", e.Op, e.Target, e.Err)
}

func (e *GitOperationError) Unwrap() error { return e.Err }
