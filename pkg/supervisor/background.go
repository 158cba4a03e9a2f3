package supervisor

import "time"

// DefaultBackgroundInterval is how often the background consciousness
// produces a task when enabled and the system is otherwise quiet.
const DefaultBackgroundInterval = 30 * time.Minute

// backgroundPrompts rotate round-robin. They are deliberately open-ended:
// the point of the background consciousness is unprompted reflection, not
// a fixed checklist.
var backgroundPrompts = []string{
	"Review your recent task history. Is there a recurring failure or friction point worth fixing?",
	"Read through your own codebase for a few minutes. Note anything that surprised you and why.",
	"Check the repository for stale branches, unfinished experiments, or TODOs you left behind.",
	"Think about what the owner asked for most recently. Is there follow-up work they have not asked for yet?",
	"Summarize what changed about you since the last stable promotion, in a paragraph.",
}

// BackgroundConsciousness decides when the next autonomous background
// task is due and what its prompt should be.
type BackgroundConsciousness struct {
	interval  time.Duration
	next      int
	lastFired time.Time
}

// NewBackgroundConsciousness creates a generator with the given cadence;
// zero means DefaultBackgroundInterval.
func NewBackgroundConsciousness(interval time.Duration) *BackgroundConsciousness {
	if interval <= 0 {
		interval = DefaultBackgroundInterval
	}
	return &BackgroundConsciousness{interval: interval}
}

// Next returns a prompt when one is due. Firing resets the clock, so a
// busy queue simply delays the next thought rather than stacking them.
func (b *BackgroundConsciousness) Next(now time.Time) (string, bool) {
	if !b.lastFired.IsZero() && now.Sub(b.lastFired) < b.interval {
		return "", false
	}
	prompt := backgroundPrompts[b.next%len(backgroundPrompts)]
	b.next++
	b.lastFired = now
	return prompt, true
}

// Reset pushes the next firing a full interval out, used when background
// mode is toggled on so it does not fire instantly on stale state.
func (b *BackgroundConsciousness) Reset(now time.Time) {
	b.lastFired = now
}
