package supervisor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"ouroboros/pkg/protocol"
)

// handleCommand executes one parsed owner command. Commands act
// immediately, inside the tick, so their effects are visible to the
// scheduling steps of the same tick.
func (s *Supervisor) handleCommand(ctx context.Context, channelID int64, cmd protocol.Command) {
	s.logEvent(ctx, "command", "owner", "", "", string(cmd.Name)+" "+cmd.Arg)

	switch cmd.Name {
	case protocol.CmdStatus:
		s.say(channelID, s.statusText())

	case protocol.CmdEvolve:
		s.commandEvolve(ctx, channelID, cmd.Arg)

	case protocol.CmdBg:
		s.commandBg(channelID, cmd.Arg)

	case protocol.CmdReview:
		task, err := s.queue.Submit(protocol.KindReview, channelID, protocol.TaskInput{
			Text: "Review your recent changes and current state. Report what improved, what regressed, and what you would do next.",
		})
		if err != nil {
			s.say(channelID, "Could not queue the review: "+err.Error())
			return
		}
		s.logEvent(ctx, "task_submitted", "owner", task.ID, "", string(task.Kind))
		s.say(channelID, "Review queued.")

	case protocol.CmdRestart:
		s.say(channelID, "Restarting. Queued work is persisted and will survive.")
		s.stopErr = ErrRestartRequested

	case protocol.CmdPanic:
		s.say(channelID, "Panic stop. Killing all workers now; nothing new will run.")
		s.stopErr = ErrPanicRequested
	}
}

// commandEvolve toggles self-modification. Turning it off also clears
// pending evolution tasks and aborts any running one; the owner asked for
// the hands to come off the wheel.
func (s *Supervisor) commandEvolve(ctx context.Context, channelID int64, arg string) {
	if arg == "on" {
		s.runtime.EvolutionEnabled = true
		s.saveRuntime(ctx)
		s.say(channelID, "Evolution on.")
		return
	}

	s.runtime.EvolutionEnabled = false
	pruned := s.queue.PruneKind(protocol.KindEvolution)
	aborted := 0
	for _, task := range s.queue.Running() {
		if task.Kind != protocol.KindEvolution {
			continue
		}
		_ = s.deps.Bus.Publish(task.WorkerID, protocol.Message{
			Type:  protocol.MsgAbort,
			Abort: &protocol.AbortPayload{TaskID: task.ID, Reason: "evolution disabled"},
		})
		aborted++
	}
	s.saveRuntime(ctx)
	s.saveQueue(ctx, "evolve_off")
	s.logEvent(ctx, "evolution_off", "owner", "", "", fmt.Sprintf("pruned %d, aborted %d", pruned, aborted))
	s.say(channelID, fmt.Sprintf("Evolution off. Dropped %d queued and aborted %d running evolution tasks.", pruned, aborted))
}

func (s *Supervisor) commandBg(channelID int64, arg string) {
	switch arg {
	case "start":
		s.runtime.BackgroundEnabled = true
		s.bg.Reset(s.nowFunc())
		s.say(channelID, "Background consciousness on.")
	case "stop":
		s.runtime.BackgroundEnabled = false
		dropped := s.queue.PruneKind(protocol.KindBackground)
		s.say(channelID, fmt.Sprintf("Background consciousness off. Dropped %d queued background tasks.", dropped))
	default:
		state := "off"
		if s.runtime.BackgroundEnabled {
			state = "on"
		}
		s.say(channelID, "Background consciousness is "+state+".")
	}
}

// statusText renders the /status report.
func (s *Supervisor) statusText() string {
	now := s.nowFunc()
	counts := s.queue.Counts()

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s, up %s, branch %s",
		s.runtime.SessionID, now.Sub(s.runtime.StartedAt).Round(time.Second), s.runtime.Branch)
	if s.runtime.HeadSHA != "" {
		fmt.Fprintf(&b, " @ %s", shortSHA(s.runtime.HeadSHA))
	}
	fmt.Fprintf(&b, "\nBudget: $%.2f of $%.2f spent", s.runtime.SpentUSD, s.settings.TotalBudgetUSD)
	fmt.Fprintf(&b, "\nQueue: %d pending, %d running, %d done, %d failed, %d timed out",
		counts[protocol.StatusPending], counts[protocol.StatusRunning],
		counts[protocol.StatusDone], counts[protocol.StatusFailed], counts[protocol.StatusTimedOut])
	fmt.Fprintf(&b, "\nEvolution: %s, background: %s", onOff(s.runtime.EvolutionEnabled), onOff(s.runtime.BackgroundEnabled))

	workers := s.deps.Pool.Workers()
	sort.Slice(workers, func(i, j int) bool { return workers[i].ID < workers[j].ID })
	fmt.Fprintf(&b, "\nWorkers (%d):", len(workers))
	for _, w := range workers {
		fmt.Fprintf(&b, "\n  %s: %s", w.ID, w.State)
		if w.PID != 0 && w.State != protocol.WorkerDead {
			fmt.Fprintf(&b, " (pid %d)", w.PID)
		}
	}
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
