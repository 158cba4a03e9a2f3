package protocol

import "strings"

// CommandName identifies an owner slash command intercepted by the
// supervisor before any task is created.
type CommandName string

// Owner command constants.
const (
	CmdStatus  CommandName = "status"
	CmdEvolve  CommandName = "evolve"
	CmdBg      CommandName = "bg"
	CmdReview  CommandName = "review"
	CmdRestart CommandName = "restart"
	CmdPanic   CommandName = "panic"
)

// Command is a parsed owner slash command.
type Command struct {
	Name CommandName
	Arg  string // normalized argument: "on"/"off" for evolve, "start"/"stop"/"status" for bg
}

// ParseCommand parses a leading-slash owner command. Returns ok=false for
// plain chat text. Matching is case-insensitive and tolerant of trailing
// arguments, mirroring the owner-facing command surface.
func ParseCommand(text string) (Command, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return Command{}, false
	}
	fields := strings.Fields(strings.ToLower(trimmed))
	name := strings.TrimPrefix(fields[0], "/")
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch CommandName(name) {
	case CmdStatus, CmdReview, CmdRestart, CmdPanic:
		return Command{Name: CommandName(name)}, true
	case CmdEvolve:
		// Anything that is not an explicit off-word turns evolution on.
		switch arg {
		case "off", "stop", "0":
			return Command{Name: CmdEvolve, Arg: "off"}, true
		default:
			return Command{Name: CmdEvolve, Arg: "on"}, true
		}
	case CmdBg:
		switch arg {
		case "start", "on", "1":
			return Command{Name: CmdBg, Arg: "start"}, true
		case "stop", "off", "0":
			return Command{Name: CmdBg, Arg: "stop"}, true
		default:
			return Command{Name: CmdBg, Arg: "status"}, true
		}
	default:
		return Command{}, false
	}
}
