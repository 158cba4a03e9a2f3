package protocol_test

import (
	"testing"

	"ouroboros/pkg/protocol"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want protocol.Command
		ok   bool
	}{
		{"/status", protocol.Command{Name: protocol.CmdStatus}, true},
		{"  /STATUS  ", protocol.Command{Name: protocol.CmdStatus}, true},
		{"/panic", protocol.Command{Name: protocol.CmdPanic}, true},
		{"/restart", protocol.Command{Name: protocol.CmdRestart}, true},
		{"/review", protocol.Command{Name: protocol.CmdReview}, true},
		{"/evolve", protocol.Command{Name: protocol.CmdEvolve, Arg: "on"}, true},
		{"/evolve on", protocol.Command{Name: protocol.CmdEvolve, Arg: "on"}, true},
		{"/evolve off", protocol.Command{Name: protocol.CmdEvolve, Arg: "off"}, true},
		{"/evolve stop", protocol.Command{Name: protocol.CmdEvolve, Arg: "off"}, true},
		{"/evolve 0", protocol.Command{Name: protocol.CmdEvolve, Arg: "off"}, true},
		{"/bg", protocol.Command{Name: protocol.CmdBg, Arg: "status"}, true},
		{"/bg start", protocol.Command{Name: protocol.CmdBg, Arg: "start"}, true},
		{"/bg on", protocol.Command{Name: protocol.CmdBg, Arg: "start"}, true},
		{"/bg stop", protocol.Command{Name: protocol.CmdBg, Arg: "stop"}, true},
		{"hello there", protocol.Command{}, false},
		{"/unknown", protocol.Command{}, false},
		{"not /status inline", protocol.Command{}, false},
	}

	for _, tc := range tests {
		got, ok := protocol.ParseCommand(tc.text)
		if ok != tc.ok {
			t.Errorf("ParseCommand(%q) ok = %v, want %v", tc.text, ok, tc.ok)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tc.text, got, tc.want)
		}
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	t.Parallel()

	terminal := []protocol.TaskStatus{protocol.StatusDone, protocol.StatusFailed, protocol.StatusTimedOut}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []protocol.TaskStatus{protocol.StatusPending, protocol.StatusRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTaskKindValid(t *testing.T) {
	t.Parallel()

	for _, k := range []protocol.TaskKind{protocol.KindChat, protocol.KindEvolution, protocol.KindReview, protocol.KindBackground} {
		if !k.Valid() {
			t.Errorf("%s should be valid", k)
		}
	}
	if protocol.TaskKind("merge").Valid() {
		t.Error("unknown kind should be invalid")
	}
}
