package worker

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"ouroboros/pkg/protocol"
	"ouroboros/pkg/safety"
)

// ExecAgent runs tasks by spawning an agent CLI subprocess per task and
// streaming its stdout back as chat. Every spawn is treated as a shell
// action and goes through the safety gate first, so a task cannot talk
// the agent into touching a protected path.
type ExecAgent struct {
	// Argv is the agent command; the task prompt is appended as the last
	// argument. Example: ["claude", "-p"].
	Argv []string
	// Workdir is the repository the agent operates in.
	Workdir string
	// Gate vets the spawn. Required.
	Gate *safety.Gate
	// Served restricts the task kinds this agent accepts; empty means all.
	Served []protocol.TaskKind
}

// Kinds implements Agent.
func (a *ExecAgent) Kinds() []protocol.TaskKind {
	if len(a.Served) > 0 {
		return a.Served
	}
	return []protocol.TaskKind{
		protocol.KindChat,
		protocol.KindEvolution,
		protocol.KindReview,
		protocol.KindBackground,
	}
}

// Execute implements Agent. The subprocess gets its own process group so
// an abort kills the whole tree.
func (a *ExecAgent) Execute(ctx context.Context, task protocol.Task, em Emitter) (string, error) {
	if len(a.Argv) == 0 {
		return "", fmt.Errorf("exec agent: empty argv")
	}

	argv := append(append([]string{}, a.Argv...), task.Input.Text)
	verdict, err := a.Gate.Check(ctx, safety.Action{
		Tool: "run_shell",
		Args: map[string]string{"command": strings.Join(argv, " "), "workdir": a.Workdir},
	})
	if err != nil {
		return "", err
	}
	if verdict.Class == safety.Suspicious {
		em.Log("warning", "safety: "+verdict.Rationale)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // argv is operator-configured
	cmd.Dir = a.Workdir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid kills the whole group, including agent descendants.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("agent stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start agent: %w", err)
	}

	var lastLine string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lastLine = line
		em.Chat(line, true)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("agent aborted: %w", ctx.Err())
		}
		return "", fmt.Errorf("agent exited: %w", err)
	}
	return lastLine, nil
}
