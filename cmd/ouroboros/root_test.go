package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeTestConfig writes a minimal ouroboros.toml under a temp home and
// returns its path. Commands under test get it via --config.
func writeTestConfig(t *testing.T) (cfgPath, home string) {
	t.Helper()
	home = t.TempDir()
	cfgPath = filepath.Join(home, "ouroboros.toml")
	content := `home = "` + home + `"
repo_dir = "` + home + `"
agent_argv = ["true"]
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	return cfgPath, home
}

// runCommand executes the CLI with the given args and returns its output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	want := []string{"start", "stop", "status", "worker", "log", "rollback", "promote", "dash"}
	for _, name := range want {
		found := false
		for _, sub := range root.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestRootVersion(t *testing.T) {
	t.Parallel()

	out, err := runCommand(t, "--version")
	if err != nil {
		t.Fatalf("--version: %v", err)
	}
	if !strings.HasPrefix(out, "ouroboros ") {
		t.Errorf("version output = %q", out)
	}
}

func TestWorkerCommandRequiresFlags(t *testing.T) {
	t.Parallel()

	if _, err := runCommand(t, "worker"); err == nil {
		t.Error("worker without --socket should fail")
	}
	if _, err := runCommand(t, "worker", "--socket", "/tmp/x.sock"); err == nil {
		t.Error("worker without --id should fail")
	}
}

func TestRollbackRequiresTarget(t *testing.T) {
	t.Parallel()

	if _, err := runCommand(t, "rollback"); err == nil {
		t.Error("rollback without a target should fail")
	}
}
