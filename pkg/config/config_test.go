package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TickInterval != 500*time.Millisecond {
		t.Errorf("tick = %s", cfg.TickInterval)
	}
	if len(cfg.AgentArgv) == 0 {
		t.Error("default agent argv empty")
	}
	if cfg.SocketPath() != filepath.Join(cfg.Home, "supervisor.sock") {
		t.Errorf("socket path = %s", cfg.SocketPath())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ouroboros.toml")
	content := `
home = "/var/lib/ouroboros"
repo_dir = "/srv/agent-repo"
agent_argv = ["python", "agent.py"]
tick_interval = "250ms"
log_retention_days = 7

[bridge]
inbox_dir = "/var/lib/ouroboros/in"
outbox_dir = "/var/lib/ouroboros/out"
fallback_poll = "5s"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Home != "/var/lib/ouroboros" || cfg.RepoDir != "/srv/agent-repo" {
		t.Errorf("paths = %s, %s", cfg.Home, cfg.RepoDir)
	}
	if cfg.TickInterval != 250*time.Millisecond {
		t.Errorf("tick = %s", cfg.TickInterval)
	}
	if cfg.Bridge.InboxDir != "/var/lib/ouroboros/in" || cfg.Bridge.FallbackPoll != 5*time.Second {
		t.Errorf("bridge = %+v", cfg.Bridge)
	}
	if cfg.LogRetentionDays != 7 {
		t.Errorf("retention = %d", cfg.LogRetentionDays)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "malformed toml", content: "home = [unclosed"},
		{name: "zero tick", content: `tick_interval = "0s"`},
		{name: "empty argv", content: "agent_argv = []"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "bad.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
