// Package config loads the static supervisor configuration from
// ouroboros.toml. Static config covers things fixed for the life of the
// process: paths, the agent command, tick cadence. Operator-adjustable
// knobs (worker count, budget, timeouts) live in the state store instead,
// where commands can change them at runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the static supervisor configuration.
type Config struct {
	// Home is the data directory; defaults to ~/.ouroboros.
	Home string `toml:"home"`
	// RepoDir is the git repository the agent lives in and modifies.
	RepoDir string `toml:"repo_dir"`

	// AgentArgv is the command each worker runs per task, with the task
	// prompt appended. Example: ["claude", "-p"].
	AgentArgv []string `toml:"agent_argv"`

	// TickInterval is the supervisor loop cadence.
	TickInterval time.Duration `toml:"tick_interval"`

	// LogRetentionDays bounds the event log; older rows are pruned.
	LogRetentionDays int `toml:"log_retention_days"`

	Bridge BridgeConfig `toml:"bridge"`
}

// BridgeConfig configures the file bridge that carries owner messages in
// and chat replies out.
type BridgeConfig struct {
	// InboxDir is watched for incoming message files.
	InboxDir string `toml:"inbox_dir"`
	// OutboxDir receives outgoing chat files.
	OutboxDir string `toml:"outbox_dir"`
	// FallbackPoll is the safety-net poll interval for when fsnotify
	// misses events.
	FallbackPoll time.Duration `toml:"fallback_poll"`
}

// Default returns the built-in configuration.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".ouroboros")
	return Config{
		Home:             dataDir,
		RepoDir:          ".",
		AgentArgv:        []string{"claude", "-p"},
		TickInterval:     500 * time.Millisecond,
		LogRetentionDays: 30,
		Bridge: BridgeConfig{
			InboxDir:     filepath.Join(dataDir, "bridge", "inbox"),
			OutboxDir:    filepath.Join(dataDir, "bridge", "outbox"),
			FallbackPoll: 10 * time.Second,
		},
	}
}

// Load reads the config file at path, layering it over the defaults. A
// missing file yields the defaults; a malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // config path is operator-supplied
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.TickInterval <= 0 {
		return Config{}, fmt.Errorf("config %s: tick_interval must be positive", path)
	}
	if len(cfg.AgentArgv) == 0 {
		return Config{}, fmt.Errorf("config %s: agent_argv must not be empty", path)
	}
	return cfg, nil
}

// SocketPath returns the supervisor socket location under Home.
func (c Config) SocketPath() string { return filepath.Join(c.Home, "supervisor.sock") }

// DBPath returns the event log location under Home.
func (c Config) DBPath() string { return filepath.Join(c.Home, "events.db") }

// PIDPath returns the supervisor pid file location under Home.
func (c Config) PIDPath() string { return filepath.Join(c.Home, "supervisor.pid") }

// StateDir returns the state store directory under Home.
func (c Config) StateDir() string { return filepath.Join(c.Home, "state") }

// RescueDir returns where pre-rollback patches are kept under Home.
func (c Config) RescueDir() string { return filepath.Join(c.Home, "rescue") }

// SafetyPolicyPath returns the safety policy file location under Home.
func (c Config) SafetyPolicyPath() string { return filepath.Join(c.Home, "safety.yaml") }
