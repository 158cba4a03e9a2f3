package statestore

import (
	"time"

	"ouroboros/pkg/protocol"
)

// Document keys used by the supervisor.
const (
	KeySettings = "settings"
	KeyRuntime  = "runtime"
	KeyQueue    = "queue"
)

// Settings is the owner-editable configuration document. It mirrors the
// static TOML config but can be rewritten at runtime from the settings UI.
type Settings struct {
	MaxWorkers     int     `json:"max_workers"`
	TotalBudgetUSD float64 `json:"total_budget_usd"`
	SoftTimeoutSec int     `json:"soft_timeout_sec"`
	HardTimeoutSec int     `json:"hard_timeout_sec"`
	Model          string  `json:"model"`
	ModelCode      string  `json:"model_code"`
	ModelLight     string  `json:"model_light"`
}

// DefaultSettings returns the first-run settings document.
func DefaultSettings() Settings {
	return Settings{
		MaxWorkers:     5,
		TotalBudgetUSD: 10.0,
		SoftTimeoutSec: 600,
		HardTimeoutSec: 1800,
		Model:          "anthropic/claude-sonnet-4.6",
		ModelCode:      "anthropic/claude-sonnet-4.6",
		ModelLight:     "google/gemini-2.5-flash",
	}
}

// SoftTimeout returns the soft timeout as a duration.
func (s Settings) SoftTimeout() time.Duration {
	return time.Duration(s.SoftTimeoutSec) * time.Second
}

// HardTimeout returns the hard timeout as a duration.
func (s Settings) HardTimeout() time.Duration {
	return time.Duration(s.HardTimeoutSec) * time.Second
}

// RuntimeState is the process-wide mutable record. Single writer (the
// supervisor loop); the transport layer reads it for dashboard queries
// through the store's lock.
type RuntimeState struct {
	SessionID          string     `json:"session_id"`
	SpentUSD           float64    `json:"spent_usd"`
	Branch             string     `json:"branch"`
	HeadSHA            string     `json:"head_sha,omitempty"`
	EvolutionEnabled   bool       `json:"evolution_enabled"`
	BackgroundEnabled  bool       `json:"background_enabled"`
	StartedAt          time.Time  `json:"started_at"`
	OwnerChannelID     *int64     `json:"owner_channel_id,omitempty"`
	LastOwnerMessageAt *time.Time `json:"last_owner_message_at,omitempty"`
}

// DefaultRuntimeState returns the boot-time runtime document.
func DefaultRuntimeState(sessionID string, now time.Time) RuntimeState {
	return RuntimeState{
		SessionID:        sessionID,
		Branch:           protocol.BranchDev,
		EvolutionEnabled: true,
		StartedAt:        now,
	}
}

// QueueSnapshot is stored under KeyQueue; see protocol.QueueSnapshot for
// the document shape.
type QueueSnapshot = protocol.QueueSnapshot
