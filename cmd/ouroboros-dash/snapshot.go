package main

import (
	"context"
	"encoding/json"
	"fmt"

	"ouroboros/pkg/config"
)

// robotMode outputs a JSON snapshot for piped/scripted use.
func robotMode(cfg config.Config) ([]byte, error) {
	snap := fetchSnapshot(context.Background(), cfg)

	out := map[string]any{
		"supervisor_alive": snap.SupervisorAlive,
		"supervisor_pid":   snap.SupervisorPID,
		"queue":            snap.Queue,
		"events":           snap.Events,
	}
	if snap.HaveState {
		out["session_id"] = snap.Runtime.SessionID
		out["branch"] = snap.Runtime.Branch
		out["spent_usd"] = snap.Runtime.SpentUSD
		out["budget_usd"] = snap.Settings.TotalBudgetUSD
		out["evolution_enabled"] = snap.Runtime.EvolutionEnabled
		out["background_enabled"] = snap.Runtime.BackgroundEnabled
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}
