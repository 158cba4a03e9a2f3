// Package main implements the ouroboros-dash interactive dashboard.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"ouroboros/pkg/config"
)

func main() {
	cfg, err := loadDashConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Piped output gets a JSON snapshot instead of a TUI.
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		data, err := robotMode(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(data))
		return
	}

	p := tea.NewProgram(newModel(cfg), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}

// loadDashConfig resolves the supervisor config the same way the main CLI
// does: OUROBOROS_CONFIG override, then ~/.ouroboros/ouroboros.toml.
func loadDashConfig() (config.Config, error) {
	if path := os.Getenv("OUROBOROS_CONFIG"); path != "" {
		return config.Load(path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return config.Config{}, fmt.Errorf("get home dir: %w", err)
	}
	return config.Load(filepath.Join(home, ".ouroboros", "ouroboros.toml"))
}
