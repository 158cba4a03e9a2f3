package main

import (
	"os"
	"strings"
	"testing"
)

func TestREADMECoversOperatorSurface(t *testing.T) {
	content, err := os.ReadFile("README.md")
	if err != nil {
		t.Fatalf("Failed to read README.md: %v", err)
	}

	readmeText := string(content)

	// Every subcommand an operator needs should be documented.
	for _, cmd := range []string{
		"ouroboros start",
		"ouroboros stop",
		"ouroboros status",
		"ouroboros log",
		"ouroboros dash",
		"ouroboros rollback",
		"ouroboros promote",
	} {
		if !strings.Contains(readmeText, cmd) {
			t.Errorf("README.md missing documentation for %q", cmd)
		}
	}

	// Owner commands table.
	for _, cmd := range []string{"/status", "/evolve", "/bg", "/review", "/restart", "/panic"} {
		if !strings.Contains(readmeText, cmd) {
			t.Errorf("README.md missing owner command %q", cmd)
		}
	}
}
