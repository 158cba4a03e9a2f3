// Package main is the entry point for the ouroboros CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"ouroboros/pkg/protocol"
	"ouroboros/pkg/supervisor"
)

func main() {
	err := newRootCmd().Execute()
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, supervisor.ErrRestartRequested):
		// The outer launcher treats this exit code as "relaunch me".
		os.Exit(protocol.RestartExitCode)
	case errors.Is(err, supervisor.ErrPanicRequested):
		fmt.Fprintln(os.Stderr, "panic shutdown")
		os.Exit(1)
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
