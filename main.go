package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tonimelisma/mega-go/pkg/mega"
)

// Exit codes.
const (
	exitOK     = 0
	exitError  = 1
	exitPaused = 2
	exitAuth   = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI with args and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteC()

	if cmd == nil {
		cmd = root
	}

	if cc := cliContextFrom(cmd.Context()); cc != nil {
		if closeErr := cc.Close(); closeErr != nil {
			cc.Logger.Warn("cleanup failed", slog.String("error", closeErr.Error()))
		}
	}

	if err == nil {
		return exitOK
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)

	switch {
	case errors.Is(err, mega.ErrPaused):
		return exitPaused
	case errors.Is(err, mega.ErrAuth), errors.Is(err, errNotLoggedIn):
		return exitAuth
	default:
		return exitError
	}
}
