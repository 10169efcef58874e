// Package transform turns configured step definitions into the transform
// graph run after every load.
package transform

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"mvdan.cc/sh/v3/shell"

	"github.com/BartekS5/elt/pkg/logger"
)

// maxOutputLines bounds how much command output is logged per command.
const maxOutputLines = 200

// Querier runs SQL against the warehouse.
type Querier interface {
	RunQuery(ctx context.Context, query string) error
}

// CommandAction runs commands sequentially in Dir. The first failing command
// fails the action.
type CommandAction struct {
	Step     string
	Commands []string
	Dir      string
	// Env entries are KEY=VALUE and override the process environment.
	Env []string
}

func (a *CommandAction) lookup(name string) string {
	for i := len(a.Env) - 1; i >= 0; i-- {
		if k, v, ok := strings.Cut(a.Env[i], "="); ok && k == name {
			return v
		}
	}
	return os.Getenv(name)
}

// Argv splits command into arguments, expanding $VARS from the action env.
func (a *CommandAction) Argv(command string) ([]string, error) {
	argv, err := shell.Fields(command, a.lookup)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return argv, nil
}

func (a *CommandAction) Run(ctx context.Context) error {
	log := logger.With("step", a.Step)
	for _, command := range a.Commands {
		argv, err := a.Argv(command)
		if err != nil {
			return err
		}

		// nolint: gosec
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = a.Dir
		cmd.Env = append(os.Environ(), a.Env...)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		log.Info("running command", "command", command, "dir", a.Dir)
		runErr := cmd.Run()
		tail := logOutput(log.Info, &out)

		if runErr != nil {
			var exitErr *exec.ExitError
			if errors.As(runErr, &exitErr) && tail != "" {
				return fmt.Errorf("command %q exited with code %d: %s", command, exitErr.ExitCode(), tail)
			}
			return fmt.Errorf("command %q failed: %w", command, runErr)
		}
	}
	return nil
}

// logOutput logs the captured lines and returns the last non-empty one.
func logOutput(logf func(string, ...any), out *bytes.Buffer) string {
	var last string
	n := 0
	sc := bufio.NewScanner(out)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		last = line
		if n < maxOutputLines {
			logf("command output", "line", line)
		}
		n++
	}
	if n > maxOutputLines {
		logf("command output truncated", "lines", n, "logged", maxOutputLines)
	}
	return last
}

// SQLAction runs statements in order against the warehouse.
type SQLAction struct {
	Step       string
	Warehouse  Querier
	Statements []string
}

func (a *SQLAction) Run(ctx context.Context) error {
	for i, stmt := range a.Statements {
		logger.Debug("running statement", "step", a.Step, "index", i)
		if err := a.Warehouse.RunQuery(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return nil
}
