package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

var (
	// ErrEmptyBinary is returned for a Command without a binary.
	ErrEmptyBinary = errors.New("command binary is empty")
	// ErrStart is returned when the process could not be launched.
	ErrStart = errors.New("start command")
)

// Command describes one process invocation.
type Command struct {
	// Binary is the executable path or name.
	Binary string
	// Args are passed to the binary as-is, no shell is involved.
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is appended to the parent's environment.
	Env []string
}

// String renders the command for logs.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Binary
	}

	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Result is the outcome of a process that ran to completion.
type Result struct {
	// Command is what was run.
	Command Command
	// ExitCode is the process exit status.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
	// Duration is the wall time of the run.
	Duration time.Duration
}

// Succeeded reports whether the process exited with status zero.
func (r *Result) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}

// Runner executes commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands on the host with os/exec.
type ExecRunner struct{}

// NewExecRunner returns a host runner.
func NewExecRunner() *ExecRunner {
	return new(ExecRunner)
}

// Run starts the command, waits for it and captures its output.
func (ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, ErrEmptyBinary
	}

	var stdout, stderr bytes.Buffer

	//nolint:gosec // Binary and arguments come from the settings file, not from remote input.
	process := exec.CommandContext(ctx, cmd.Binary, cmd.Args...)
	process.Dir = cmd.Dir
	process.Stdout = &stdout
	process.Stderr = &stderr

	if len(cmd.Env) > 0 {
		process.Env = append(os.Environ(), cmd.Env...)
	}

	started := time.Now()
	err := process.Run()

	result := &Result{
		Command:  cmd,
		ExitCode: process.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("%s: %w", cmd, ctxErr)
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("%w %s: %w", ErrStart, cmd, err)
	}

	return result, nil
}
