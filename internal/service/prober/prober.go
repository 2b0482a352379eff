package prober

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/repo-bootstrap/internal/command"
	"github.com/oshokin/repo-bootstrap/internal/logger"
)

var (
	// ErrProbeFailed means the probe script exited with a non-zero status.
	ErrProbeFailed = errors.New("probe failed")

	errNoRunner = errors.New("command runner is not set")
)

// ScriptFileMode is the permission of the written probe script.
const ScriptFileMode os.FileMode = 0o644

// Options are inputs of a single probe run.
type Options struct {
	// Runner executes the interpreter.
	Runner command.Runner
	// Interpreter runs the script.
	Interpreter string
	// WorkDir is where the script is written and run.
	WorkDir string
	// Filename of the script inside WorkDir; an existing file is overwritten.
	Filename string
	// Script is what the probe imports.
	Script Script
}

// Probe writes the script and runs it. A non-zero exit returns the result
// together with ErrProbeFailed.
func Probe(ctx context.Context, opts *Options) (*command.Result, error) {
	ctx = logger.WithName(ctx, "probe")

	if opts.Runner == nil {
		return nil, errNoRunner
	}

	contents, err := opts.Script.Render()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(opts.WorkDir, opts.Filename)
	if err = os.WriteFile(path, contents, ScriptFileMode); err != nil {
		return nil, fmt.Errorf("write probe: %w", err)
	}

	logger.InfoKV(ctx, "Probe script written", "path", path)

	cmd := command.Command{
		Binary: opts.Interpreter,
		Args:   []string{opts.Filename},
		Dir:    opts.WorkDir,
	}

	result, err := opts.Runner.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}

	for line := range strings.Lines(result.Stdout) {
		logger.Info(ctx, strings.TrimRight(line, "\r\n"))
	}

	if !result.Succeeded() {
		return result, fmt.Errorf("%w: exit code %d: %s",
			ErrProbeFailed, result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	return result, nil
}
