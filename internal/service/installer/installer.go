package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/repo-bootstrap/internal/command"
	"github.com/oshokin/repo-bootstrap/internal/logger"
)

var (
	// ErrManifestMissing means the manifest file is absent; nothing was run.
	ErrManifestMissing = errors.New("dependency manifest not found")
	// ErrInstallFailed means the package manager exited with a non-zero status.
	ErrInstallFailed = errors.New("dependency installation failed")

	errNoRunner = errors.New("command runner is not set")
)

// Options are inputs of a single installation.
type Options struct {
	// Runner executes the package manager.
	Runner command.Runner
	// Interpreter owns the package manager, invoked as `<interpreter> -m pip`.
	Interpreter string
	// WorkDir holds the manifest; empty means the current directory.
	WorkDir string
	// Manifest is the requirements filename inside WorkDir.
	Manifest string
}

// pipEnv keeps pip non-interactive and drops its self-upgrade notice from stderr.
var pipEnv = []string{ //nolint:gochecknoglobals // Read-only.
	"PIP_NO_INPUT=1",
	"PIP_DISABLE_PIP_VERSION_CHECK=1",
}

// Command returns the package manager invocation for opts.
func Command(opts *Options) command.Command {
	return command.Command{
		Binary: opts.Interpreter,
		Args:   []string{"-m", "pip", "install", "-r", opts.Manifest},
		Dir:    opts.WorkDir,
		Env:    append([]string(nil), pipEnv...),
	}
}

// Install runs the package manager against the manifest. A missing manifest
// returns ErrManifestMissing without invoking the runner. A non-zero exit
// returns the result together with ErrInstallFailed.
func Install(ctx context.Context, opts *Options) (*command.Result, error) {
	ctx = logger.WithName(ctx, "install")

	if opts.Runner == nil {
		return nil, errNoRunner
	}

	manifestPath := filepath.Join(opts.WorkDir, opts.Manifest)
	if _, err := os.Stat(manifestPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestMissing, manifestPath)
		}

		return nil, fmt.Errorf("stat %s: %w", manifestPath, err)
	}

	cmd := Command(opts)

	logger.InfoKV(ctx, "Running package manager", "command", cmd.String())

	result, err := opts.Runner.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}

	if result.Stdout != "" {
		logger.Debug(ctx, result.Stdout)
	}

	if !result.Succeeded() {
		return result, fmt.Errorf("%w: exit code %d", ErrInstallFailed, result.ExitCode)
	}

	logger.InfoKV(ctx, "Dependencies installed", "duration", result.Duration)

	return result, nil
}
