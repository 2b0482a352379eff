package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/repo-bootstrap/internal/command"
	"github.com/oshokin/repo-bootstrap/internal/command/commandtest"
	"github.com/oshokin/repo-bootstrap/internal/config"
	"github.com/oshokin/repo-bootstrap/internal/domain/pipeline"
	"github.com/oshokin/repo-bootstrap/internal/logger"
	"github.com/oshokin/repo-bootstrap/internal/repository/marker"
	"github.com/oshokin/repo-bootstrap/internal/repository/report"
	"github.com/oshokin/repo-bootstrap/internal/service/fetcher"
	"github.com/oshokin/repo-bootstrap/internal/service/installer"
	"github.com/oshokin/repo-bootstrap/internal/service/prober"
	"github.com/oshokin/repo-bootstrap/internal/service/unpacker"
)

// recorder stubs every stage and remembers the order they ran in.
type recorder struct {
	mu    sync.Mutex
	order []pipeline.Stage

	fetchErr   error
	unpackErr  error
	installErr error
	probeErr   error
}

func (r *recorder) note(stage pipeline.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = append(r.order, stage)
}

func (r *recorder) ran() []pipeline.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]pipeline.Stage(nil), r.order...)
}

func (r *recorder) stages() Stages {
	return Stages{
		Fetch: func(_ context.Context, opts *fetcher.Options) (string, error) {
			r.note(pipeline.StageFetch)

			if r.fetchErr != nil {
				return "", r.fetchErr
			}

			return filepath.Join(opts.WorkDir, opts.Filename), nil
		},
		Unpack: func(context.Context, *unpacker.Options) error {
			r.note(pipeline.StageUnpack)

			return r.unpackErr
		},
		Install: func(context.Context, *installer.Options) (*command.Result, error) {
			r.note(pipeline.StageInstall)

			if r.installErr != nil {
				return &command.Result{ExitCode: 1, Stderr: "pip exploded"}, r.installErr
			}

			return &command.Result{}, nil
		},
		Probe: func(context.Context, *prober.Options) (*command.Result, error) {
			r.note(pipeline.StageProbe)

			if r.probeErr != nil {
				return &command.Result{ExitCode: 1}, r.probeErr
			}

			return &command.Result{}, nil
		},
	}
}

// writeSettings stores a settings file pointing at sourceURL and returns its path.
func writeSettings(t *testing.T, sourceURL string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, config.Save(path, &config.Config{
		SourceURL:     sourceURL,
		ProjectPrefix: "projectname",
	}))

	return path
}

// captureLogs returns a context whose logger writes into the returned buffer.
func captureLogs() (context.Context, *bytes.Buffer) {
	var buf bytes.Buffer

	return logger.ToContext(context.Background(), logger.New(&buf, zapcore.DebugLevel)), &buf
}

func runWith(t *testing.T, rec *recorder) (*pipeline.Report, string, string) {
	t.Helper()

	ctx, logs := captureLogs()
	workDir := t.TempDir()

	result, err := Run(ctx, &Options{
		ConfigPath: writeSettings(t, "https://example.com/archive/main.zip"),
		WorkDir:    workDir,
		Runner:     new(commandtest.Runner),
		Stages:     rec.stages(),
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	return result, logs.String(), workDir
}

// TestRun_AllStagesSucceed reaches PhaseDone and prints the completion banner.
func TestRun_AllStagesSucceed(t *testing.T) {
	t.Parallel()

	rec := new(recorder)
	result, logs, workDir := runWith(t, rec)

	require.Equal(t, pipeline.Stages(), rec.ran())
	require.Equal(t, pipeline.PhaseDone, result.Phase)
	require.True(t, result.Completed())
	require.Empty(t, result.Failed())
	require.NotEmpty(t, result.RunID)
	require.Equal(t, "https://example.com/archive/main.zip", result.SourceURL)
	require.False(t, result.FinishedAt.Before(result.StartedAt))
	require.Contains(t, logs, "INSTALLATION COMPLETE")
	require.Contains(t, logs, "from automl import FastPyTorchAutoML")

	// The marker is gone once the run ends.
	_, err := os.Stat(filepath.Join(workDir, marker.Filename))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRun_GateFailuresHalt stops after a failed fetch or unpack.
func TestRun_GateFailuresHalt(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		rec  *recorder
		want []pipeline.Stage
	}{
		"fetch": {
			rec:  &recorder{fetchErr: fmt.Errorf("%w: connection refused", fetcher.ErrFetch)},
			want: []pipeline.Stage{pipeline.StageFetch},
		},
		"unpack": {
			rec:  &recorder{unpackErr: fmt.Errorf("%w: %w", unpacker.ErrUnpack, unpacker.ErrProjectRootNotFound)},
			want: []pipeline.Stage{pipeline.StageFetch, pipeline.StageUnpack},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			result, logs, _ := runWith(t, tc.rec)

			require.Equal(t, tc.want, tc.rec.ran())
			require.Equal(t, pipeline.PhaseHalted, result.Phase)
			require.False(t, result.Completed())
			require.NotContains(t, logs, "INSTALLATION COMPLETE")
			require.Contains(t, logs, "Stage failed, stopping")
		})
	}
}

// TestRun_InstallFailureContinues still probes and still prints the banner.
func TestRun_InstallFailureContinues(t *testing.T) {
	t.Parallel()

	rec := &recorder{
		installErr: fmt.Errorf("%w: exit code 1", installer.ErrInstallFailed),
		probeErr:   fmt.Errorf("%w: exit code 1", prober.ErrProbeFailed),
	}

	result, logs, _ := runWith(t, rec)

	require.Equal(t, pipeline.Stages(), rec.ran())
	require.Equal(t, pipeline.PhaseDone, result.Phase)
	require.Equal(t, []pipeline.Stage{pipeline.StageInstall, pipeline.StageProbe}, result.Failed())
	require.Contains(t, logs, "Continuing without installed dependencies")
	require.Contains(t, logs, "pip exploded")
	require.Contains(t, logs, "INSTALLATION COMPLETE")

	install, ok := result.Result(pipeline.StageInstall)
	require.True(t, ok)
	require.Equal(t, 1, install.Command.ExitCode)
}

// TestRun_InterruptedStopsPipeline halts after the stage during which the
// context was cancelled: no probe, no banner, and Run reports the cancellation.
func TestRun_InterruptedStopsPipeline(t *testing.T) {
	t.Parallel()

	rec := new(recorder)
	stages := rec.stages()
	stages.Probe = nil

	base, logs := captureLogs()
	ctx, cancel := context.WithCancel(base)
	t.Cleanup(cancel)

	stages.Install = func(ctx context.Context, _ *installer.Options) (*command.Result, error) {
		rec.note(pipeline.StageInstall)
		cancel()

		return nil, ctx.Err()
	}

	runner := new(commandtest.Runner)
	workDir := t.TempDir()

	result, err := Run(ctx, &Options{
		ConfigPath: writeSettings(t, "https://example.com/archive/main.zip"),
		WorkDir:    workDir,
		ReportFile: "report.json",
		Runner:     runner,
		Stages:     stages,
	})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)

	require.Equal(t, []pipeline.Stage{pipeline.StageFetch, pipeline.StageUnpack, pipeline.StageInstall}, rec.ran())
	require.Equal(t, pipeline.PhaseHalted, result.Phase)
	require.Empty(t, runner.Calls())
	require.NotContains(t, logs.String(), "INSTALLATION COMPLETE")
	require.NotContains(t, logs.String(), "Continuing without installed dependencies")

	_, err = os.Stat(filepath.Join(workDir, config.DefaultProbeFilename))
	require.ErrorIs(t, err, os.ErrNotExist)

	saved, err := report.NewFileRepository(filepath.Join(workDir, "report.json")).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, pipeline.PhaseHalted, saved.Phase)
}

// TestRun_MissingManifestSkipsPackageManager runs the real installer: only the
// probe reaches the command runner.
func TestRun_MissingManifestSkipsPackageManager(t *testing.T) {
	t.Parallel()

	rec := new(recorder)
	stages := rec.stages()
	stages.Install = nil
	stages.Probe = nil

	runner := new(commandtest.Runner)
	ctx, _ := captureLogs()
	workDir := t.TempDir()

	result, err := Run(ctx, &Options{
		ConfigPath:  writeSettings(t, "https://example.com/archive/main.zip"),
		WorkDir:     workDir,
		Interpreter: "python3",
		Runner:      runner,
		Stages:      stages,
	})
	require.NoError(t, err)

	install, ok := result.Result(pipeline.StageInstall)
	require.True(t, ok)
	require.False(t, install.Succeeded)
	require.Contains(t, install.Error, installer.ErrManifestMissing.Error())

	calls := runner.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, []string{config.DefaultProbeFilename}, calls[0].Args)

	_, err = os.Stat(filepath.Join(workDir, config.DefaultProbeFilename))
	require.NoError(t, err)
}

// TestRun_SettingsErrors fails before any stage runs.
func TestRun_SettingsErrors(t *testing.T) {
	t.Parallel()

	rec := new(recorder)
	ctx, _ := captureLogs()

	// No source URL anywhere.
	empty := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("project_prefix: x\n"), 0o600))

	_, err := Run(ctx, &Options{ConfigPath: empty, WorkDir: t.TempDir(), Stages: rec.stages()})
	require.ErrorIs(t, err, config.ErrInvalid)

	// An explicit settings file must exist.
	_, err = Run(ctx, &Options{
		ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
		SourceURL:  "https://example.com/a.zip",
		Stages:     rec.stages(),
	})
	require.ErrorIs(t, err, os.ErrNotExist)

	// The working directory must be a directory.
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err = Run(ctx, &Options{ConfigPath: empty, SourceURL: "https://example.com/a.zip", WorkDir: file})
	require.ErrorIs(t, err, errNotADirectory)

	require.Empty(t, rec.ran())
}

// TestRun_FlagOverrides wins over the settings file.
func TestRun_FlagOverrides(t *testing.T) {
	t.Parallel()

	var seen *unpacker.Options

	rec := new(recorder)
	stages := rec.stages()
	stages.Unpack = func(_ context.Context, opts *unpacker.Options) error {
		seen = opts

		return nil
	}

	ctx, _ := captureLogs()

	result, err := Run(ctx, &Options{
		ConfigPath:    writeSettings(t, "https://example.com/old.zip"),
		WorkDir:       t.TempDir(),
		SourceURL:     "https://example.com/new.zip",
		ProjectPrefix: "override",
		Runner:        new(commandtest.Runner),
		Stages:        stages,
	})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/new.zip", result.SourceURL)
	require.Equal(t, "override", seen.Prefix)
}

// TestRun_SavesReport writes the report into the working directory.
func TestRun_SavesReport(t *testing.T) {
	t.Parallel()

	rec := &recorder{installErr: installer.ErrInstallFailed}
	ctx, _ := captureLogs()
	workDir := t.TempDir()

	result, err := Run(ctx, &Options{
		ConfigPath: writeSettings(t, "https://example.com/archive/main.zip"),
		WorkDir:    workDir,
		ReportFile: "report.json",
		Runner:     new(commandtest.Runner),
		Stages:     rec.stages(),
	})
	require.NoError(t, err)

	saved, err := report.NewFileRepository(filepath.Join(workDir, "report.json")).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, result.RunID, saved.RunID)
	require.Equal(t, pipeline.PhaseDone, saved.Phase)
	require.Len(t, saved.Stages, len(pipeline.Stages()))
}

// TestRun_StaleMarkerIsReplaced proceeds over a marker left by a dead process.
func TestRun_StaleMarkerIsReplaced(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, marker.Filename), []byte("0\n"), 0o600))

	rec := new(recorder)
	ctx, logs := captureLogs()

	_, err := Run(ctx, &Options{
		ConfigPath: writeSettings(t, "https://example.com/archive/main.zip"),
		WorkDir:    workDir,
		Runner:     new(commandtest.Runner),
		Stages:     rec.stages(),
	})
	require.NoError(t, err)
	require.True(t, strings.Contains(logs.String(), "Removing stale marker"))
	require.Equal(t, pipeline.Stages(), rec.ran())
}

// TestStages_WithDefaults only fills gaps.
func TestStages_WithDefaults(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("custom")
	stages := Stages{Unpack: func(context.Context, *unpacker.Options) error { return sentinel }}.withDefaults()

	require.NotNil(t, stages.Fetch)
	require.NotNil(t, stages.Install)
	require.NotNil(t, stages.Probe)
	require.ErrorIs(t, stages.Unpack(context.Background(), nil), sentinel)
}
