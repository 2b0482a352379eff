package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/repo-bootstrap/internal/command"
	"github.com/oshokin/repo-bootstrap/internal/config"
	"github.com/oshokin/repo-bootstrap/internal/domain/pipeline"
	"github.com/oshokin/repo-bootstrap/internal/logger"
	"github.com/oshokin/repo-bootstrap/internal/repository/marker"
	"github.com/oshokin/repo-bootstrap/internal/repository/report"
	"github.com/oshokin/repo-bootstrap/internal/service/common"
	"github.com/oshokin/repo-bootstrap/internal/service/fetcher"
	"github.com/oshokin/repo-bootstrap/internal/service/installer"
	"github.com/oshokin/repo-bootstrap/internal/service/prober"
	"github.com/oshokin/repo-bootstrap/internal/service/unpacker"
)

// Options are inputs accepted by the bootstrap entry point.
type Options struct {
	// ConfigPath is the settings file. Empty means the default name, which
	// may be absent.
	ConfigPath string
	// WorkDir receives the project; empty means the current directory.
	WorkDir string
	// SourceURL overrides the settings file when set.
	SourceURL string
	// ProjectPrefix overrides the settings file when set.
	ProjectPrefix string
	// Interpreter overrides the settings file when set.
	Interpreter string
	// ReportFile overrides the settings file when set.
	ReportFile string
	// NoLock skips the workspace marker.
	NoLock bool
	// Runner executes processes; nil uses the host.
	Runner command.Runner
	// Stages overrides pipeline steps; unset ones use the real implementations.
	Stages Stages
}

// runner holds the state of one bootstrap execution.
type runner struct {
	cfg         *config.Config
	workDir     string
	interpreter string
	commands    command.Runner
	stages      Stages
	// reports stores the final report; nil when no report file is set.
	reports report.Repository
}

// Run executes the pipeline and returns its report. The error is reserved for
// problems before the pipeline starts, bad settings or a busy workspace, and
// for cancellation of ctx, which halts the run. A failed gate still returns a
// nil error with the report in PhaseHalted.
func Run(ctx context.Context, opts *Options) (*pipeline.Report, error) {
	ctx = logger.WithName(ctx, "repo-bootstrap")

	r, err := newRunner(ctx, opts)
	if err != nil {
		return nil, err
	}

	if !opts.NoLock {
		guard := marker.New(r.workDir)
		if err = guard.Acquire(ctx); err != nil {
			return nil, err
		}

		defer func() {
			if releaseErr := guard.Release(); releaseErr != nil {
				logger.WarnKV(ctx, "Unable to remove marker", "path", guard.Path(), "error", releaseErr)
			}
		}()
	}

	result := r.run(ctx)

	if r.reports != nil {
		r.saveReport(context.WithoutCancel(ctx), result)
	}

	if err = ctx.Err(); err != nil {
		return result, fmt.Errorf("bootstrap interrupted: %w", err)
	}

	return result, nil
}

// newRunner loads settings, applies overrides and resolves paths.
func newRunner(ctx context.Context, opts *Options) (*runner, error) {
	cfg, err := loadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = "."
	}

	workDir, err = filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	info, err := os.Stat(workDir)
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("working directory %s: %w", workDir, errNotADirectory)
	}

	commands := opts.Runner
	if commands == nil {
		commands = command.NewExecRunner()
	}

	r := &runner{
		cfg:         cfg,
		workDir:     workDir,
		interpreter: resolveInterpreter(ctx, cfg.Interpreter),
		commands:    commands,
		stages:      opts.Stages.withDefaults(),
	}

	if cfg.ReportFile != "" {
		path := cfg.ReportFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		r.reports = report.NewFileRepository(path)
	}

	return r, nil
}

var errNotADirectory = errors.New("not a directory")

// loadConfig reads the settings file and applies flag overrides. A missing
// file is only tolerated when no path was given explicitly.
func loadConfig(ctx context.Context, opts *Options) (*config.Config, error) {
	path := opts.ConfigPath
	explicit := path != "" && path != config.DefaultConfigFilename

	if path == "" {
		path = config.DefaultConfigFilename
	}

	cfg, err := config.Read(path)

	switch {
	case err == nil:
		logger.DebugKV(ctx, "Settings loaded", "path", path)
	case errors.Is(err, os.ErrNotExist) && !explicit:
		logger.DebugKV(ctx, "No settings file, using defaults", "path", path)

		cfg = config.Default()
	default:
		return nil, err
	}

	overrides := []struct {
		value  string
		target *string
	}{
		{opts.SourceURL, &cfg.SourceURL},
		{opts.ProjectPrefix, &cfg.ProjectPrefix},
		{opts.Interpreter, &cfg.Interpreter},
		{opts.ReportFile, &cfg.ReportFile},
	}

	for _, o := range overrides {
		if o.value != "" {
			*o.target = o.value
		}
	}

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolveInterpreter pins the interpreter to one absolute path so the package
// manager and the probe use the same environment.
func resolveInterpreter(ctx context.Context, name string) string {
	path, err := exec.LookPath(name)
	if err != nil {
		logger.WarnKV(ctx, "Interpreter not found in PATH", "interpreter", name, "error", err)

		return name
	}

	if abs, absErr := filepath.Abs(path); absErr == nil {
		path = abs
	}

	logger.DebugKV(ctx, "Interpreter resolved", "path", path)

	return path
}

// run drives the stages and fills the report.
func (r *runner) run(ctx context.Context) *pipeline.Report {
	result := &pipeline.Report{
		RunID:     uuid.NewString(),
		SourceURL: r.cfg.SourceURL,
		Phase:     pipeline.PhaseStart,
		StartedAt: time.Now(),
	}

	defer func() {
		result.FinishedAt = time.Now()
	}()

	if actor, err := common.DetectActor(); err == nil {
		result.Actor = actor
	} else {
		logger.DebugKV(ctx, "Actor detection failed", "error", err)
	}

	ctx = logger.WithKV(ctx, "run_id", result.RunID)

	r.banner(ctx, "PROJECT BOOTSTRAP: AUTOMATIC INSTALLATION")

	var archivePath string

	if !r.runStage(ctx, result, pipeline.StageFetch, func(ctx context.Context) (*command.Result, error) {
		var err error

		archivePath, err = r.stages.Fetch(ctx, &fetcher.Options{
			URL:      r.cfg.SourceURL,
			WorkDir:  r.workDir,
			Filename: r.cfg.ArchiveFilename,
			Checksum: r.cfg.Checksum,
			Timeout:  r.cfg.Timeout,
		})

		return nil, err
	}) || r.interrupted(ctx, result) {
		return result
	}

	if !r.runStage(ctx, result, pipeline.StageUnpack, func(ctx context.Context) (*command.Result, error) {
		return nil, r.stages.Unpack(ctx, &unpacker.Options{
			ArchivePath: archivePath,
			WorkDir:     r.workDir,
			Prefix:      r.cfg.ProjectPrefix,
		})
	}) || r.interrupted(ctx, result) {
		return result
	}

	installed := r.runStage(ctx, result, pipeline.StageInstall, func(ctx context.Context) (*command.Result, error) {
		return r.stages.Install(ctx, &installer.Options{
			Runner:      r.commands,
			Interpreter: r.interpreter,
			WorkDir:     r.workDir,
			Manifest:    r.cfg.ManifestFilename,
		})
	})

	if r.interrupted(ctx, result) {
		return result
	}

	if !installed {
		logger.Warn(ctx, "Continuing without installed dependencies")
	}

	r.runStage(ctx, result, pipeline.StageProbe, func(ctx context.Context) (*command.Result, error) {
		return r.stages.Probe(ctx, &prober.Options{
			Runner:      r.commands,
			Interpreter: r.interpreter,
			WorkDir:     r.workDir,
			Filename:    r.cfg.ProbeFilename,
			Script: prober.Script{
				ImportPath: r.cfg.Probe.ImportPath,
				Module:     r.cfg.Probe.Module,
				Class:      r.cfg.Probe.Class,
				Runtime:    r.cfg.Probe.Runtime,
			},
		})
	})

	if r.interrupted(ctx, result) {
		return result
	}

	result.Phase = pipeline.PhaseDone

	r.banner(ctx, "INSTALLATION COMPLETE")
	r.printUsage(ctx)

	return result
}

// runStage executes one stage, records it and logs a failure at the level
// its gate status calls for. It reports whether the stage succeeded.
func (r *runner) runStage(
	ctx context.Context,
	result *pipeline.Report,
	stage pipeline.Stage,
	fn func(ctx context.Context) (*command.Result, error),
) bool {
	stageResult := pipeline.StageResult{
		Stage:     stage,
		StartedAt: time.Now(),
	}

	outcome, err := fn(ctx)

	stageResult.FinishedAt = time.Now()
	stageResult.Command = outcome
	stageResult.Succeeded = err == nil

	if err != nil {
		stageResult.Error = err.Error()
		logStageFailure(ctx, stage, outcome, err)
	}

	result.Record(stageResult)

	return stageResult.Succeeded
}

// interrupted halts the report once ctx is cancelled.
func (r *runner) interrupted(ctx context.Context, result *pipeline.Report) bool {
	if ctx.Err() == nil {
		return false
	}

	if result.Phase != pipeline.PhaseHalted {
		result.Phase = pipeline.PhaseHalted

		logger.WarnKV(ctx, "Interrupted, stopping", "error", ctx.Err())
	}

	return true
}

func logStageFailure(ctx context.Context, stage pipeline.Stage, outcome *command.Result, err error) {
	kvs := []any{"stage", stage, "error", err}
	if outcome != nil && outcome.Stderr != "" {
		kvs = append(kvs, "stderr", strings.TrimSpace(outcome.Stderr))
	}

	switch {
	case stage.IsGate():
		logger.ErrorKV(ctx, "Stage failed, stopping", kvs...)
	case stage == pipeline.StageInstall:
		logger.WarnKV(ctx, "Stage failed", kvs...)
	default:
		logger.ErrorKV(ctx, "Stage failed", kvs...)
	}
}

func (r *runner) banner(ctx context.Context, title string) {
	line := strings.Repeat("=", bannerWidth)

	logger.Info(ctx, line)
	logger.Info(ctx, title)
	logger.Info(ctx, line)
}

// printUsage logs how to use the installed project.
func (r *runner) printUsage(ctx context.Context) {
	var builder strings.Builder

	builder.WriteString("How to use:\n")
	builder.WriteString("1. Put your data into the '")
	builder.WriteString(usageDataDir)
	builder.WriteString("' folder\n")
	builder.WriteString("2. Run: ")
	builder.WriteString(filepath.Base(r.interpreter))
	builder.WriteString(" ")
	builder.WriteString(usageExample)
	builder.WriteString("\n3. Or use it in your own code:\n\n")
	builder.WriteString("    from ")
	builder.WriteString(r.cfg.Probe.Module)
	builder.WriteString(" import ")
	builder.WriteString(r.cfg.Probe.Class)
	builder.WriteString("\n    instance = ")
	builder.WriteString(r.cfg.Probe.Class)
	builder.WriteString("()\n")

	logger.Info(ctx, builder.String())
}

func (r *runner) saveReport(ctx context.Context, result *pipeline.Report) {
	if err := r.reports.Save(ctx, result); err != nil {
		logger.WarnKV(ctx, "Unable to save run report", "path", r.cfg.ReportFile, "error", err)

		return
	}

	logger.InfoKV(ctx, "Run report saved", "path", r.cfg.ReportFile)
}
