package pipeline

import (
	"time"

	"github.com/oshokin/repo-bootstrap/internal/command"
)

// Actor identifies who ran the bootstrap.
type Actor struct {
	// Hostname is the machine name.
	Hostname string
	// Username is the system user.
	Username string
}

// StageResult is the outcome of one stage.
type StageResult struct {
	// Stage that ran.
	Stage Stage
	// Succeeded is false when the stage reported a failure.
	Succeeded bool
	// Error is the failure message, empty on success.
	Error string
	// Command is set for stages that ran a process.
	Command *command.Result
	// StartedAt is when the stage began.
	StartedAt time.Time
	// FinishedAt is when the stage returned.
	FinishedAt time.Time
}

// Report records one bootstrap run.
type Report struct {
	// RunID uniquely identifies the run.
	RunID string
	// Actor who started the run, nil when unknown.
	Actor *Actor
	// SourceURL the archive was fetched from.
	SourceURL string
	// Phase is the last state reached.
	Phase Phase
	// Stages are the results in execution order.
	Stages []StageResult
	// StartedAt is when the run began.
	StartedAt time.Time
	// FinishedAt is when the run ended.
	FinishedAt time.Time
}

// Record appends a stage result and advances the phase.
func (r *Report) Record(result StageResult) {
	r.Stages = append(r.Stages, result)
	r.Phase = Next(result.Stage, result.Succeeded)
}

// Completed reports whether the run got past both gates and finished.
func (r *Report) Completed() bool {
	return r.Phase == PhaseDone
}

// Result returns the result of stage s, if it ran.
func (r *Report) Result(s Stage) (StageResult, bool) {
	for _, result := range r.Stages {
		if result.Stage == s {
			return result, true
		}
	}

	return StageResult{}, false
}

// Failed returns the stages that reported a failure.
func (r *Report) Failed() []Stage {
	var failed []Stage

	for _, result := range r.Stages {
		if !result.Succeeded {
			failed = append(failed, result.Stage)
		}
	}

	return failed
}
