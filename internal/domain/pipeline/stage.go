package pipeline

// Stage names one step of the bootstrap pipeline.
type Stage string

// Stages in execution order.
const (
	StageFetch   Stage = "fetch"
	StageUnpack  Stage = "unpack"
	StageInstall Stage = "install"
	StageProbe   Stage = "probe"
)

// Stages returns every stage in execution order.
func Stages() []Stage {
	return []Stage{StageFetch, StageUnpack, StageInstall, StageProbe}
}

// IsGate reports whether a failure of s halts the pipeline.
func (s Stage) IsGate() bool {
	return s == StageFetch || s == StageUnpack
}

// Phase is a state of the run.
type Phase string

// Phases of a run.
const (
	PhaseStart         Phase = "start"
	PhaseDownloaded    Phase = "downloaded"
	PhaseExtracted     Phase = "extracted"
	PhaseDepsInstalled Phase = "deps_installed"
	PhaseDepsSkipped   Phase = "deps_skipped"
	PhaseProbeRun      Phase = "probe_run"
	PhaseDone          Phase = "done"
	PhaseHalted        Phase = "halted"
)

// Next returns the phase reached after stage s finished with the given outcome.
// Gate stages move to PhaseHalted on failure; install failure is a skip; the
// probe always moves on.
func Next(s Stage, succeeded bool) Phase {
	switch s {
	case StageFetch:
		if succeeded {
			return PhaseDownloaded
		}
	case StageUnpack:
		if succeeded {
			return PhaseExtracted
		}
	case StageInstall:
		if succeeded {
			return PhaseDepsInstalled
		}

		return PhaseDepsSkipped
	case StageProbe:
		return PhaseProbeRun
	}

	return PhaseHalted
}
