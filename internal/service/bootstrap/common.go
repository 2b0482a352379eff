package bootstrap

import (
	"context"

	"github.com/oshokin/repo-bootstrap/internal/command"
	"github.com/oshokin/repo-bootstrap/internal/service/fetcher"
	"github.com/oshokin/repo-bootstrap/internal/service/installer"
	"github.com/oshokin/repo-bootstrap/internal/service/prober"
	"github.com/oshokin/repo-bootstrap/internal/service/unpacker"
)

const (
	bannerWidth = 60

	// usageDataDir is where the installed project expects its dataset.
	usageDataDir = "dataset/"
	// usageExample is the example script shipped with the project.
	usageExample = "examples/basic_usage.py"
)

// Stages are the pipeline steps. Tests replace them to observe the
// orchestration without network or processes.
type Stages struct {
	Fetch   func(ctx context.Context, opts *fetcher.Options) (string, error)
	Unpack  func(ctx context.Context, opts *unpacker.Options) error
	Install func(ctx context.Context, opts *installer.Options) (*command.Result, error)
	Probe   func(ctx context.Context, opts *prober.Options) (*command.Result, error)
}

// DefaultStages returns the real implementations.
func DefaultStages() Stages {
	return Stages{
		Fetch:   fetcher.Fetch,
		Unpack:  unpacker.Unpack,
		Install: installer.Install,
		Probe:   prober.Probe,
	}
}

// withDefaults fills unset stages.
func (s Stages) withDefaults() Stages {
	defaults := DefaultStages()

	if s.Fetch == nil {
		s.Fetch = defaults.Fetch
	}

	if s.Unpack == nil {
		s.Unpack = defaults.Unpack
	}

	if s.Install == nil {
		s.Install = defaults.Install
	}

	if s.Probe == nil {
		s.Probe = defaults.Probe
	}

	return s
}
