package orchestrator

import (
	"time"

	"github.com/capdgroup/capdverify/pkg/config"
	"github.com/capdgroup/capdverify/pkg/stage"
	"github.com/capdgroup/capdverify/pkg/stores"
	"github.com/capdgroup/capdverify/pkg/workspace"
)

// Targets selects what a run verifies.
type Targets struct {
	Library bool

	// AllExamples selects every configured example; otherwise only the
	// examples named in Examples run.
	AllExamples bool
	Examples    []string

	InPlace       bool
	InstallLinked bool
}

// Everything selects the library, every example and the starter flows the
// configuration enables.
func Everything(cfg *config.Config) Targets {
	return Targets{
		Library:       true,
		AllExamples:   true,
		InPlace:       cfg.Starter.InPlace,
		InstallLinked: cfg.Starter.InstallLinked,
	}
}

func (t Targets) empty() bool {
	return !t.Library && !t.AllExamples && len(t.Examples) == 0 && !t.InPlace && !t.InstallLinked
}

// RunOptions configures one run.
type RunOptions struct {
	DryRun bool

	// Mode overrides the configured workspace mode when set.
	Mode workspace.Mode

	// Variants restricts the run to the named variants. Empty runs all.
	Variants []string

	// Targets defaults to Everything when empty.
	Targets Targets

	// ConfigPath is recorded in the run history.
	ConfigPath string
}

// KindStarter labels starter flows in summaries and the run history.
const KindStarter = "starter"

// StageResult is the outcome of one stage or starter flow.
type StageResult struct {
	Variant  string
	Name     string
	Kind     string
	Duration time.Duration
	Err      error

	// Report is nil for starter flows.
	Report *stage.Report
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	Status   stores.RunStatus
	DryRun   bool
	Mode     workspace.Mode
	Root     string
	Stages   []StageResult
	Duration time.Duration
}

// Failed returns the failed stage, if any.
func (s *Summary) Failed() (StageResult, bool) {
	for _, r := range s.Stages {
		if r.Err != nil {
			return r, true
		}
	}
	return StageResult{}, false
}
