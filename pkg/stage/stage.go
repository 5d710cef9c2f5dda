package stage

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/capdgroup/capdverify/pkg/runner"
	"github.com/capdgroup/capdverify/pkg/telemetry"
	"github.com/capdgroup/capdverify/pkg/vcs"
)

// Options are the run-wide settings shared by every stage.
type Options struct {
	// Root is the workspace root the repository is cloned into.
	Root string

	Tools  Tools
	DryRun bool

	// Reuse skips the clone when the checkout already holds a repository.
	// Set for incremental workspaces.
	Reuse bool
}

// Stage is a fixed, ordered sequence of traced commands.
type Stage struct {
	kind   Kind
	cfg    Config
	opts   Options
	tracer *runner.Tracer
	logger *telemetry.Logger
	probe  func(dir string) (vcs.Revision, error)
}

// NewLibrary returns the library template:
// clone, configure, build, test, install.
func NewLibrary(cfg Config, opts Options, tracer *runner.Tracer, logger *telemetry.Logger) *Stage {
	return newStage(KindLibrary, cfg, opts, tracer, logger)
}

// NewExecutable returns the executable template:
// clone, submodules, configure, build, run.
func NewExecutable(cfg Config, opts Options, tracer *runner.Tracer, logger *telemetry.Logger) *Stage {
	return newStage(KindExecutable, cfg, opts, tracer, logger)
}

func newStage(kind Kind, cfg Config, opts Options, tracer *runner.Tracer, logger *telemetry.Logger) *Stage {
	if opts.Tools == (Tools{}) {
		opts.Tools = DefaultTools()
	}
	return &Stage{
		kind:   kind,
		cfg:    cfg,
		opts:   opts,
		tracer: tracer,
		logger: logger.NewComponentLogger("stage").WithStage(cfg.Name),
		probe:  vcs.Head,
	}
}

// Name returns the configured stage name.
func (s *Stage) Name() string { return s.cfg.Name }

// Kind returns the template kind.
func (s *Stage) Kind() Kind { return s.kind }

// SourceDir is the checkout path, Root/Dir.
func (s *Stage) SourceDir() string {
	return filepath.Join(s.opts.Root, s.cfg.Dir)
}

// BuildDir is the build output path, SourceDir/BuildDir.
func (s *Stage) BuildDir() string {
	return filepath.Join(s.SourceDir(), s.cfg.BuildDir)
}

// Steps returns the planned commands in execution order.
func (s *Stage) Steps() []Step {
	t := s.opts.Tools
	name := s.cfg.Name
	src, build := s.SourceDir(), s.BuildDir()
	jobs := strconv.Itoa(s.cfg.Parallelism)

	configure := append([]string{t.Generator, "-S", src, "-B", build}, s.cfg.Flags...)

	steps := []Step{{
		Name:    StepClone,
		Args:    []string{t.Git, "clone", s.cfg.URL},
		Dir:     s.opts.Root,
		Trace:   fmt.Sprintf("Cloning %s repository...", name),
		Failure: fmt.Sprintf("Failed to clone %s repository", name),
	}}

	if s.kind == KindLibrary {
		return append(steps,
			Step{
				Name:    StepConfigure,
				Args:    configure,
				Dir:     s.opts.Root,
				Trace:   fmt.Sprintf("Configuring %s...", name),
				Failure: fmt.Sprintf("Failed to configure %s", name),
			},
			Step{
				Name:    StepBuild,
				Args:    []string{t.Driver, "-j", jobs},
				Dir:     build,
				Trace:   fmt.Sprintf("Building %s...", name),
				Failure: fmt.Sprintf("Failed to build %s", name),
			},
			Step{
				Name:    StepTest,
				Args:    []string{t.Driver, "test", "-j", jobs},
				Dir:     build,
				Trace:   fmt.Sprintf("Executing %s test cases...", name),
				Failure: fmt.Sprintf("%s test execution failed", name),
			},
			Step{
				Name:    StepInstall,
				Args:    []string{t.Driver, "install"},
				Dir:     build,
				Trace:   fmt.Sprintf("Performing local %s installation...", name),
				Failure: fmt.Sprintf("%s installation failed", name),
			},
		)
	}

	return append(steps,
		Step{
			Name:    StepSubmodules,
			Args:    []string{t.Git, "submodule", "update", "--init", "--recursive"},
			Dir:     src,
			Trace:   fmt.Sprintf("Updating %s submodules...", name),
			Failure: fmt.Sprintf("Failed to update git submodules for %s", name),
		},
		Step{
			Name:    StepConfigure,
			Args:    configure,
			Dir:     s.opts.Root,
			Trace:   fmt.Sprintf("Configuring %s...", name),
			Failure: fmt.Sprintf("Failed to configure %s", name),
		},
		Step{
			Name:    StepBuild,
			Args:    []string{t.Driver, "-j", jobs},
			Dir:     build,
			Trace:   fmt.Sprintf("Building %s...", name),
			Failure: fmt.Sprintf("Failed to build %s", name),
		},
		Step{
			Name:    StepRun,
			Args:    append([]string(nil), s.cfg.Run...),
			Dir:     build,
			Trace:   fmt.Sprintf("Executing %s app...", name),
			Failure: fmt.Sprintf("%s execution failed", name),
		},
	)
}

// Run executes the steps in order and stops at the first failure. The
// returned report is never nil, even when err is not.
func (s *Stage) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Name:      s.cfg.Name,
		Kind:      s.kind,
		SourceDir: s.SourceDir(),
		BuildDir:  s.BuildDir(),
		DryRun:    s.opts.DryRun,
	}

	if err := s.cfg.Validate(s.kind); err != nil {
		return report, err
	}

	s.logger.WithField("kind", string(s.kind)).Info("Starting stage")
	start := time.Now()
	defer func() { report.Duration = time.Since(start) }()

	for _, step := range s.Steps() {
		if step.Name == StepClone && s.reuseCheckout(report) {
			report.Steps = append(report.Steps, StepReport{
				Name:    step.Name,
				Args:    step.Args,
				Dir:     step.Dir,
				Skipped: true,
			})
			continue
		}

		res, err := s.tracer.Run(ctx, runner.Command{
			Request: runner.Request{
				Args:   step.Args,
				Dir:    step.Dir,
				Env:    step.Env,
				DryRun: s.opts.DryRun,
			},
			Stage:   s.cfg.Name,
			Step:    step.Name,
			Trace:   step.Trace,
			Failure: step.Failure,
		})

		sr := StepReport{Name: step.Name, Args: step.Args, Dir: step.Dir, Err: err}
		if res != nil {
			sr.ExitCode = res.ExitCode
			sr.Duration = res.Duration
		} else if code, ok := runner.ExitCode(err); ok {
			sr.ExitCode = code
		}
		report.Steps = append(report.Steps, sr)

		if err != nil {
			return report, err
		}

		if step.Name == StepClone && !s.opts.DryRun {
			s.recordRevision(report)
		}
	}

	s.logger.Info("Stage completed")
	return report, nil
}

// reuseCheckout reports whether an existing checkout replaces the clone.
func (s *Stage) reuseCheckout(report *Report) bool {
	if !s.opts.Reuse || s.opts.DryRun {
		return false
	}
	rev, err := s.probe(report.SourceDir)
	if err != nil {
		return false
	}
	report.Revision = rev
	s.logger.WithField("revision", rev.Short()).Debug("Reusing existing checkout")
	return true
}

// recordRevision stores the checked-out HEAD on the report. A checkout that
// cannot be inspected is logged and otherwise ignored.
func (s *Stage) recordRevision(report *Report) {
	rev, err := s.probe(report.SourceDir)
	if err != nil {
		s.logger.WithError(err).Warn("Could not read checked-out revision")
		return
	}
	report.Revision = rev
	s.logger.WithField("revision", rev.Short()).Debug("Checked out revision")
}
