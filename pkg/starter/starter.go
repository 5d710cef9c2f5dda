// Package starter verifies the minimal "project starter" consumer shipped
// with the library, both in place and against an installed library.
package starter

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/capdgroup/capdverify/pkg/patch"
	"github.com/capdgroup/capdverify/pkg/runner"
	"github.com/capdgroup/capdverify/pkg/stage"
	"github.com/capdgroup/capdverify/pkg/telemetry"
)

// StageName labels starter commands in logs, metrics and history.
const StageName = "project starter"

// Config describes the starter project.
type Config struct {
	// Dir is the starter project directory inside a library checkout.
	Dir string

	// Program is the built program invocation, run in the project directory.
	Program []string

	// BinDirVar is the makefile variable pointing at the library's bin
	// directory. The install-linked flow comments out its assignment and
	// provides it through the environment instead.
	BinDirVar string

	// CommentMarker prefixes the neutralised assignment.
	CommentMarker string
}

// DefaultConfig returns the settings of the CAPD project starter, rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:           dir,
		Program:       []string{"./MyProgram"},
		BinDirVar:     "CAPDBINDIR",
		CommentMarker: "# ",
	}
}

// Flows runs the two starter scenarios.
type Flows struct {
	tracer  *runner.Tracer
	patcher *patch.Patcher
	tools   stage.Tools
	logger  *telemetry.Logger
}

// NewFlows creates the starter flows.
func NewFlows(tracer *runner.Tracer, patcher *patch.Patcher, tools stage.Tools, logger *telemetry.Logger) *Flows {
	if tools == (stage.Tools{}) {
		tools = stage.DefaultTools()
	}
	return &Flows{
		tracer:  tracer,
		patcher: patcher,
		tools:   tools,
		logger:  logger.NewComponentLogger("starter"),
	}
}

// InPlace cleans untracked files from the starter directory, builds it and
// runs the program, all in place.
func (f *Flows) InPlace(ctx context.Context, cfg Config, dryRun bool) error {
	if err := f.clean(ctx, cfg, dryRun); err != nil {
		return err
	}
	if err := f.build(ctx, cfg.Dir, nil, dryRun); err != nil {
		return err
	}
	return f.run(ctx, cfg, cfg.Dir, dryRun)
}

// InstallLinked cleans the starter directory, copies it into root, comments
// out the bin directory assignment in the copy's Makefile, then builds the
// copy with that variable set to installDir/bin/ and runs the program.
func (f *Flows) InstallLinked(ctx context.Context, root, installDir string, cfg Config, dryRun bool) error {
	local := LocalDir(root, cfg)

	if err := f.clean(ctx, cfg, dryRun); err != nil {
		return err
	}

	if _, err := f.tracer.Run(ctx, runner.Command{
		Request: runner.Request{
			Args:   []string{"cp", "-r", cfg.Dir, root},
			Dir:    root,
			DryRun: dryRun,
		},
		Stage:   StageName,
		Step:    "copy",
		Trace:   "Copying project starter...",
		Failure: "Copying failed",
	}); err != nil {
		return err
	}

	makefile := filepath.Join(local, "Makefile")
	if dryRun {
		f.logger.WithFields(map[string]interface{}{
			"path":     makefile,
			"variable": cfg.BinDirVar,
		}).Info("Dry run: makefile left unpatched")
	} else if err := f.patcher.Apply(makefile, patch.CommentOut(cfg.BinDirVar, cfg.CommentMarker)); err != nil {
		return fmt.Errorf("failed to neutralise %s in %s: %w", cfg.BinDirVar, makefile, err)
	}

	env := map[string]string{cfg.BinDirVar: BinDir(installDir)}
	if err := f.build(ctx, local, env, dryRun); err != nil {
		return err
	}
	return f.run(ctx, cfg, local, dryRun)
}

// LocalDir is where InstallLinked copies the starter project.
func LocalDir(root string, cfg Config) string {
	return filepath.Join(root, filepath.Base(cfg.Dir))
}

// BinDir is the value injected for the bin directory variable. The trailing
// slash matters: the makefile concatenates it with tool names.
func BinDir(installDir string) string {
	return installDir + "/bin/"
}

func (f *Flows) clean(ctx context.Context, cfg Config, dryRun bool) error {
	_, err := f.tracer.Run(ctx, runner.Command{
		Request: runner.Request{
			Args:   []string{f.tools.Git, "clean", "-fd"},
			Dir:    cfg.Dir,
			DryRun: dryRun,
		},
		Stage:   StageName,
		Step:    "clean",
		Trace:   "Cleaning build output...",
		Failure: "Cleaning build output failed",
	})
	return err
}

func (f *Flows) build(ctx context.Context, dir string, env map[string]string, dryRun bool) error {
	_, err := f.tracer.Run(ctx, runner.Command{
		Request: runner.Request{
			Args:   []string{f.tools.Driver},
			Dir:    dir,
			Env:    env,
			DryRun: dryRun,
		},
		Stage:   StageName,
		Step:    stage.StepBuild,
		Trace:   "Building project starter...",
		Failure: "Failed to build project starter",
	})
	return err
}

func (f *Flows) run(ctx context.Context, cfg Config, dir string, dryRun bool) error {
	_, err := f.tracer.Run(ctx, runner.Command{
		Request: runner.Request{
			Args:   cfg.Program,
			Dir:    dir,
			DryRun: dryRun,
		},
		Stage:   StageName,
		Step:    stage.StepRun,
		Trace:   "Executing project starter app...",
		Failure: "Project starter execution failed",
	})
	return err
}
