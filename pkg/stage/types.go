package stage

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/capdgroup/capdverify/pkg/vcs"
)

// Kind distinguishes the two stage templates.
type Kind string

const (
	// KindLibrary clones, configures, builds, tests and installs a library.
	KindLibrary Kind = "library"

	// KindExecutable clones a consumer project with its submodules,
	// configures, builds and runs it.
	KindExecutable Kind = "executable"
)

// Step names, in the order they can appear.
const (
	StepClone      = "clone"
	StepSubmodules = "submodules"
	StepConfigure  = "configure"
	StepBuild      = "build"
	StepTest       = "test"
	StepInstall    = "install"
	StepRun        = "run"
)

// Tools names the external programs a stage invokes.
type Tools struct {
	Git       string `yaml:"git" json:"git" validate:"required"`
	Generator string `yaml:"generator" json:"generator" validate:"required"`
	Driver    string `yaml:"driver" json:"driver" validate:"required"`
}

// DefaultTools returns git, cmake and make.
func DefaultTools() Tools {
	return Tools{Git: "git", Generator: "cmake", Driver: "make"}
}

// Config describes one repository to verify.
type Config struct {
	// Name is used in log and error messages, e.g. "CAPD example 1".
	Name string

	// URL is the remote to clone.
	URL string

	// Dir is the checkout directory name under the workspace root; it must
	// match the directory git clone creates for URL.
	Dir string

	// BuildDir is the build output directory relative to the checkout.
	BuildDir string

	// Flags are passed verbatim to the build generator.
	Flags []string

	// Parallelism is handed to the build driver as -j.
	Parallelism int

	// Run is the program invocation executed in the build directory.
	// Executable stages only.
	Run []string
}

// Validate checks the fields a stage of kind k needs.
func (c Config) Validate(k Kind) error {
	switch {
	case c.Name == "":
		return fmt.Errorf("stage name is required")
	case c.URL == "":
		return fmt.Errorf("stage %s: url is required", c.Name)
	case c.Dir == "":
		return fmt.Errorf("stage %s: checkout directory is required", c.Name)
	case c.BuildDir == "":
		return fmt.Errorf("stage %s: build directory is required", c.Name)
	case filepath.IsAbs(c.BuildDir):
		return fmt.Errorf("stage %s: build directory must be relative to the checkout", c.Name)
	case c.Parallelism < 1:
		return fmt.Errorf("stage %s: parallelism must be positive, got %d", c.Name, c.Parallelism)
	case k == KindExecutable && len(c.Run) == 0:
		return fmt.Errorf("stage %s: run command is required", c.Name)
	}
	return nil
}

// Step is one planned external command of a stage.
type Step struct {
	Name    string
	Args    []string
	Dir     string
	Env     map[string]string
	Trace   string
	Failure string
}

// StepReport is the outcome of one executed step.
type StepReport struct {
	Name     string
	Args     []string
	Dir      string
	ExitCode int
	Duration time.Duration
	Err      error

	// Skipped is set when an existing checkout replaced the clone.
	Skipped bool
}

// Report is the outcome of a stage run. On failure it holds the steps that
// ran, the last of which failed.
type Report struct {
	Name      string
	Kind      Kind
	SourceDir string
	BuildDir  string
	DryRun    bool
	Revision  vcs.Revision
	Steps     []StepReport
	Duration  time.Duration
}

// Failed reports whether the last executed step failed.
func (r *Report) Failed() bool {
	if len(r.Steps) == 0 {
		return false
	}
	return r.Steps[len(r.Steps)-1].Err != nil
}
