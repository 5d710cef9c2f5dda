package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"strings"
	"time"

	"github.com/jmgilman/go/exec"

	"github.com/capdgroup/capdverify/pkg/telemetry"
)

// ErrEmptyCommand is returned when a request carries no program.
var ErrEmptyCommand = errors.New("command has no arguments")

// Request describes a single external program invocation.
type Request struct {
	// Args is the program followed by its arguments. Must be non-empty.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env holds overrides merged onto the inherited process environment.
	Env map[string]string

	// DryRun logs the invocation instead of spawning it.
	DryRun bool
}

// Result is the outcome of a completed (or simulated) invocation.
type Result struct {
	ExitCode int
	DryRun   bool
	Duration time.Duration
}

// Success reports whether the program exited with status zero.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes a request. A non-zero exit code is reported through the
// Result, never as an error; errors mean the program could not be run at all.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// ExecRunner runs requests as local processes.
type ExecRunner struct {
	logger   *telemetry.Logger
	executor exec.Executor
}

// Option configures an ExecRunner.
type Option func(*execOptions)

type execOptions struct {
	stdout io.Writer
	stderr io.Writer
}

// WithOutput sets where child stdout and stderr are streamed.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *execOptions) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// NewExecRunner creates a runner that streams child output to the parent's
// stdout and stderr unless WithOutput says otherwise.
func NewExecRunner(logger *telemetry.Logger, opts ...Option) *ExecRunner {
	o := &execOptions{stdout: os.Stdout, stderr: os.Stderr}
	for _, opt := range opts {
		opt(o)
	}

	return &ExecRunner{
		logger: logger.NewComponentLogger("runner"),
		executor: exec.New(
			exec.WithInheritEnv(),
			exec.WithStdout(o.stdout),
			exec.WithStderr(o.stderr),
			exec.WithPassthrough(),
		),
	}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, req Request) (*Result, error) {
	if len(req.Args) == 0 {
		return nil, ErrEmptyCommand
	}

	if req.DryRun {
		r.logger.WithFields(map[string]interface{}{
			"program": req.Args[0],
			"args":    strings.Join(req.Args, " "),
			"cwd":     req.Dir,
			"env":     req.Env,
		}).Info(FormatDryRun(req))
		return &Result{DryRun: true}, nil
	}

	start := time.Now()
	res, err := r.executor.Clone().
		WithContext(ctx).
		WithDir(req.Dir).
		WithEnv(req.Env).
		Run(req.Args...)
	duration := time.Since(start)

	if err != nil {
		var exitErr *osexec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to start %s: %w", req.Args[0], err)
		}
	}

	return &Result{
		ExitCode: res.ExitCode,
		Duration: duration,
	}, nil
}

// FormatDryRun renders the record logged for a dry-run request: the program,
// the space-joined argument vector and the working directory, one per line.
func FormatDryRun(req Request) string {
	program := ""
	if len(req.Args) > 0 {
		program = req.Args[0]
	}
	return fmt.Sprintf("dry run\nprogram: %s\nargs: %s\ncwd: %s",
		program, strings.Join(req.Args, " "), req.Dir)
}
