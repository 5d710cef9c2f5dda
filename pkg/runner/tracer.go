package runner

import (
	"context"

	"github.com/capdgroup/capdverify/pkg/telemetry"
)

// Command is a request annotated for tracing.
type Command struct {
	Request

	// Stage and Step identify the command in logs, metrics and the run store.
	Stage string
	Step  string

	// Trace is logged at trace level before the command runs.
	Trace string

	// Failure becomes the message of the CommandError on a non-zero exit.
	Failure string
}

// Hook observes every traced command. Before may return a derived context
// (for example one carrying a span) that is used for the command and passed
// to After.
type Hook interface {
	Before(ctx context.Context, cmd Command) context.Context
	After(ctx context.Context, cmd Command, res *Result, err error)
}

// Tracer runs commands through a Runner and turns non-zero exits into
// CommandErrors. Every stage step goes through a Tracer.
type Tracer struct {
	runner Runner
	logger *telemetry.Logger
	hooks  []Hook
}

// NewTracer creates a tracer over r.
func NewTracer(r Runner, logger *telemetry.Logger, hooks ...Hook) *Tracer {
	return &Tracer{
		runner: r,
		logger: logger.NewComponentLogger("tracer"),
		hooks:  hooks,
	}
}

// AddHook registers an additional hook.
func (t *Tracer) AddHook(h Hook) {
	t.hooks = append(t.hooks, h)
}

// Run executes cmd. It returns a *CommandError when the program exits
// non-zero or cannot be started.
func (t *Tracer) Run(ctx context.Context, cmd Command) (*Result, error) {
	for _, h := range t.hooks {
		ctx = h.Before(ctx, cmd)
	}

	if cmd.Trace != "" {
		t.logger.WithStage(cmd.Stage).Trace(cmd.Trace)
	}

	res, err := t.runner.Run(ctx, cmd.Request)
	switch {
	case err != nil:
		err = &CommandError{
			Message: cmd.Failure,
			Code:    -1,
			Args:    cmd.Args,
			Dir:     cmd.Dir,
			Err:     err,
		}
	case !res.Success():
		err = &CommandError{
			Message: cmd.Failure,
			Code:    res.ExitCode,
			Args:    cmd.Args,
			Dir:     cmd.Dir,
		}
	}

	for i := len(t.hooks) - 1; i >= 0; i-- {
		t.hooks[i].After(ctx, cmd, res, err)
	}

	if err != nil {
		t.logger.WithStage(cmd.Stage).WithError(err).Debug("Command failed")
		return res, err
	}
	return res, nil
}
