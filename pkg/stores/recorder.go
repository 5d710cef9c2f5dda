package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/capdgroup/capdverify/pkg/runner"
	"github.com/capdgroup/capdverify/pkg/telemetry"
)

// StepRecorder is a runner.Hook that appends every traced command of a run
// to the store. Store failures are logged and never fail the command.
type StepRecorder struct {
	store  Store
	runID  string
	logger *telemetry.Logger
}

// NewStepRecorder creates a recorder for runID.
func NewStepRecorder(store Store, runID string, logger *telemetry.Logger) *StepRecorder {
	return &StepRecorder{
		store:  store,
		runID:  runID,
		logger: logger.NewComponentLogger("stores").WithRunID(runID),
	}
}

// Before implements runner.Hook.
func (r *StepRecorder) Before(ctx context.Context, _ runner.Command) context.Context {
	return ctx
}

// After implements runner.Hook.
func (r *StepRecorder) After(ctx context.Context, cmd runner.Command, res *runner.Result, err error) {
	args, merr := json.Marshal(cmd.Args)
	if merr != nil {
		args = []byte("[]")
	}

	step := &Step{
		RunID:     r.runID,
		Stage:     cmd.Stage,
		Step:      cmd.Step,
		Args:      string(args),
		Dir:       cmd.Dir,
		Status:    StepStatusSucceeded,
		Timestamp: time.Now().UTC(),
	}

	if res != nil {
		step.ExitCode = res.ExitCode
		step.DurationMS = res.Duration.Milliseconds()
		if res.DryRun {
			step.Status = StepStatusSkipped
		}
	}

	if err != nil {
		step.Status = StepStatusFailed
		msg := err.Error()
		step.Error = &msg
		if code, ok := runner.ExitCode(err); ok {
			step.ExitCode = code
		}
	}

	// The run may be cancelled; its history is still wanted.
	if serr := r.store.RecordStep(context.WithoutCancel(ctx), step); serr != nil {
		r.logger.WithError(serr).Warn("Failed to record step")
	}
}
