package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/capdgroup/capdverify/pkg/runner"
	"github.com/capdgroup/capdverify/pkg/telemetry"
)

// telemetryHook wraps each traced command in a span and feeds the step
// metrics. Dry-run commands get spans but no metric samples.
type telemetryHook struct {
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
}

func (h *telemetryHook) Before(ctx context.Context, cmd runner.Command) context.Context {
	ctx, _ = h.tracer.StartStepSpan(ctx, cmd.Stage, cmd.Step, cmd.Args, cmd.Dir)
	return ctx
}

func (h *telemetryHook) After(ctx context.Context, cmd runner.Command, res *runner.Result, err error) {
	span := trace.SpanFromContext(ctx)

	code := 0
	if res != nil {
		code = res.ExitCode
	}
	if c, ok := runner.ExitCode(err); ok {
		code = c
	}
	span.SetAttributes(telemetry.AttrExitCode.Int(code))
	telemetry.EndSpan(span, err)

	var duration time.Duration
	if res != nil {
		if res.DryRun {
			return
		}
		duration = res.Duration
	}
	h.metrics.RecordStep(cmd.Stage, cmd.Step, code, duration)
}

// collectHook records every command, for plans.
type collectHook struct {
	commands []runner.Command
}

func (h *collectHook) Before(ctx context.Context, cmd runner.Command) context.Context {
	h.commands = append(h.commands, cmd)
	return ctx
}

func (h *collectHook) After(context.Context, runner.Command, *runner.Result, error) {}

// planRunner answers every request as a silent dry run.
type planRunner struct{}

func (planRunner) Run(_ context.Context, req runner.Request) (*runner.Result, error) {
	if len(req.Args) == 0 {
		return nil, runner.ErrEmptyCommand
	}
	return &runner.Result{DryRun: true}, nil
}
