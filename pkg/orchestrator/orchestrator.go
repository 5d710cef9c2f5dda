package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/capdgroup/capdverify/pkg/config"
	"github.com/capdgroup/capdverify/pkg/patch"
	"github.com/capdgroup/capdverify/pkg/runner"
	"github.com/capdgroup/capdverify/pkg/stage"
	"github.com/capdgroup/capdverify/pkg/starter"
	"github.com/capdgroup/capdverify/pkg/stores"
	"github.com/capdgroup/capdverify/pkg/telemetry"
	"github.com/capdgroup/capdverify/pkg/workspace"
)

// Orchestrator runs the configured verification pipeline.
type Orchestrator struct {
	cfg       *config.Config
	runner    runner.Runner
	base      *telemetry.Logger
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
	store     stores.Store
	workspace *workspace.Manager
	patcher   *patch.Patcher
	newRunID  func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunner replaces the process runner.
func WithRunner(r runner.Runner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the span tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithStore records every run in s.
func WithStore(s stores.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithWorkspace replaces the workspace manager.
func WithWorkspace(m *workspace.Manager) Option {
	return func(o *Orchestrator) { o.workspace = m }
}

// WithPatcher replaces the makefile patcher.
func WithPatcher(p *patch.Patcher) Option {
	return func(o *Orchestrator) { o.patcher = p }
}

// WithRunIDGenerator replaces the run ID source.
func WithRunIDGenerator(f func() string) Option {
	return func(o *Orchestrator) { o.newRunID = f }
}

// New creates an orchestrator for cfg. Without options it runs real
// processes on the local filesystem, keeps no history and exports nothing.
func New(cfg *config.Config, logger *telemetry.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		base:     logger,
		logger:   logger.NewComponentLogger("orchestrator"),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.runner == nil {
		o.runner = runner.NewExecRunner(logger)
	}
	if o.metrics == nil {
		o.metrics = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	if o.tracer == nil {
		o.tracer = telemetry.NewNopTracer()
	}
	if o.workspace == nil {
		o.workspace = workspace.NewManager(logger)
	}
	if o.patcher == nil {
		o.patcher = patch.NewPatcher(logger)
	}
	return o
}

// selection is a resolved RunOptions.
type selection struct {
	mode     workspace.Mode
	variants []config.VariantConfig
	examples []config.ExampleConfig
	targets  Targets
}

func (o *Orchestrator) resolve(opts RunOptions) (*selection, error) {
	sel := &selection{mode: opts.Mode, targets: opts.Targets}

	if sel.mode == "" {
		mode, err := workspace.ParseMode(o.cfg.Workspace.Mode)
		if err != nil {
			return nil, err
		}
		sel.mode = mode
	}

	if sel.targets.empty() {
		sel.targets = Everything(o.cfg)
	}

	switch {
	case len(opts.Variants) > 0:
		for _, name := range opts.Variants {
			v, ok := o.variant(name)
			if !ok {
				return nil, fmt.Errorf("unknown variant %q", name)
			}
			sel.variants = append(sel.variants, v)
		}
	case len(o.cfg.Variants) > 0:
		sel.variants = o.cfg.Variants
	default:
		sel.variants = []config.VariantConfig{{}}
	}

	if sel.targets.AllExamples {
		sel.examples = o.cfg.Examples
	} else {
		for _, name := range sel.targets.Examples {
			e, ok := o.cfg.Example(name)
			if !ok {
				return nil, fmt.Errorf("unknown example %q", name)
			}
			sel.examples = append(sel.examples, e)
		}
	}

	if (sel.targets.InPlace || sel.targets.InstallLinked) && o.cfg.Starter.Dir == "" {
		return nil, errors.New("starter flows need starter.dir")
	}

	return sel, nil
}

func (o *Orchestrator) variant(name string) (config.VariantConfig, bool) {
	for _, v := range o.cfg.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return config.VariantConfig{}, false
}

// Run executes one verification run. The summary is returned even when the
// run fails; its status is recorded in the run store before Run returns.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	sel, err := o.resolve(opts)
	if err != nil {
		return nil, err
	}

	runID := o.newRunID()
	log := o.logger.WithRunID(runID)
	timer := telemetry.NewTimer()
	summary := &Summary{
		RunID:  runID,
		Status: stores.RunStatusRunning,
		DryRun: opts.DryRun,
		Mode:   sel.mode,
	}

	ctx, span := o.tracer.StartRunSpan(ctx, runID, opts.DryRun)

	hooks := []runner.Hook{&telemetryHook{tracer: o.tracer, metrics: o.metrics}}
	if o.store != nil {
		if err := o.store.CreateRun(ctx, &stores.Run{
			ID:         runID,
			Status:     stores.RunStatusRunning,
			DryRun:     opts.DryRun,
			Mode:       string(sel.mode),
			ConfigPath: opts.ConfigPath,
			StartedAt:  time.Now().UTC(),
		}); err != nil {
			log.WithError(err).Warn("Failed to record run, continuing without history")
		} else {
			hooks = append(hooks, stores.NewStepRecorder(o.store, runID, o.base))
		}
	}
	tracer := runner.NewTracer(o.runner, o.base, hooks...)

	fields := map[string]interface{}{
		"dry_run":  opts.DryRun,
		"mode":     string(sel.mode),
		"variants": len(sel.variants),
		"examples": len(sel.examples),
	}
	if id := telemetry.TraceID(ctx); id != "" {
		fields["trace_id"] = id
	}
	log.WithFields(fields).Info("Verification run started")

	err = o.execute(ctx, tracer, runID, sel, opts.DryRun, summary)

	summary.Duration = timer.Duration()
	switch {
	case err == nil:
		summary.Status = stores.RunStatusCompleted
	case ctx.Err() != nil:
		summary.Status = stores.RunStatusCancelled
	default:
		summary.Status = stores.RunStatusFailed
	}

	o.finish(ctx, log, summary, err)
	telemetry.EndSpan(span, err)
	return summary, err
}

func (o *Orchestrator) execute(ctx context.Context, tracer *runner.Tracer, runID string, sel *selection, dryRun bool, summary *Summary) error {
	root, err := o.workspace.Prepare(o.cfg.Workspace.Root, sel.mode, dryRun)
	if err != nil {
		return err
	}
	summary.Root = root

	starterRoot := root
	for i, v := range sel.variants {
		vroot := root
		if len(o.cfg.Variants) > 1 {
			vroot = filepath.Join(root, v.Name)
			if _, err := o.workspace.Prepare(vroot, workspace.ModeIncremental, dryRun); err != nil {
				return err
			}
		}
		if i == 0 {
			starterRoot = vroot
		}

		if err := o.runVariant(ctx, tracer, runID, sel, v, vroot, dryRun, summary); err != nil {
			return err
		}
	}

	return o.runStarter(ctx, tracer, runID, sel, starterRoot, dryRun, summary)
}

func (o *Orchestrator) runVariant(ctx context.Context, tracer *runner.Tracer, runID string, sel *selection, v config.VariantConfig, root string, dryRun bool, summary *Summary) error {
	stageOpts := stage.Options{
		Root:   root,
		Tools:  o.cfg.Tools,
		DryRun: dryRun,
		Reuse:  sel.mode == workspace.ModeIncremental,
	}
	installDir := o.cfg.Library.InstallPath(root)

	if v.Name != "" {
		o.logger.WithRunID(runID).WithField("variant", v.Name).Info("Verifying variant")
	}

	if sel.targets.Library {
		extra := append([]string{"-DCMAKE_INSTALL_PREFIX=" + installDir}, v.Flags...)
		lib := stage.NewLibrary(o.cfg.Library.StageConfig(o.cfg.Parallelism, extra...), stageOpts, tracer, o.base)
		if err := o.runStage(ctx, runID, v.Name, lib, summary); err != nil {
			return err
		}
	}

	for _, e := range sel.examples {
		var extra []string
		if e.LinkInstall {
			extra = append(extra, "-DCMAKE_PREFIX_PATH="+installDir)
		}
		ex := stage.NewExecutable(e.StageConfig(o.cfg.Parallelism, extra...), stageOpts, tracer, o.base)
		if err := o.runStage(ctx, runID, v.Name, ex, summary); err != nil {
			return err
		}
	}

	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, runID, variant string, st *stage.Stage, summary *Summary) error {
	ctx, span := o.tracer.StartStageSpan(ctx, st.Name(), string(st.Kind()))
	report, err := st.Run(ctx)
	if report.Revision.Hash != "" {
		span.SetAttributes(telemetry.AttrRevision.String(report.Revision.Hash))
	}
	telemetry.EndSpan(span, err)

	result := StageResult{
		Variant:  variant,
		Name:     st.Name(),
		Kind:     string(st.Kind()),
		Duration: report.Duration,
		Err:      err,
		Report:   report,
	}
	o.recordStage(ctx, runID, result, report.SourceDir, report.Revision.Hash, !report.DryRun)
	summary.Stages = append(summary.Stages, result)
	return err
}

func (o *Orchestrator) runStarter(ctx context.Context, tracer *runner.Tracer, runID string, sel *selection, root string, dryRun bool, summary *Summary) error {
	if !sel.targets.InPlace && !sel.targets.InstallLinked {
		return nil
	}

	checkout := filepath.Join(root, o.cfg.Library.Dir)
	scfg := o.cfg.Starter.StarterFlowConfig(checkout)
	flows := starter.NewFlows(tracer, o.patcher, o.cfg.Tools, o.base)

	type flow struct {
		enabled bool
		name    string
		run     func(context.Context) error
	}
	for _, f := range []flow{
		{sel.targets.InPlace, starter.StageName + " (in place)", func(ctx context.Context) error {
			return flows.InPlace(ctx, scfg, dryRun)
		}},
		{sel.targets.InstallLinked, starter.StageName + " (install linked)", func(ctx context.Context) error {
			return flows.InstallLinked(ctx, root, o.cfg.Library.InstallPath(root), scfg, dryRun)
		}},
	} {
		if !f.enabled {
			continue
		}

		sctx, span := o.tracer.StartStageSpan(ctx, f.name, KindStarter)
		timer := telemetry.NewTimer()
		err := f.run(sctx)
		telemetry.EndSpan(span, err)

		result := StageResult{
			Name:     f.name,
			Kind:     KindStarter,
			Duration: timer.Duration(),
			Err:      err,
		}
		o.recordStage(ctx, runID, result, scfg.Dir, "", !dryRun)
		summary.Stages = append(summary.Stages, result)
		if err != nil {
			return err
		}
	}
	return nil
}

// recordStage feeds the stage metrics and the run store. Store failures are
// logged only.
func (o *Orchestrator) recordStage(ctx context.Context, runID string, r StageResult, sourceDir, revision string, countMetrics bool) {
	status := stores.StageStatusSucceeded
	if r.Err != nil {
		status = stores.StageStatusFailed
	}

	if countMetrics {
		o.metrics.RecordStage(r.Name, r.Kind, string(status))
	}

	if o.store == nil {
		return
	}

	rec := &stores.Stage{
		RunID:      runID,
		Variant:    r.Variant,
		Name:       r.Name,
		Kind:       r.Kind,
		SourceDir:  sourceDir,
		Status:     status,
		DurationMS: r.Duration.Milliseconds(),
	}
	if revision != "" {
		rec.Revision = &revision
	}
	if r.Err != nil {
		msg := r.Err.Error()
		rec.Error = &msg
	}
	if err := o.store.RecordStage(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.WithRunID(runID).WithError(err).Warn("Failed to record stage")
	}
}

// finish completes the run record, the run metrics and the final log line.
func (o *Orchestrator) finish(ctx context.Context, log *telemetry.Logger, summary *Summary, runErr error) {
	ctx = context.WithoutCancel(ctx)

	if o.store != nil {
		var msg *string
		if runErr != nil {
			m := runErr.Error()
			msg = &m
		}
		if err := o.store.UpdateRunStatus(ctx, summary.RunID, summary.Status, msg); err != nil {
			log.WithError(err).Warn("Failed to complete run record")
		}
	}

	if !summary.DryRun {
		o.metrics.RecordRunCompleted(string(summary.Status), summary.Duration)
		if err := o.metrics.WriteTextfile(); err != nil {
			log.WithError(err).Warn("Failed to export metrics")
		}
	}

	fields := map[string]interface{}{
		"status":   string(summary.Status),
		"stages":   len(summary.Stages),
		"duration": summary.Duration.String(),
	}
	if runErr != nil {
		log.WithFields(fields).WithError(runErr).Error("Verification run failed")
		return
	}
	log.WithFields(fields).Info("Verification run completed")
}

// Plan returns every command a run with opts would execute, in order,
// without running anything or touching the filesystem.
func (o *Orchestrator) Plan(ctx context.Context, opts RunOptions) ([]runner.Command, error) {
	sel, err := o.resolve(opts)
	if err != nil {
		return nil, err
	}

	collect := &collectHook{}
	tracer := runner.NewTracer(planRunner{}, telemetry.NewNop(), collect)
	nop := telemetry.NewNop()
	quiet := &Orchestrator{
		cfg:       o.cfg,
		base:      nop,
		logger:    nop,
		metrics:   telemetry.NewMetrics(telemetry.MetricsConfig{}),
		tracer:    telemetry.NewNopTracer(),
		workspace: workspace.NewManager(nop),
		patcher:   patch.NewPatcher(nop),
	}

	if err := quiet.execute(ctx, tracer, "plan", sel, true, &Summary{}); err != nil {
		return nil, err
	}
	return collect.commands, nil
}
