package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/capdgroup/capdverify/pkg/config"
	"github.com/capdgroup/capdverify/pkg/patch"
	"github.com/capdgroup/capdverify/pkg/runner"
	"github.com/capdgroup/capdverify/pkg/runner/runnertest"
	"github.com/capdgroup/capdverify/pkg/stores"
	"github.com/capdgroup/capdverify/pkg/telemetry"
	"github.com/capdgroup/capdverify/pkg/workspace"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Workspace.Root = "/w"
	return cfg
}

type fixture struct {
	rec *runnertest.Recorder
	fs  billy.Filesystem
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, opts ...Option) (*Orchestrator, *fixture) {
	t.Helper()
	fx := &fixture{rec: runnertest.NewRecorder(), fs: memfs.New()}
	nop := telemetry.NewNop()

	base := []Option{
		WithRunner(fx.rec),
		WithWorkspace(workspace.NewManagerWithFS(fx.fs, nop)),
		WithPatcher(patch.NewPatcherWithFS(fx.fs, nop)),
		WithRunIDGenerator(func() string { return "run-1" }),
	}
	return New(cfg, nop, append(base, opts...)...), fx
}

func TestDryRunDefaultConfig(t *testing.T) {
	o, fx := newTestOrchestrator(t, testConfig())

	summary, err := o.Run(context.Background(), RunOptions{DryRun: true})
	require.NoError(t, err)

	// library 5, two examples 5 each, in place 3, install linked 4
	assert.Equal(t, 22, fx.rec.Count())
	assert.Equal(t, stores.RunStatusCompleted, summary.Status)
	assert.Equal(t, "/w", summary.Root)
	assert.Len(t, summary.Stages, 5)

	for _, req := range fx.rec.Requests() {
		assert.True(t, req.DryRun, "every request must be a dry run: %v", req.Args)
	}

	_, statErr := fx.fs.Stat("/w")
	assert.Error(t, statErr, "dry run must not create the workspace")
}

func TestDryRunCommandSequence(t *testing.T) {
	o, fx := newTestOrchestrator(t, testConfig())

	_, err := o.Run(context.Background(), RunOptions{DryRun: true})
	require.NoError(t, err)

	cmds := fx.rec.Commands()
	assert.Equal(t, "git clone https://github.com/CAPDGroup/CAPD", cmds[0])
	assert.Equal(t, "cmake -S /w/CAPD -B /w/CAPD/build -DCAPD_BUILD_ALL=ON -DCMAKE_INSTALL_PREFIX=/w/CAPD_install", cmds[1])
	assert.Equal(t, "make -j 4", cmds[2])
	assert.Equal(t, "make test -j 4", cmds[3])
	assert.Equal(t, "make install", cmds[4])

	assert.Equal(t, "git clone https://github.com/CAPDGroup/CAPD.example.1", cmds[5])
	assert.Equal(t, "git submodule update --init --recursive", cmds[6])
	assert.Equal(t, "cmake -S /w/CAPD.example.1 -B /w/CAPD.example.1/build -DCMAKE_PREFIX_PATH=/w/CAPD_install", cmds[7])
	assert.Equal(t, "./capd_example", cmds[9])

	assert.Equal(t, "git submodule update --init --recursive", cmds[11])
	assert.Equal(t, "cmake -S /w/CAPD.example.2 -B /w/CAPD.example.2/build -DCAPD_ENABLE_MULTIPRECISION=OFF", cmds[12])

	assert.Equal(t, []string{"git clean -fd", "make", "./MyProgram"}, cmds[15:18])
	assert.Equal(t, "cp -r /w/CAPD/capdMake/examples/projectStarter /w", cmds[19])

	reqs := fx.rec.Requests()
	assert.Equal(t, "/w/CAPD/capdMake/examples/projectStarter", reqs[15].Dir)
	assert.Equal(t, map[string]string{"CAPDBINDIR": "/w/CAPD_install/bin/"}, reqs[20].Env)
	assert.Equal(t, "/w/projectStarter", reqs[21].Dir)
}

func TestPlanMatchesDryRun(t *testing.T) {
	o, fx := newTestOrchestrator(t, testConfig())

	plan, err := o.Plan(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, plan, 22)
	assert.Zero(t, fx.rec.Count(), "plan must not use the runner")

	assert.Equal(t, "CAPD", plan[0].Stage)
	assert.Equal(t, "clone", plan[0].Step)
	assert.Equal(t, "Cloning CAPD repository...", plan[0].Trace)
	assert.Equal(t, "project starter", plan[21].Stage)
	assert.Equal(t, "run", plan[21].Step)
	for _, cmd := range plan {
		assert.True(t, cmd.DryRun)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	store, err := stores.Open(context.Background(), stores.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	o, fx := newTestOrchestrator(t, testConfig(), WithStore(store))
	fx.rec.FailWith("make -j 4", 2)

	summary, err := o.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.Equal(t, "Failed to build CAPD (error code: 2)", err.Error())

	code, ok := runner.ExitCode(err)
	require.True(t, ok)
	assert.Equal(t, 2, code)

	assert.Equal(t, 3, fx.rec.Count())
	assert.Equal(t, stores.RunStatusFailed, summary.Status)
	failed, ok := summary.Failed()
	require.True(t, ok)
	assert.Equal(t, "CAPD", failed.Name)

	info, statErr := fx.fs.Stat("/w")
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())

	ctx := context.Background()
	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, stores.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, "error code: 2")
	assert.NotNil(t, run.CompletedAt)

	steps, err := store.ListStepsByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, stores.StepStatusFailed, steps[2].Status)
	assert.Equal(t, 2, steps[2].ExitCode)

	stages, err := store.ListStagesByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, stores.StageStatusFailed, stages[0].Status)
}

func TestRunVariants(t *testing.T) {
	cfg := testConfig()
	cfg.Variants = []config.VariantConfig{
		{Name: "filib", Flags: []string{"-DCAPD_INTERVAL=filib"}},
		{Name: "mpfr", Flags: []string{"-DCAPD_INTERVAL=mpfr"}},
	}
	o, fx := newTestOrchestrator(t, cfg)

	_, err := o.Run(context.Background(), RunOptions{DryRun: true, Targets: Targets{Library: true}})
	require.NoError(t, err)

	cmds := fx.rec.Commands()
	require.Len(t, cmds, 10)
	assert.Equal(t, "/w/filib", fx.rec.Requests()[0].Dir)
	assert.Equal(t, "cmake -S /w/filib/CAPD -B /w/filib/CAPD/build -DCAPD_BUILD_ALL=ON -DCMAKE_INSTALL_PREFIX=/w/filib/CAPD_install -DCAPD_INTERVAL=filib", cmds[1])
	assert.Equal(t, "/w/mpfr", fx.rec.Requests()[5].Dir)
	assert.True(t, strings.HasSuffix(cmds[6], "-DCAPD_INTERVAL=mpfr"))
}

func TestRunSelectedVariantKeepsItsDirectory(t *testing.T) {
	cfg := testConfig()
	cfg.Variants = []config.VariantConfig{{Name: "filib"}, {Name: "mpfr"}}
	o, fx := newTestOrchestrator(t, cfg)

	summary, err := o.Run(context.Background(), RunOptions{
		DryRun:   true,
		Variants: []string{"mpfr"},
		Targets:  Targets{Library: true},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, fx.rec.Count())
	assert.Equal(t, "/w/mpfr", fx.rec.Requests()[0].Dir)
	assert.Equal(t, "mpfr", summary.Stages[0].Variant)
}

func TestRunRejectsUnknownSelections(t *testing.T) {
	o, fx := newTestOrchestrator(t, testConfig())

	_, err := o.Run(context.Background(), RunOptions{Variants: []string{"nope"}})
	assert.EqualError(t, err, `unknown variant "nope"`)

	_, err = o.Run(context.Background(), RunOptions{Targets: Targets{Examples: []string{"nope"}}})
	assert.EqualError(t, err, `unknown example "nope"`)

	assert.Zero(t, fx.rec.Count())
}

func TestRunSingleExample(t *testing.T) {
	o, fx := newTestOrchestrator(t, testConfig())

	summary, err := o.Run(context.Background(), RunOptions{
		DryRun:  true,
		Targets: Targets{Examples: []string{"CAPD.example.2"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, fx.rec.Count())
	require.Len(t, summary.Stages, 1)
	assert.Equal(t, "CAPD example 2", summary.Stages[0].Name)
	assert.Equal(t, "executable", summary.Stages[0].Kind)
}

func TestInstallLinkedPatchesMakefile(t *testing.T) {
	o, fx := newTestOrchestrator(t, testConfig())
	require.NoError(t, util.WriteFile(fx.fs, "/w/projectStarter/Makefile",
		[]byte("CAPDBINDIR = /usr/local/bin/\nall:\n\t$(CAPDBINDIR)capd-config\n"), 0o644))

	summary, err := o.Run(context.Background(), RunOptions{
		Mode:    workspace.ModeIncremental,
		Targets: Targets{InstallLinked: true},
	})
	require.NoError(t, err)
	assert.Equal(t, stores.RunStatusCompleted, summary.Status)

	data, err := util.ReadFile(fx.fs, "/w/projectStarter/Makefile")
	require.NoError(t, err)
	assert.Equal(t, "# CAPDBINDIR = /usr/local/bin/\nall:\n\t$(CAPDBINDIR)capd-config\n", string(data))

	assert.Equal(t, []string{
		"git clean -fd",
		"cp -r /w/CAPD/capdMake/examples/projectStarter /w",
		"make",
		"./MyProgram",
	}, fx.rec.Commands())
}

func TestInstallLinkedMissingMakefileFails(t *testing.T) {
	o, fx := newTestOrchestrator(t, testConfig())

	summary, err := o.Run(context.Background(), RunOptions{Targets: Targets{InstallLinked: true}})
	require.Error(t, err)
	assert.False(t, runner.IsCommandError(err))
	assert.Equal(t, stores.RunStatusFailed, summary.Status)
	assert.Equal(t, 2, fx.rec.Count(), "build must not start after the patch failed")
}

func TestRunEmitsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer := telemetry.NewTracerWithExporter(exporter, "capdverify-test")

	o, _ := newTestOrchestrator(t, testConfig(), WithTracer(tracer))
	_, err := o.Run(context.Background(), RunOptions{DryRun: true, Targets: Targets{Library: true}})
	require.NoError(t, err)

	spans := exporter.GetSpans()
	// run, stage and five steps
	require.Len(t, spans, 7)

	names := make(map[string]bool)
	for _, s := range spans {
		names[s.Name] = true
	}
	assert.True(t, names["run.execute"])
	assert.True(t, names["stage.library"])
	assert.True(t, names["step.install"])
}

func TestRunRecordsMetrics(t *testing.T) {
	metrics := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "test"})

	o, fx := newTestOrchestrator(t, testConfig(), WithMetrics(metrics))
	fx.rec.FailWith("make test -j 4", 8)

	_, err := o.Run(context.Background(), RunOptions{Targets: Targets{Library: true}})
	require.Error(t, err)

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)

	found := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				found[mf.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 4.0, found["test_steps_executed_total"])
	assert.Equal(t, 1.0, found["test_step_failures_total"])
	assert.Equal(t, 1.0, found["test_runs_completed_total"])
	assert.Equal(t, 1.0, found["test_stages_completed_total"])
}
