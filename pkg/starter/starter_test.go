package starter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capdgroup/capdverify/pkg/patch"
	"github.com/capdgroup/capdverify/pkg/runner"
	"github.com/capdgroup/capdverify/pkg/runner/runnertest"
	"github.com/capdgroup/capdverify/pkg/stage"
	"github.com/capdgroup/capdverify/pkg/telemetry"
)

func newFlows(rec *runnertest.Recorder) *Flows {
	logger := telemetry.NewNop()
	return NewFlows(runner.NewTracer(rec, logger), patch.NewPatcher(logger), stage.Tools{}, logger)
}

func TestInPlace(t *testing.T) {
	rec := runnertest.NewRecorder()
	cfg := DefaultConfig("/w/CAPD/capdMake/examples/projectStarter")

	require.NoError(t, newFlows(rec).InPlace(context.Background(), cfg, false))

	assert.Equal(t, []string{"git clean -fd", "make", "./MyProgram"}, rec.Commands())
	for _, req := range rec.Requests() {
		assert.Equal(t, cfg.Dir, req.Dir)
		assert.Empty(t, req.Env)
	}
}

func TestInPlaceStopsAtBuildFailure(t *testing.T) {
	rec := runnertest.NewRecorder().FailWith("make", 2)
	cfg := DefaultConfig("/w/projectStarter")

	err := newFlows(rec).InPlace(context.Background(), cfg, false)
	assert.EqualError(t, err, "Failed to build project starter (error code: 2)")
	assert.Equal(t, 2, rec.Count())
}

func TestInstallLinked(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "projectStarter"))

	// The recorder does not copy anything, so stage the copy by hand.
	local := LocalDir(root, cfg)
	require.NoError(t, os.MkdirAll(local, 0o755))
	makefile := "CAPDBINDIR = /usr/local/bin/\nall:\n\tg++ main.cpp\n"
	require.NoError(t, os.WriteFile(filepath.Join(local, "Makefile"), []byte(makefile), 0o644))

	rec := runnertest.NewRecorder()
	err := newFlows(rec).InstallLinked(context.Background(), root, "/w/CAPD_install", cfg, false)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"git clean -fd",
		"cp -r " + cfg.Dir + " " + root,
		"make",
		"./MyProgram",
	}, rec.Commands())

	reqs := rec.Requests()
	assert.Equal(t, cfg.Dir, reqs[0].Dir)
	assert.Equal(t, root, reqs[1].Dir)
	assert.Equal(t, local, reqs[2].Dir)
	assert.Equal(t, map[string]string{"CAPDBINDIR": "/w/CAPD_install/bin/"}, reqs[2].Env)
	assert.Equal(t, local, reqs[3].Dir)
	assert.Empty(t, reqs[3].Env)

	data, err := os.ReadFile(filepath.Join(local, "Makefile"))
	require.NoError(t, err)
	assert.Equal(t, "# CAPDBINDIR = /usr/local/bin/\nall:\n\tg++ main.cpp\n", string(data))
}

func TestInstallLinkedPatchFailureStopsBeforeBuild(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig("/nowhere/projectStarter")

	rec := runnertest.NewRecorder()
	err := newFlows(rec).InstallLinked(context.Background(), root, "/w/install", cfg, false)
	require.Error(t, err)
	assert.False(t, runner.IsCommandError(err))
	assert.Equal(t, 2, rec.Count())
}

func TestInstallLinkedCopyFailure(t *testing.T) {
	root := "/w"
	cfg := DefaultConfig("/src/projectStarter")
	rec := runnertest.NewRecorder().FailWith("cp -r /src/projectStarter /w", 1)

	err := newFlows(rec).InstallLinked(context.Background(), root, "/w/install", cfg, false)
	assert.EqualError(t, err, "Copying failed (error code: 1)")
	assert.Equal(t, 2, rec.Count())
}

func TestInstallLinkedDryRun(t *testing.T) {
	rec := runnertest.NewRecorder()
	cfg := DefaultConfig("/src/projectStarter")

	err := newFlows(rec).InstallLinked(context.Background(), "/w", "/w/install", cfg, true)
	require.NoError(t, err)

	assert.Equal(t, 4, rec.Count())
	for _, req := range rec.Requests() {
		assert.True(t, req.DryRun)
	}
	assert.Equal(t, "/w/projectStarter", rec.Requests()[2].Dir)
}
