package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capdgroup/capdverify/pkg/telemetry"
)

func newTestRunner() *ExecRunner {
	return NewExecRunner(telemetry.NewNop(), WithOutput(io.Discard, io.Discard))
}

func TestExecRunnerSuccess(t *testing.T) {
	res, err := newTestRunner().Run(context.Background(), Request{Args: []string{"true"}})
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.False(t, res.DryRun)
}

func TestExecRunnerNonZeroExitIsNotAnError(t *testing.T) {
	res, err := newTestRunner().Run(context.Background(), Request{
		Args: []string{"sh", "-c", "exit 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.Success())
}

func TestExecRunnerWorkingDirectory(t *testing.T) {
	dir := t.TempDir()

	_, err := newTestRunner().Run(context.Background(), Request{
		Args: []string{"sh", "-c", "echo here > marker.txt"},
		Dir:  dir,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "marker.txt"))
	require.NoError(t, err)
	assert.Equal(t, "here\n", string(data))
}

func TestExecRunnerEnvironmentOverlay(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CAPDVERIFY_INHERITED", "parent")

	_, err := newTestRunner().Run(context.Background(), Request{
		Args: []string{"sh", "-c", `printf "%s|%s" "$CAPDBINDIR" "$CAPDVERIFY_INHERITED" > env.txt`},
		Dir:  dir,
		Env:  map[string]string{"CAPDBINDIR": "/opt/capd/bin/"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "env.txt"))
	require.NoError(t, err)
	assert.Equal(t, "/opt/capd/bin/|parent", string(data))

	// The overlay never leaks into the parent process.
	_, set := os.LookupEnv("CAPDBINDIR")
	assert.False(t, set)
}

func TestExecRunnerOverlayOverridesInherited(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CAPDBINDIR", "/from/parent")

	_, err := newTestRunner().Run(context.Background(), Request{
		Args: []string{"sh", "-c", `printf "%s" "$CAPDBINDIR" > env.txt`},
		Dir:  dir,
		Env:  map[string]string{"CAPDBINDIR": "/from/overlay"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "env.txt"))
	require.NoError(t, err)
	assert.Equal(t, "/from/overlay", string(data))
}

func TestExecRunnerStartFailure(t *testing.T) {
	_, err := newTestRunner().Run(context.Background(), Request{
		Args: []string{"capdverify-definitely-not-a-binary"},
	})
	require.Error(t, err)
	assert.False(t, IsCommandError(err))
	assert.Contains(t, err.Error(), "failed to start")
}

func TestExecRunnerEmptyArgs(t *testing.T) {
	_, err := newTestRunner().Run(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestExecRunnerDryRun(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := telemetry.NewLoggerWithWriter(&buf, telemetry.LoggingConfig{Level: "info", Format: "json"})
	r := NewExecRunner(logger, WithOutput(io.Discard, io.Discard))

	req := Request{
		Args:   []string{"sh", "-c", "touch marker"},
		Dir:    dir,
		DryRun: true,
	}
	res, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.True(t, res.Success())

	// Nothing ran.
	_, statErr := os.Stat(filepath.Join(dir, "marker"))
	assert.True(t, os.IsNotExist(statErr))

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record))
	assert.Equal(t, "dry run\nprogram: sh\nargs: sh -c touch marker\ncwd: "+dir, record["message"])
	assert.Equal(t, "sh", record["program"])
	assert.Equal(t, "sh -c touch marker", record["args"])
	assert.Equal(t, dir, record["cwd"])
}

func TestFormatDryRun(t *testing.T) {
	got := FormatDryRun(Request{
		Args: []string{"cmake", "-S", "/tmp/x/lib", "-B", "/tmp/x/lib/build", "-DFOO=ON"},
		Dir:  "/tmp/x",
	})
	want := strings.Join([]string{
		"dry run",
		"program: cmake",
		"args: cmake -S /tmp/x/lib -B /tmp/x/lib/build -DFOO=ON",
		"cwd: /tmp/x",
	}, "\n")
	assert.Equal(t, want, got)
}
