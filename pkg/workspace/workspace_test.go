package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capdgroup/capdverify/pkg/telemetry"
)

func seed(t *testing.T, root string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "CAPD", "build"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "CAPD", "CMakeLists.txt"), []byte("project(capd)\n"), 0o644))
}

func TestPrepareFreshCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workdir")
	m := NewManager(telemetry.NewNop())

	abs, err := m.Prepare(root, ModeFresh, false)
	require.NoError(t, err)
	assert.Equal(t, root, abs)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPrepareFreshWipesExistingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workdir")
	seed(t, root)
	m := NewManager(telemetry.NewNop())

	_, err := m.Prepare(root, ModeFresh, false)
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPrepareIncrementalKeepsContents(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workdir")
	seed(t, root)
	m := NewManager(telemetry.NewNop())

	_, err := m.Prepare(root, ModeIncremental, false)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "CAPD", "CMakeLists.txt"))
	require.NoError(t, err)
	assert.Equal(t, "project(capd)\n", string(data))

	_, err = os.Stat(filepath.Join(root, "CAPD", "build"))
	assert.NoError(t, err)
}

func TestPrepareIncrementalCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "workdir")
	m := NewManager(telemetry.NewNop())

	_, err := m.Prepare(root, ModeIncremental, false)
	require.NoError(t, err)

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPrepareDryRunTouchesNothing(t *testing.T) {
	base := t.TempDir()
	m := NewManager(telemetry.NewNop())

	missing := filepath.Join(base, "missing")
	abs, err := m.Prepare(missing, ModeFresh, true)
	require.NoError(t, err)
	assert.Equal(t, missing, abs)
	_, err = os.Stat(missing)
	assert.True(t, os.IsNotExist(err))

	existing := filepath.Join(base, "existing")
	seed(t, existing)
	_, err = m.Prepare(existing, ModeFresh, true)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(existing, "CAPD", "CMakeLists.txt"))
	assert.NoError(t, err)
}

func TestPrepareResolvesRelativePath(t *testing.T) {
	base := t.TempDir()
	t.Chdir(base)
	m := NewManager(telemetry.NewNop())

	abs, err := m.Prepare("workdir", ModeFresh, true)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))
	assert.Equal(t, "workdir", filepath.Base(abs))
}

func TestPrepareFreshRefusesFilesystemRoot(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/keep", []byte("x"), 0o644))
	m := NewManagerWithFS(fs, telemetry.NewNop())

	for _, dryRun := range []bool{false, true} {
		_, err := m.Prepare("/", ModeFresh, dryRun)
		assert.ErrorContains(t, err, "filesystem root")
	}
	_, err := fs.Stat("/keep")
	assert.NoError(t, err)
}

func TestPrepareFreshRefusesWorkingDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workdir")
	sub := filepath.Join(root, "configs")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	cfgPath := filepath.Join(sub, "capdverify.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("workspace: {}\n"), 0o644))
	m := NewManager(telemetry.NewNop())

	for _, cwd := range []string{root, sub} {
		t.Run(filepath.Base(cwd), func(t *testing.T) {
			t.Chdir(cwd)
			for _, r := range []string{".", root} {
				_, err := m.Prepare(r, ModeFresh, false)
				assert.ErrorContains(t, err, "working directory")
			}
		})
	}
	_, err := os.Stat(cfgPath)
	assert.NoError(t, err)
}

func TestPrepareFreshAllowsSiblingOfWorkingDirectory(t *testing.T) {
	base := t.TempDir()
	t.Chdir(base)
	m := NewManager(telemetry.NewNop())

	abs, err := m.Prepare("workdir", ModeFresh, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "workdir"), abs)

	_, err = m.Prepare("../"+filepath.Base(base)+"-other", ModeFresh, true)
	assert.NoError(t, err)
}

func TestPrepareIncrementalAcceptsWorkingDirectory(t *testing.T) {
	base := t.TempDir()
	t.Chdir(base)
	m := NewManager(telemetry.NewNop())

	_, err := m.Prepare(".", ModeIncremental, false)
	assert.NoError(t, err)
}

func TestPrepareRejectsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workdir")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))
	m := NewManager(telemetry.NewNop())

	_, err := m.Prepare(root, ModeIncremental, false)
	assert.Error(t, err)
}

func TestPrepareOnMemoryFilesystem(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/ws/CAPD/README", []byte("x"), 0o644))
	m := NewManagerWithFS(fs, telemetry.NewNop())

	_, err := m.Prepare("/ws", ModeIncremental, false)
	require.NoError(t, err)
	_, err = fs.Stat("/ws/CAPD/README")
	require.NoError(t, err)

	_, err = m.Prepare("/ws", ModeFresh, false)
	require.NoError(t, err)
	entries, err := fs.ReadDir("/ws")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("incremental")
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeFresh, m)

	_, err = ParseMode("sometimes")
	assert.Error(t, err)
}
