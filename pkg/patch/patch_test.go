package patch

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capdgroup/capdverify/pkg/telemetry"
)

const makefile = `# Project starter
CAPDBINDIR = /home/user/capd/bin/

CXX = g++

all: MyProgram
	$(CXX) main.cpp -o MyProgram $(shell $(CAPDBINDIR)capd-config --cflags --libs)
`

func writeFile(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Makefile")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func newPatcher() *Patcher {
	return NewPatcher(telemetry.NewNop())
}

func assertNoLeftovers(t *testing.T, path string) {
	t.Helper()
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(path), entries[0].Name())
}

func TestApplyIdentityIsByteIdentical(t *testing.T) {
	cases := map[string]string{
		"makefile":            makefile,
		"no trailing newline": "a\nb\nc",
		"blank lines":         "\n\nx\n\n",
		"crlf":                "a\r\nb\r\n",
		"empty":               "",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, content, 0o640)

			require.NoError(t, newPatcher().Apply(path, Identity))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, content, string(data))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
			assertNoLeftovers(t, path)
		})
	}
}

func TestApplyPreservesExecutableBit(t *testing.T) {
	path := writeFile(t, "#!/bin/sh\necho hi\n", 0o755)

	require.NoError(t, newPatcher().Apply(path, CommentOut("echo", "# ")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestCommentOutSingleLine(t *testing.T) {
	path := writeFile(t, "CAPDBINDIR = /opt/capd/bin/\n", 0o644)

	require.NoError(t, newPatcher().Apply(path, CommentOut("CAPDBINDIR", "# ")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# CAPDBINDIR = /opt/capd/bin/\n", string(data))
}

func TestCommentOutMakefile(t *testing.T) {
	path := writeFile(t, makefile, 0o644)

	require.NoError(t, newPatcher().Apply(path, CommentOut("CAPDBINDIR", "# ")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := strings.Replace(makefile, "CAPDBINDIR = ", "# CAPDBINDIR = ", 1)
	assert.Equal(t, want, string(data))
}

func TestStopDropsRemainingLines(t *testing.T) {
	path := writeFile(t, "one\ntwo\nSTOP\nthree\n", 0o644)

	stopAt := func(line string) (Action, error) {
		if line == "STOP" {
			return Stop(), nil
		}
		return Continue(line), nil
	}
	require.NoError(t, newPatcher().Apply(path, stopAt))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestEmptyLineIsNotStop(t *testing.T) {
	path := writeFile(t, "a\nb\nc\n", 0o644)

	blankB := func(line string) (Action, error) {
		if line == "b" {
			return Continue(""), nil
		}
		return Continue(line), nil
	}
	require.NoError(t, newPatcher().Apply(path, blankB))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\n\nc\n", string(data))
}

func TestTransformErrorLeavesOriginalUntouched(t *testing.T) {
	path := writeFile(t, makefile, 0o600)
	boom := errors.New("boom")

	failing := func(line string) (Action, error) {
		if strings.HasPrefix(line, "CXX") {
			return Action{}, boom
		}
		return Continue("changed"), nil
	}
	err := newPatcher().Apply(path, failing)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "line 4")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, makefile, string(data))
	assertNoLeftovers(t, path)
}

func TestApplyMissingFile(t *testing.T) {
	err := newPatcher().Apply(filepath.Join(t.TempDir(), "Makefile"), Identity)
	assert.Error(t, err)
}

func TestCommentOutKeepsMode(t *testing.T) {
	for _, perm := range []os.FileMode{0o644, 0o600, 0o666, 0o750} {
		t.Run(perm.String(), func(t *testing.T) {
			path := writeFile(t, "CAPDBINDIR = /x/\nall:\n", perm)

			require.NoError(t, newPatcher().Apply(path, CommentOut("CAPDBINDIR", "# ")))

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "# CAPDBINDIR = /x/\nall:\n", string(data))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, perm, info.Mode().Perm())
			assertNoLeftovers(t, path)
		})
	}
}

func TestApplyInMemoryKeepsMode(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/src/Makefile", []byte("CAPDBINDIR = /x/\nall:\n"), 0o750))

	p := NewPatcherWithFS(fs, telemetry.NewNop())
	require.NoError(t, p.Apply("/src/Makefile", CommentOut("CAPDBINDIR", "# ")))

	data, err := util.ReadFile(fs, "/src/Makefile")
	require.NoError(t, err)
	assert.Equal(t, "# CAPDBINDIR = /x/\nall:\n", string(data))

	info, err := fs.Stat("/src/Makefile")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())

	entries, err := fs.ReadDir("/src")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
