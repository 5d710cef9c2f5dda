// Package patch rewrites text files in place, one line at a time.
package patch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	"github.com/capdgroup/capdverify/pkg/telemetry"
)

// Action is what a Transform decides for one input line: either emit a
// replacement line and keep reading, or stop.
type Action struct {
	line string
	stop bool
}

// Continue emits line (which may be empty) and reads on.
func Continue(line string) Action {
	return Action{line: line}
}

// Stop ends processing. The current line and everything after it are dropped.
func Stop() Action {
	return Action{stop: true}
}

// Line returns the replacement line of a Continue action.
func (a Action) Line() string { return a.line }

// Stopped reports whether a is Stop.
func (a Action) Stopped() bool { return a.stop }

// Transform maps one line, without its terminator, to an Action.
type Transform func(line string) (Action, error)

// Identity returns every line unchanged.
func Identity(line string) (Action, error) {
	return Continue(line), nil
}

// CommentOut prefixes every line starting with prefix by marker.
func CommentOut(prefix, marker string) Transform {
	return func(line string) (Action, error) {
		if strings.HasPrefix(line, prefix) {
			return Continue(marker + line), nil
		}
		return Continue(line), nil
	}
}

// Patcher applies transforms to files on a billy filesystem.
type Patcher struct {
	fs     billy.Filesystem
	logger *telemetry.Logger

	// local is set when fs is the host filesystem rooted at "/". billy's
	// osfs has no Chmod, so modes are then applied through os directly.
	local bool
}

// NewPatcher returns a patcher on the local filesystem.
func NewPatcher(logger *telemetry.Logger) *Patcher {
	p := NewPatcherWithFS(osfs.New("/"), logger)
	p.local = true
	return p
}

// NewPatcherWithFS returns a patcher on fs, which must be rooted at "/".
func NewPatcherWithFS(fs billy.Filesystem, logger *telemetry.Logger) *Patcher {
	return &Patcher{
		fs:     fs,
		logger: logger.NewComponentLogger("patch"),
	}
}

// Apply rewrites path through t. Output goes to a temporary file next to
// path, which replaces path only once every line was processed without error;
// the original permission bits are carried over. On any error the temporary
// file is removed and path is left as it was.
func (p *Patcher) Apply(path string, t Transform) (err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	info, err := p.fs.Stat(abs)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", abs, err)
	}

	src, err := p.fs.Open(abs)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", abs, err)
	}
	defer src.Close()

	perm := info.Mode().Perm()
	tmpName := filepath.Join(filepath.Dir(abs), "."+filepath.Base(abs)+".patch-"+uuid.NewString()[:8])
	tmp, err := p.fs.OpenFile(tmpName, os.O_RDWR|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", abs, err)
	}

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = p.fs.Remove(tmpName)
		}
	}()

	lines, err := rewrite(src, tmp, t)
	if err != nil {
		return fmt.Errorf("failed to patch %s: %w", abs, err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file for %s: %w", abs, err)
	}

	if err = p.chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to copy permissions to %s: %w", tmpName, err)
	}

	if err = p.fs.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("failed to replace %s: %w", abs, err)
	}

	p.logger.WithFields(map[string]interface{}{
		"path":  abs,
		"lines": lines,
	}).Debug("Patched file")
	return nil
}

// chmod sets the exact permission bits of name. The create mode alone is
// not enough on the host filesystem, where the umask applies.
func (p *Patcher) chmod(name string, perm os.FileMode) error {
	switch ch, ok := p.fs.(billy.Change); {
	case ok:
		return ch.Chmod(name, perm)
	case p.local:
		return os.Chmod(name, perm)
	}

	info, err := p.fs.Stat(name)
	if err != nil {
		return err
	}
	if got := info.Mode().Perm(); got != perm {
		return fmt.Errorf("filesystem cannot set mode %v (got %v)", perm, got)
	}
	return nil
}

// rewrite copies r to w through t and returns the number of lines written.
// Line terminators are written back exactly as read.
func rewrite(r io.Reader, w io.Writer, t Transform) (int, error) {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)
	written := 0

	for {
		chunk, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return written, readErr
		}
		if chunk == "" && readErr != nil {
			break
		}

		line, term := chunk, ""
		if strings.HasSuffix(chunk, "\n") {
			line, term = chunk[:len(chunk)-1], "\n"
		}

		action, err := t(line)
		if err != nil {
			return written, fmt.Errorf("line %d: %w", written+1, err)
		}
		if action.Stopped() {
			break
		}

		if _, err := writer.WriteString(action.Line() + term); err != nil {
			return written, err
		}
		written++

		if readErr != nil {
			break
		}
	}

	return written, writer.Flush()
}
