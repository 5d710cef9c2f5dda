// Package workspace prepares the root directory every stage works under.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/capdgroup/capdverify/pkg/telemetry"
)

// Mode is the lifecycle of the workspace root.
type Mode string

const (
	// ModeFresh deletes the root if present and recreates it empty.
	ModeFresh Mode = "fresh"

	// ModeIncremental creates the root only when absent and otherwise leaves
	// it untouched, so clones and builds from earlier runs are reused.
	ModeIncremental Mode = "incremental"
)

// ParseMode converts a flag or config value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFresh, ModeIncremental:
		return Mode(s), nil
	case "":
		return ModeFresh, nil
	default:
		return "", fmt.Errorf("unknown workspace mode %q (want %q or %q)", s, ModeFresh, ModeIncremental)
	}
}

// Manager creates and resets workspace roots.
type Manager struct {
	fs     billy.Filesystem
	logger *telemetry.Logger
}

// NewManager returns a manager on the local filesystem.
func NewManager(logger *telemetry.Logger) *Manager {
	return NewManagerWithFS(osfs.New("/"), logger)
}

// NewManagerWithFS returns a manager on fs. Paths handed to Prepare are made
// absolute first, so fs must be rooted at "/".
func NewManagerWithFS(fs billy.Filesystem, logger *telemetry.Logger) *Manager {
	return &Manager{
		fs:     fs,
		logger: logger.NewComponentLogger("workspace"),
	}
}

// Prepare readies root according to mode and returns its absolute path.
// In dry-run mode it only logs the path. Fresh mode refuses "/" and any root
// that contains the working directory, dry run included. Filesystem errors are returned as is,
// wrapped with the operation that failed.
func (m *Manager) Prepare(root string, mode Mode, dryRun bool) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace %s: %w", root, err)
	}

	log := m.logger.WithFields(map[string]interface{}{
		"path": abs,
		"mode": string(mode),
	})

	if mode == ModeFresh {
		if err := checkDisposable(abs); err != nil {
			return "", err
		}
	}

	if dryRun {
		log.Info("Dry run: workspace left untouched")
		return abs, nil
	}

	exists, err := m.exists(abs)
	if err != nil {
		return "", err
	}

	switch mode {
	case ModeIncremental:
		if exists {
			log.Debug("Reusing existing workspace")
			return abs, nil
		}
	case ModeFresh:
		if exists {
			log.Debug("Removing existing workspace")
			if err := util.RemoveAll(m.fs, abs); err != nil {
				return "", fmt.Errorf("failed to remove workspace %s: %w", abs, err)
			}
		}
	default:
		return "", fmt.Errorf("unknown workspace mode %q", mode)
	}

	log.Debug("Creating workspace")
	if err := m.fs.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace %s: %w", abs, err)
	}
	return abs, nil
}

// checkDisposable refuses fresh-mode roots whose removal would take the
// filesystem root or the working directory with it.
func checkDisposable(abs string) error {
	if abs == filepath.Dir(abs) {
		return fmt.Errorf("refusing to wipe filesystem root %s as workspace", abs)
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}
	rel, err := filepath.Rel(abs, wd)
	if err != nil {
		return nil
	}
	if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return fmt.Errorf("refusing to wipe workspace %s: it contains the working directory %s", abs, wd)
	}
	return nil
}

func (m *Manager) exists(path string) (bool, error) {
	info, err := m.fs.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return false, fmt.Errorf("workspace %s exists and is not a directory", path)
		}
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat workspace %s: %w", path, err)
}
