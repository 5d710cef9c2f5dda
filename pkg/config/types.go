package config

import (
	"path/filepath"

	"github.com/capdgroup/capdverify/pkg/stage"
	"github.com/capdgroup/capdverify/pkg/starter"
	"github.com/capdgroup/capdverify/pkg/stores"
	"github.com/capdgroup/capdverify/pkg/telemetry"
)

// Config is the complete harness configuration.
type Config struct {
	// Workspace is where every repository is cloned and built.
	Workspace WorkspaceConfig `yaml:"workspace" json:"workspace"`

	// Parallelism is passed to the build driver as -j.
	Parallelism int `yaml:"parallelism" json:"parallelism" validate:"min=1,max=256"`

	// Tools names the external programs.
	Tools stage.Tools `yaml:"tools" json:"tools"`

	// Library is verified first; everything else consumes its install.
	Library LibraryConfig `yaml:"library" json:"library"`

	// Variants repeat the library and example stages with extra configure
	// flags. Empty means a single run with no extra flags.
	Variants []VariantConfig `yaml:"variants" json:"variants" validate:"dive"`

	// Examples are downstream projects verified with executable stages.
	Examples []ExampleConfig `yaml:"examples" json:"examples" validate:"dive"`

	// Starter configures the project-starter flows.
	Starter StarterConfig `yaml:"starter" json:"starter"`

	// Store configures the run history database.
	Store StoreConfig `yaml:"store" json:"store"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
}

// WorkspaceConfig configures the workspace root.
type WorkspaceConfig struct {
	Root string `yaml:"root" json:"root" validate:"required"`

	// Mode is "fresh" or "incremental".
	Mode string `yaml:"mode" json:"mode" validate:"oneof=fresh incremental"`
}

// LibraryConfig describes the library repository.
type LibraryConfig struct {
	Name     string   `yaml:"name" json:"name" validate:"required"`
	URL      string   `yaml:"url" json:"url" validate:"required"`
	Dir      string   `yaml:"dir" json:"dir" validate:"required,excludes=/"`
	BuildDir string   `yaml:"build_dir" json:"build_dir" validate:"required"`
	Flags    []string `yaml:"flags" json:"flags"`

	// InstallDir is relative to the workspace (or variant) root unless absolute.
	InstallDir string `yaml:"install_dir" json:"install_dir" validate:"required"`
}

// VariantConfig is one build configuration of the library.
type VariantConfig struct {
	Name  string   `yaml:"name" json:"name" validate:"required,excludesall=/ "`
	Flags []string `yaml:"flags" json:"flags"`
}

// ExampleConfig describes a downstream example project.
type ExampleConfig struct {
	Name     string   `yaml:"name" json:"name" validate:"required"`
	URL      string   `yaml:"url" json:"url" validate:"required"`
	Dir      string   `yaml:"dir" json:"dir" validate:"required,excludes=/"`
	BuildDir string   `yaml:"build_dir" json:"build_dir" validate:"required"`
	Flags    []string `yaml:"flags" json:"flags"`
	Run      []string `yaml:"run" json:"run" validate:"min=1"`

	// LinkInstall adds -DCMAKE_PREFIX_PATH=<library install dir>.
	LinkInstall bool `yaml:"link_install" json:"link_install"`
}

// StarterConfig configures the project-starter flows.
type StarterConfig struct {
	InPlace       bool `yaml:"in_place" json:"in_place"`
	InstallLinked bool `yaml:"install_linked" json:"install_linked"`

	// Dir is relative to the library checkout unless absolute.
	Dir       string   `yaml:"dir" json:"dir" validate:"required_if=InPlace true,required_if=InstallLinked true"`
	Program   []string `yaml:"program" json:"program"`
	BinDirVar string   `yaml:"bin_dir_var" json:"bin_dir_var"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path" validate:"required_if=Enabled true"`
}

// Enabled reports whether any starter flow is switched on.
func (s StarterConfig) Enabled() bool {
	return s.InPlace || s.InstallLinked
}

// StageConfig converts the library description into a stage config.
func (l LibraryConfig) StageConfig(parallelism int, extraFlags ...string) stage.Config {
	return stage.Config{
		Name:        l.Name,
		URL:         l.URL,
		Dir:         l.Dir,
		BuildDir:    l.BuildDir,
		Flags:       joinFlags(l.Flags, extraFlags),
		Parallelism: parallelism,
	}
}

// InstallPath resolves the install directory against root.
func (l LibraryConfig) InstallPath(root string) string {
	if filepath.IsAbs(l.InstallDir) {
		return l.InstallDir
	}
	return filepath.Join(root, l.InstallDir)
}

// StageConfig converts the example description into a stage config.
func (e ExampleConfig) StageConfig(parallelism int, extraFlags ...string) stage.Config {
	return stage.Config{
		Name:        e.Name,
		URL:         e.URL,
		Dir:         e.Dir,
		BuildDir:    e.BuildDir,
		Flags:       joinFlags(e.Flags, extraFlags),
		Parallelism: parallelism,
		Run:         append([]string(nil), e.Run...),
	}
}

// StarterFlowConfig resolves the starter settings against the library checkout.
func (s StarterConfig) StarterFlowConfig(libraryCheckout string) starter.Config {
	dir := s.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(libraryCheckout, dir)
	}
	cfg := starter.DefaultConfig(dir)
	if len(s.Program) > 0 {
		cfg.Program = append([]string(nil), s.Program...)
	}
	if s.BinDirVar != "" {
		cfg.BinDirVar = s.BinDirVar
	}
	return cfg
}

// StoreOptions converts the store settings.
func (s StoreConfig) StoreOptions() stores.Config {
	return stores.Config{Path: s.Path}
}

// Example returns the example called name.
func (c *Config) Example(name string) (ExampleConfig, bool) {
	for _, e := range c.Examples {
		if e.Name == name || e.Dir == name {
			return e, true
		}
	}
	return ExampleConfig{}, false
}

func joinFlags(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}
