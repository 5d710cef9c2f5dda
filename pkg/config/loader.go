package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/capdgroup/capdverify/pkg/stage"
	"github.com/capdgroup/capdverify/pkg/telemetry"
)

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "capdverify.yaml"

// Default returns the configuration that verifies the CAPD library, its two
// example projects and the project starter.
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Root: "workdir",
			Mode: "fresh",
		},
		Parallelism: 4,
		Tools:       stage.DefaultTools(),
		Library: LibraryConfig{
			Name:       "CAPD",
			URL:        "https://github.com/CAPDGroup/CAPD",
			Dir:        "CAPD",
			BuildDir:   "build",
			Flags:      []string{"-DCAPD_BUILD_ALL=ON"},
			InstallDir: "CAPD_install",
		},
		Examples: []ExampleConfig{
			{
				Name:        "CAPD example 1",
				URL:         "https://github.com/CAPDGroup/CAPD.example.1",
				Dir:         "CAPD.example.1",
				BuildDir:    "build",
				Run:         []string{"./capd_example"},
				LinkInstall: true,
			},
			{
				Name:     "CAPD example 2",
				URL:      "https://github.com/CAPDGroup/CAPD.example.2",
				Dir:      "CAPD.example.2",
				BuildDir: "build",
				Flags:    []string{"-DCAPD_ENABLE_MULTIPRECISION=OFF"},
				Run:      []string{"./capd_example"},
			},
		},
		Starter: StarterConfig{
			InPlace:       true,
			InstallLinked: true,
			Dir:           "capdMake/examples/projectStarter",
		},
		// The history lives outside the workspace root, which fresh runs delete.
		Store: StoreConfig{
			Enabled: true,
			Path:    ".capdverify/history.db",
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads a configuration file. Files ending in .cue are evaluated with
// CUE; anything else is parsed as YAML. Values missing from the file keep
// their defaults. The result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg *Config
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		cfg, err = ParseCUE(data, path)
	} else {
		cfg, err = ParseYAML(data)
	}
	if err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		if ve, ok := AsValidationErrors(err); ok {
			for i := range ve {
				if ve[i].File == "" {
					ve[i].File = path
				}
			}
			return nil, ve
		}
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, or returns Default when path is empty and the
// default file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if _, err := os.Stat(DefaultFile); err == nil {
		return Load(DefaultFile)
	}
	return Default(), nil
}

// ParseYAML decodes YAML onto the defaults. It does not validate.
func ParseYAML(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return cfg, nil
}

// ParseCUE evaluates CUE source and decodes it onto the defaults. It does
// not validate the decoded result.
func ParseCUE(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	val := ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}

	cfg := Default()
	if err := val.Decode(cfg); err != nil {
		return nil, convertCUEErrors(err)
	}
	return cfg, nil
}

var (
	validate = newValidator()
	schemas  = NewSchemaRegistry()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks cfg with struct tags, then the built-in CUE schema, then
// the cross-field rules. All problems are collected into a ValidationErrors.
func Validate(cfg *Config) error {
	var problems ValidationErrors

	if err := validate.Struct(cfg); err != nil {
		problems = append(problems, convertValidatorErrors(err)...)
	} else if err := schemas.ValidateAgainstSchema(ConfigSchema, cfg); err != nil {
		if ve, ok := AsValidationErrors(err); ok {
			problems = append(problems, ve...)
		} else {
			problems = append(problems, ValidationError{Message: err.Error()})
		}
	}

	if err := cfg.Telemetry.Validate(); err != nil {
		problems = append(problems, ValidationError{Path: "telemetry", Message: err.Error()})
	}

	problems = append(problems, checkUnique(cfg)...)

	if len(problems) > 0 {
		return problems
	}
	return nil
}

func checkUnique(cfg *Config) ValidationErrors {
	var problems ValidationErrors

	variants := make(map[string]bool)
	for i, v := range cfg.Variants {
		if variants[v.Name] {
			problems = append(problems, ValidationError{
				Path:    fmt.Sprintf("variants[%d].name", i),
				Message: fmt.Sprintf("duplicate variant %q", v.Name),
			})
		}
		variants[v.Name] = true
	}

	dirs := map[string]bool{cfg.Library.Dir: true}
	names := make(map[string]bool)
	for i, e := range cfg.Examples {
		if names[e.Name] {
			problems = append(problems, ValidationError{
				Path:    fmt.Sprintf("examples[%d].name", i),
				Message: fmt.Sprintf("duplicate example %q", e.Name),
			})
		}
		names[e.Name] = true

		if dirs[e.Dir] {
			problems = append(problems, ValidationError{
				Path:    fmt.Sprintf("examples[%d].dir", i),
				Message: fmt.Sprintf("directory %q is already used", e.Dir),
			})
		}
		dirs[e.Dir] = true
	}

	return problems
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.Bytes(), nil
}
