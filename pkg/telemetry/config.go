package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for a verification run.
type Config struct {
	// ServiceName is the name reported on spans and used as the metrics namespace fallback.
	ServiceName string `yaml:"service_name" json:"service_name"`

	// ServiceVersion is the version of the harness.
	ServiceVersion string `yaml:"service_version" json:"service_version"`

	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Tracing contains tracing configuration.
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `yaml:"level" json:"level"`

	// Format is either "console" or "json".
	Format string `yaml:"format" json:"format"`

	// Output is stdout, stderr or a file path.
	Output string `yaml:"output" json:"output"`

	// EnableCaller adds file:line to every record.
	EnableCaller bool `yaml:"enable_caller" json:"enable_caller"`

	// TimeFormat is rfc3339, unix or unixms. It applies to both formats; in
	// json unix and unixms produce a numeric time field.
	TimeFormat string `yaml:"time_format" json:"time_format"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Exporter is one of otlp, stdout, none.
	Exporter string `yaml:"exporter" json:"exporter"`

	// Endpoint is the OTLP gRPC endpoint.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Output is the file the stdout exporter writes to. Empty means stderr.
	Output string `yaml:"output" json:"output"`

	// Insecure disables TLS for the OTLP connection.
	Insecure bool `yaml:"insecure" json:"insecure"`

	// ExportTimeout bounds a single export.
	ExportTimeout time.Duration `yaml:"export_timeout" json:"export_timeout"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Namespace is the metrics namespace prefix.
	Namespace string `yaml:"namespace" json:"namespace"`

	// TextfilePath is where the registry is written when a run finishes,
	// in the node_exporter textfile format. Empty disables the export.
	TextfilePath string `yaml:"textfile_path" json:"textfile_path"`

	// Buckets are the step duration histogram buckets in seconds.
	Buckets []float64 `yaml:"buckets" json:"buckets"`
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "capdverify",
		ServiceVersion: "dev",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:       false,
			Exporter:      "none",
			Insecure:      true,
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "capdverify",
			// Builds and test suites take minutes, not milliseconds.
			Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{
		"otlp": true, "stdout": true, "none": true,
	}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}

	return nil
}
