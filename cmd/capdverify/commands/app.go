package commands

import (
	"context"
	"os"

	"github.com/capdgroup/capdverify/pkg/config"
	"github.com/capdgroup/capdverify/pkg/orchestrator"
	"github.com/capdgroup/capdverify/pkg/stores"
	"github.com/capdgroup/capdverify/pkg/telemetry"
)

// app holds what every command builds from the global flags.
type app struct {
	configPath string
	cfg        *config.Config
	tel        *telemetry.Telemetry
	logger     *telemetry.Logger
	store      stores.Store
}

// resolveConfigPath returns the file a command reads, or "" when it runs on
// the built-in defaults.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if _, err := os.Stat(config.DefaultFile); err == nil {
		return config.DefaultFile
	}
	return ""
}

// newApp loads the configuration, applies the logging flags and starts
// telemetry. With withStore set it also opens the run history; a history
// that cannot be opened is logged and the command continues without it.
func newApp(ctx context.Context, withStore bool) (*app, error) {
	path := resolveConfigPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	return newAppFromConfig(ctx, path, cfg, withStore)
}

func newAppFromConfig(ctx context.Context, path string, cfg *config.Config, withStore bool) (*app, error) {
	applyLogFlags(&cfg.Telemetry)

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, err
	}

	a := &app{
		configPath: path,
		cfg:        cfg,
		tel:        tel,
		logger:     tel.Logger,
	}

	if withStore && cfg.Store.Enabled {
		store, err := stores.Open(ctx, cfg.Store.StoreOptions())
		if err != nil {
			a.logger.WithError(err).WithField("path", cfg.Store.Path).Warn("Run history unavailable")
		} else {
			a.store = store
		}
	}

	return a, nil
}

func applyLogFlags(cfg *telemetry.Config) {
	cfg.ServiceVersion = version
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
}

// orchestrator builds an orchestrator wired to the app's telemetry and store.
func (a *app) orchestrator(extra ...orchestrator.Option) *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithMetrics(a.tel.Metrics),
		orchestrator.WithTracer(a.tel.Tracer),
	}
	if a.store != nil {
		opts = append(opts, orchestrator.WithStore(a.store))
	}
	return orchestrator.New(a.cfg, a.logger, append(opts, extra...)...)
}

// close releases the store and flushes telemetry.
func (a *app) close() {
	ctx := context.Background()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close run history")
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.WithError(err).Warn("Failed to flush traces")
	}
}
