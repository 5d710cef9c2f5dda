// Package telemetry provides logging, tracing and metrics for verification runs.
//
// Logging is zerolog behind a small wrapper that components receive
// explicitly. Tracing is OpenTelemetry with one span per run, stage and
// step, exported over OTLP gRPC or to stdout. Metrics are Prometheus
// counters and histograms in a private registry, optionally written to a
// node_exporter textfile when a run finishes.
//
// Initialize telemetry at startup:
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	logger := tel.Logger.NewComponentLogger("orchestrator")
//	logger.WithRunID(runID).Info("Run started")
package telemetry
