// Package orchestrator drives a complete verification run.
//
// A run prepares the workspace once, then for every selected variant builds,
// tests and installs the library and builds and runs each example project
// against it. The project-starter flows run last. The first failure stops
// the run.
//
// Every external command goes through one runner.Tracer whose hooks emit an
// OpenTelemetry span and Prometheus samples per step and, when a run store
// is configured, append the step to the run history.
package orchestrator
