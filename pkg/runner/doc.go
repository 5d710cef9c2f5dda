// Package runner executes external programs for the verification stages.
//
// Two layers are provided. A Runner spawns one program and reports its exit
// code; it never treats a non-zero exit as an error. ExecRunner is the local
// implementation, built on github.com/jmgilman/go/exec, with a dry-run mode
// that logs the would-be invocation instead of running it:
//
//	dry run
//	program: git
//	args: git clone https://github.com/CAPDGroup/CAPD
//	cwd: /work
//
// A Tracer wraps a Runner, logs a trace message before each command and turns
// a non-zero exit into a *CommandError whose message reads
// "<failure> (error code: <code>)". Stages call nothing but the Tracer, so the
// first failing command stops whatever sequence it belongs to.
//
// Hooks attached to a Tracer see every command before and after it runs; the
// orchestrator uses them for metrics, spans and the run history.
package runner
