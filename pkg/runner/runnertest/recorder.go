// Package runnertest provides a scripted Runner for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"github.com/capdgroup/capdverify/pkg/runner"
)

// Recorder is a runner.Runner that records every request and answers with
// scripted exit codes. Requests are matched by the space-joined argument
// vector; anything unscripted exits 0.
type Recorder struct {
	mu       sync.Mutex
	requests []runner.Request
	codes    map[string]int
	errs     map[string]error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		codes: make(map[string]int),
		errs:  make(map[string]error),
	}
}

// FailWith makes the command whose joined argv equals command exit with code.
func (r *Recorder) FailWith(command string, code int) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[command] = code
	return r
}

// ErrorWith makes the command fail to start with err.
func (r *Recorder) ErrorWith(command string, err error) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[command] = err
	return r
}

// Run implements runner.Runner.
func (r *Recorder) Run(_ context.Context, req runner.Request) (*runner.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests = append(r.requests, req)
	key := strings.Join(req.Args, " ")
	if err, ok := r.errs[key]; ok {
		return nil, err
	}
	if req.DryRun {
		return &runner.Result{DryRun: true}, nil
	}
	return &runner.Result{ExitCode: r.codes[key]}, nil
}

// Requests returns a copy of the recorded requests.
func (r *Recorder) Requests() []runner.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runner.Request(nil), r.requests...)
}

// Commands returns the recorded argument vectors, space-joined.
func (r *Recorder) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, strings.Join(req.Args, " "))
	}
	return out
}

// Count returns how many requests were recorded.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}
