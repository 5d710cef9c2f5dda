package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of a verification run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StageStatus represents the outcome of a stage
type StageStatus string

const (
	StageStatusSucceeded StageStatus = "succeeded"
	StageStatusFailed    StageStatus = "failed"
)

// StepStatus represents the outcome of a single command
type StepStatus string

const (
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Run represents one verification run
type Run struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	DryRun      bool       `json:"dry_run"`
	Mode        string     `json:"mode"`
	ConfigPath  string     `json:"config_path"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Metadata    string     `json:"metadata"` // JSON blob
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Stage records the outcome of one library or executable stage
type Stage struct {
	ID         int64       `json:"id"`
	RunID      string      `json:"run_id"`
	Variant    string      `json:"variant,omitempty"`
	Name       string      `json:"name"`
	Kind       string      `json:"kind"`
	SourceDir  string      `json:"source_dir"`
	Revision   *string     `json:"revision,omitempty"`
	Status     StageStatus `json:"status"`
	Error      *string     `json:"error,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Step records one external command
type Step struct {
	ID         int64      `json:"id"`
	RunID      string     `json:"run_id"`
	Stage      string     `json:"stage"`
	Step       string     `json:"step"`
	Args       string     `json:"args"` // JSON array
	Dir        string     `json:"dir"`
	ExitCode   int        `json:"exit_code"`
	Status     StepStatus `json:"status"`
	DurationMS int64      `json:"duration_ms"`
	Error      *string    `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Store defines the interface for the run history
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Stage operations
	RecordStage(ctx context.Context, stage *Stage) error
	ListStagesByRun(ctx context.Context, runID string) ([]*Stage, error)

	// Step operations
	RecordStep(ctx context.Context, step *Step) error
	ListStepsByRun(ctx context.Context, runID string) ([]*Step, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
