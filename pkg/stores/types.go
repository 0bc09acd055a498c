package stores

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one recorded execution of a plan.
type Run struct {
	ID           string     `json:"id"`
	PlanID       string     `json:"plan_id"`
	Recipes      []string   `json:"recipes"`
	Packages     []string   `json:"packages,omitempty"`
	SystemdUnits []string   `json:"systemd_units,omitempty"`
	State        string     `json:"state"`
	ActionCount  int        `json:"action_count"`
	FailedAction *int       `json:"failed_action,omitempty"`
	Error        *string    `json:"error,omitempty"`
	ErrorKind    *string    `json:"error_kind,omitempty"`
	HooksError   *string    `json:"hooks_error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// ActionRecord is the recorded state of one plan action within a run.
type ActionRecord struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Position   int        `json:"position"`
	Kind       string     `json:"kind"`
	Recipe     string     `json:"recipe"`
	StepIndex  int        `json:"step_index"`
	Target     string     `json:"target"`
	Status     string     `json:"status"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Stdout     string     `json:"stdout,omitempty"`
	Stderr     string     `json:"stderr,omitempty"`
	Error      *string    `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	DurationMS int64      `json:"duration_ms"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	EventID   string     `json:"event_id"`
	RunID     *string    `json:"run_id,omitempty"`
	ActionID  *string    `json:"action_id,omitempty"`
	Type      string     `json:"type"`
	Source    string     `json:"source"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// RunSummary is the outcome of a finished run.
type RunSummary struct {
	State        string
	FailedAction *int
	Error        *string
	ErrorKind    *string
	HooksError   *string
	CompletedAt  time.Time
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run, actions []*ActionRecord) error
	FinishRun(ctx context.Context, id string, summary RunSummary) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Action operations
	UpdateAction(ctx context.Context, action *ActionRecord) error
	ListActionsByRun(ctx context.Context, runID string) ([]*ActionRecord, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
