package model

import "time"

// RunStatus is the terminal or active state of a bot run.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunKilled    RunStatus = "KILLED"
	RunCrashed   RunStatus = "CRASHED"
)

// Run is one process lifetime. At most one run is RUNNING at a time.
type Run struct {
	RunID        string
	StartedAt    time.Time
	EndedAt      *time.Time
	Status       RunStatus
	ErrorMessage string
}

// ErrorRecord is a persisted operational error, attached to the run during
// which it occurred.
type ErrorRecord struct {
	ID         int64
	RunID      string
	ErrorType  string
	Message    string
	Context    map[string]any
	OccurredAt time.Time
}
