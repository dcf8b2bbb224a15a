package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle position of a task.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusExecuting Status = "EXECUTING"
	StatusRetrying  Status = "RETRYING"
	StatusCommitted Status = "COMMITTED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusFailed
}

// ErrStateNotFound is returned for unknown or expired task identifiers.
var ErrStateNotFound = errors.New("task state not found")

// State is the observable outcome of a task.
type State struct {
	TaskID    string          `json:"task_id"`
	Status    Status          `json:"status"`
	Attempts  int             `json:"attempts"`
	Result    json.RawMessage `json:"result,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ResultBackend stores task states with an expiry. Save never replaces a terminal
// state, so a redelivered task cannot regress a finished one.
type ResultBackend interface {
	Save(ctx context.Context, state State) error
	Load(ctx context.Context, taskID string) (State, error)
}
