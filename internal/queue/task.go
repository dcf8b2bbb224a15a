// Package queue implements an at-least-once task broker and a task result backend.
//
// A task is reserved by moving it into an in-flight set owned by the consumer; it
// leaves that set only through Ack or Retry. Tasks left in flight by a crashed
// consumer are handed back to the pending queue by Recover.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoTask is returned by Reserve when nothing became available before the timeout.
	ErrNoTask = errors.New("no task available")

	// ErrMalformedTask means a reserved message could not be decoded into a Task.
	// The Delivery is still valid for Ack.
	ErrMalformedTask = errors.New("malformed task envelope")
)

// Task is the envelope carried through the broker.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewTask builds a task with a fresh identifier and a JSON encoded payload.
func NewTask(name string, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Task{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Delivery is a reserved task awaiting Ack or Retry.
type Delivery struct {
	Task Task
	// receipt identifies the in-flight copy inside the broker.
	receipt string
}
