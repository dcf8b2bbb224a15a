package queue

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many saves pass between scans that drop expired states.
const sweepEvery = 128

type storedState struct {
	state     State
	expiresAt time.Time
}

// MemoryResults is an in-process ResultBackend.
type MemoryResults struct {
	mu     sync.Mutex
	ttl    time.Duration
	states map[string]storedState
	saves  int
	now    func() time.Time
}

// NewMemoryResults builds a result backend whose entries expire after ttl.
func NewMemoryResults(ttl time.Duration) *MemoryResults {
	return &MemoryResults{ttl: ttl, states: make(map[string]storedState), now: time.Now}
}

// Save records state unless the task already holds an unexpired terminal state.
func (r *MemoryResults) Save(_ context.Context, state State) error {
	now := r.now()
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = now.UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saves%sweepEvery == 0 {
		r.sweep(now)
	}
	if prev, ok := r.states[state.TaskID]; ok && now.Before(prev.expiresAt) && prev.state.Status.Terminal() {
		return nil
	}
	r.states[state.TaskID] = storedState{state: state, expiresAt: now.Add(r.ttl)}
	return nil
}

// Load returns the latest unexpired state for taskID.
func (r *MemoryResults) Load(_ context.Context, taskID string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[taskID]
	if !ok {
		return State{}, ErrStateNotFound
	}
	if !r.now().Before(s.expiresAt) {
		delete(r.states, taskID)
		return State{}, ErrStateNotFound
	}
	return s.state, nil
}

func (r *MemoryResults) sweep(now time.Time) {
	for id, s := range r.states {
		if !now.Before(s.expiresAt) {
			delete(r.states, id)
		}
	}
}
