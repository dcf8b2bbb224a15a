package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type scheduledTask struct {
	readyAt time.Time
	task    Task
}

// MemoryBroker is an in-process Broker for development and tests. Tasks do not
// survive a restart.
type MemoryBroker struct {
	mu       sync.Mutex
	pending  []Task
	inflight map[string]Task
	retry    []scheduledTask
	wake     chan struct{}
}

// NewMemoryBroker constructs an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		inflight: make(map[string]Task),
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue appends the task and wakes one waiting Reserve.
func (b *MemoryBroker) Enqueue(_ context.Context, task Task) error {
	b.mu.Lock()
	b.pending = append(b.pending, task)
	b.mu.Unlock()
	b.signal()
	return nil
}

// Reserve waits up to timeout for the next pending task.
func (b *MemoryBroker) Reserve(ctx context.Context, timeout time.Duration) (Delivery, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if d, ok := b.pop(); ok {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-timer.C:
			return Delivery{}, ErrNoTask
		case <-b.wake:
		}
	}
}

// Ack forgets the in-flight delivery.
func (b *MemoryBroker) Ack(_ context.Context, d Delivery) error {
	b.mu.Lock()
	delete(b.inflight, d.receipt)
	b.mu.Unlock()
	return nil
}

// Retry parks the task until delay has passed.
func (b *MemoryBroker) Retry(_ context.Context, d Delivery, attempts int, delay time.Duration) error {
	task := d.Task
	task.Attempts = attempts

	b.mu.Lock()
	delete(b.inflight, d.receipt)
	b.retry = append(b.retry, scheduledTask{readyAt: time.Now().Add(delay), task: task})
	b.mu.Unlock()
	return nil
}

// PromoteDue moves retries ready at now onto the pending queue in ready order.
func (b *MemoryBroker) PromoteDue(_ context.Context, now time.Time) (int, error) {
	b.mu.Lock()
	sort.SliceStable(b.retry, func(i, j int) bool { return b.retry[i].readyAt.Before(b.retry[j].readyAt) })
	n := 0
	for n < len(b.retry) && !b.retry[n].readyAt.After(now) {
		b.pending = append(b.pending, b.retry[n].task)
		n++
	}
	b.retry = b.retry[n:]
	b.mu.Unlock()

	if n > 0 {
		b.signal()
	}
	return n, nil
}

// Recover returns every in-flight task to pending.
func (b *MemoryBroker) Recover(_ context.Context) (int, error) {
	b.mu.Lock()
	n := len(b.inflight)
	for receipt, task := range b.inflight {
		b.pending = append(b.pending, task)
		delete(b.inflight, receipt)
	}
	b.mu.Unlock()

	if n > 0 {
		b.signal()
	}
	return n, nil
}

func (b *MemoryBroker) pop() (Delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return Delivery{}, false
	}
	task := b.pending[0]
	b.pending = b.pending[1:]
	receipt := uuid.NewString()
	b.inflight[receipt] = task
	if len(b.pending) > 0 {
		b.signal()
	}
	return Delivery{Task: task, receipt: receipt}, true
}

func (b *MemoryBroker) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}
