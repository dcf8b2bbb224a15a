package queue

import (
	"context"
	"time"
)

// Broker is an at-least-once task queue.
type Broker interface {
	// Enqueue appends the task to the pending queue.
	Enqueue(ctx context.Context, task Task) error
	// Reserve blocks up to timeout for the next pending task and marks it in flight.
	Reserve(ctx context.Context, timeout time.Duration) (Delivery, error)
	// Ack removes a finished delivery.
	Ack(ctx context.Context, d Delivery) error
	// Retry removes the delivery and schedules the task again after delay with the
	// given attempt count recorded.
	Retry(ctx context.Context, d Delivery, attempts int, delay time.Duration) error
	// PromoteDue moves scheduled retries whose time has come back to pending.
	// Brokers shared between processes also reclaim work abandoned by dead consumers.
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	// Recover hands this consumer's in-flight tasks, and any abandoned by dead
	// consumers, back to pending.
	Recover(ctx context.Context) (int, error)
}
