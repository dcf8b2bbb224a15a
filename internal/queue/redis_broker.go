package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "walletq:"
	promoteBatch = 100

	// DefaultLeaseTTL is how long a consumer may go without a heartbeat before its
	// processing list is handed back to pending by another consumer.
	DefaultLeaseTTL = 30 * time.Second
)

// promoteScript atomically moves due members of the retry set onto the pending list.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
    redis.call('ZREM', KEYS[1], member)
    redis.call('LPUSH', KEYS[2], member)
end
return #due
`)

// reclaimScript drains a consumer's processing list onto pending once its lease key
// is gone, then forgets the consumer. Returns -1 while the lease is alive.
var reclaimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return -1
end
local n = 0
while redis.call('RPOPLPUSH', KEYS[2], KEYS[3]) do
    n = n + 1
end
redis.call('SREM', KEYS[4], ARGV[1])
return n
`)

// RedisBroker keeps pending tasks in a Redis list. Reserve uses BRPOPLPUSH into a
// per-consumer processing list so a task is never held only in process memory.
//
// Every consumer registers in a shared set and keeps a lease key alive while it
// reserves or promotes. Lists left behind by consumers whose lease expired are
// moved back to pending by whichever consumer notices first.
type RedisBroker struct {
	client     *redis.Client
	base       string
	consumer   string
	pending    string
	processing string
	retry      string
	consumers  string
	lease      string
	leaseTTL   time.Duration
}

// RedisBrokerOption customises a RedisBroker.
type RedisBrokerOption func(*RedisBroker)

// WithLeaseTTL sets the consumer lease duration. Non-positive values are ignored.
func WithLeaseTTL(ttl time.Duration) RedisBrokerOption {
	return func(b *RedisBroker) {
		if ttl > 0 {
			b.leaseTTL = ttl
		}
	}
}

// NewRedisBroker builds a broker for the named queue. consumer must be unique per
// running process; it names the processing list that Recover drains.
func NewRedisBroker(client *redis.Client, queue, consumer string, opts ...RedisBrokerOption) *RedisBroker {
	base := keyPrefix + queue
	b := &RedisBroker{
		client:    client,
		base:      base,
		consumer:  consumer,
		pending:   base + ":pending",
		retry:     base + ":retry",
		consumers: base + ":consumers",
		leaseTTL:  DefaultLeaseTTL,
	}
	b.processing = b.processingKey(consumer)
	b.lease = b.leaseKey(consumer)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBroker) processingKey(consumer string) string {
	return b.base + ":processing:" + consumer
}

func (b *RedisBroker) leaseKey(consumer string) string {
	return b.base + ":lease:" + consumer
}

// Enqueue pushes the task onto the pending list.
func (b *RedisBroker) Enqueue(ctx context.Context, task Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := b.client.LPush(ctx, b.pending, raw).Err(); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// Reserve pops the oldest pending task into the processing list.
func (b *RedisBroker) Reserve(ctx context.Context, timeout time.Duration) (Delivery, error) {
	if err := b.heartbeat(ctx); err != nil {
		return Delivery{}, fmt.Errorf("reserve task: %w", err)
	}
	raw, err := b.client.BRPopLPush(ctx, b.pending, b.processing, timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Delivery{}, ErrNoTask
		}
		return Delivery{}, fmt.Errorf("reserve task: %w", err)
	}

	d := Delivery{receipt: raw}
	if err := json.Unmarshal([]byte(raw), &d.Task); err != nil {
		return d, fmt.Errorf("%w: %v", ErrMalformedTask, err)
	}
	return d, nil
}

// Ack drops the delivery from the processing list.
func (b *RedisBroker) Ack(ctx context.Context, d Delivery) error {
	if err := b.client.LRem(ctx, b.processing, 1, d.receipt).Err(); err != nil {
		return fmt.Errorf("ack task %s: %w", d.Task.ID, err)
	}
	return nil
}

// Retry moves the delivery from processing into the retry set, scored by ready time.
func (b *RedisBroker) Retry(ctx context.Context, d Delivery, attempts int, delay time.Duration) error {
	task := d.Task
	task.Attempts = attempts
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	readyAt := time.Now().Add(delay).UnixMilli()

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, b.processing, 1, d.receipt)
		pipe.ZAdd(ctx, b.retry, redis.Z{Score: float64(readyAt), Member: raw})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule retry for task %s: %w", task.ID, err)
	}
	return nil
}

// PromoteDue renews this consumer's lease, moves retries that are ready at now onto
// the pending list and reclaims the processing lists of expired consumers. The
// count covers both.
func (b *RedisBroker) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	if err := b.heartbeat(ctx); err != nil {
		return 0, fmt.Errorf("promote retries: %w", err)
	}
	n, err := promoteScript.Run(ctx, b.client, []string{b.retry, b.pending},
		strconv.FormatInt(now.UnixMilli(), 10), promoteBatch).Int()
	if err != nil {
		return 0, fmt.Errorf("promote retries: %w", err)
	}
	reclaimed, err := b.reclaimExpired(ctx)
	return n + reclaimed, err
}

// Recover pushes everything left in this consumer's processing list back to pending,
// along with the lists of consumers whose lease has expired.
func (b *RedisBroker) Recover(ctx context.Context) (int, error) {
	if err := b.heartbeat(ctx); err != nil {
		return 0, fmt.Errorf("recover in-flight tasks: %w", err)
	}
	moved := 0
	for {
		err := b.client.RPopLPush(ctx, b.processing, b.pending).Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("recover in-flight tasks: %w", err)
		}
		moved++
	}
	reclaimed, err := b.reclaimExpired(ctx)
	return moved + reclaimed, err
}

func (b *RedisBroker) heartbeat(ctx context.Context) error {
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.lease, b.consumer, b.leaseTTL)
		pipe.SAdd(ctx, b.consumers, b.consumer)
		return nil
	})
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	return nil
}

func (b *RedisBroker) reclaimExpired(ctx context.Context) (int, error) {
	members, err := b.client.SMembers(ctx, b.consumers).Result()
	if err != nil {
		return 0, fmt.Errorf("list consumers: %w", err)
	}
	moved := 0
	for _, consumer := range members {
		if consumer == b.consumer {
			continue
		}
		keys := []string{b.leaseKey(consumer), b.processingKey(consumer), b.pending, b.consumers}
		n, err := reclaimScript.Run(ctx, b.client, keys, consumer).Int()
		if err != nil {
			return moved, fmt.Errorf("reclaim consumer %s: %w", consumer, err)
		}
		if n > 0 {
			moved += n
		}
	}
	return moved, nil
}
