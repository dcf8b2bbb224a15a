package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const saveRetries = 3

// RedisResults keeps task states as JSON strings with a TTL.
type RedisResults struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisResults builds a result backend whose entries expire after ttl.
func NewRedisResults(client *redis.Client, ttl time.Duration) *RedisResults {
	return &RedisResults{client: client, ttl: ttl}
}

func resultKey(taskID string) string {
	return keyPrefix + "task:" + taskID
}

// Save writes the state unless a terminal state is already stored. The check and the
// write run under WATCH so concurrent writers cannot interleave.
func (r *RedisResults) Save(ctx context.Context, state State) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode task state: %w", err)
	}
	key := resultKey(state.TaskID)

	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var prev State
			if json.Unmarshal(cur, &prev) == nil && prev.Status.Terminal() {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < saveRetries; i++ {
		err = r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("save task state %s: %w", state.TaskID, err)
	}
	return nil
}

// Load returns the stored state or ErrStateNotFound.
func (r *RedisResults) Load(ctx context.Context, taskID string) (State, error) {
	raw, err := r.client.Get(ctx, resultKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("load task state %s: %w", taskID, err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode task state %s: %w", taskID, err)
	}
	return st, nil
}
