package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	// KindOperationCommitted is emitted after an intent changed a wallet balance.
	KindOperationCommitted = "operation_committed"
	// KindOperationFailed is emitted when an intent reached a terminal failure.
	KindOperationFailed = "operation_failed"
)

// Message describes a notification payload.
type Message struct {
	Kind     string `json:"kind"`
	TaskID   string `json:"task_id"`
	WalletID string `json:"wallet_id"`
	Body     string `json:"body"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"task_id", message.TaskID,
		"wallet_id", message.WalletID,
		"body", message.Body,
	)
	return nil
}

// RedisNotifier publishes notifications as JSON on a Redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier builds a publisher for channel.
func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

// Send publishes the message. Having no subscribers is not an error.
func (n *RedisNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Multi fans a message out to every notifier and returns the first error.
type Multi []Notifier

// Send delivers to all notifiers even when one fails.
func (m Multi) Send(ctx context.Context, message Message) error {
	var first error
	for _, n := range m {
		if err := n.Send(ctx, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
