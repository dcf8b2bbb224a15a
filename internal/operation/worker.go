package operation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/congo-pay/wallet_ledger/internal/notification"
	"github.com/congo-pay/wallet_ledger/internal/queue"
	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

// WorkerConfig sizes the pool and its retry policy.
type WorkerConfig struct {
	Concurrency int
	MaxAttempts int
	RetryBase   time.Duration
	RetryMax    time.Duration
	PollTimeout time.Duration
	// PromoteInterval is how often due retries are moved back to pending.
	// Defaults to PollTimeout.
	PromoteInterval time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Second
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = c.RetryBase
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
	if c.PromoteInterval <= 0 {
		c.PromoteInterval = c.PollTimeout
	}
	return c
}

// Worker applies queued intents against the wallet store. Each of its consumers
// handles one task at a time; per-wallet ordering is whatever the store's lock gives.
type Worker struct {
	store    wallet.Store
	broker   queue.Broker
	results  queue.ResultBackend
	notifier notification.Notifier
	logger   *slog.Logger
	cfg      WorkerConfig
	now      func() time.Time
}

// NewWorker wires a worker pool. notifier may be nil.
func NewWorker(store wallet.Store, broker queue.Broker, results queue.ResultBackend, notifier notification.Notifier, logger *slog.Logger, cfg WorkerConfig) *Worker {
	return &Worker{
		store:    store,
		broker:   broker,
		results:  results,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// Run recovers tasks this consumer left in flight, then consumes until ctx is
// cancelled. A task being processed when ctx ends is finished first.
func (w *Worker) Run(ctx context.Context) error {
	recovered, err := w.broker.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		w.logger.Warn("requeued in-flight tasks", slog.Int("count", recovered))
	}
	w.logger.Info("worker started", slog.Int("concurrency", w.cfg.Concurrency))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		slot := i
		g.Go(func() error { return w.consume(ctx, slot) })
	}
	g.Go(func() error { return w.promote(ctx) })

	err = g.Wait()
	w.logger.Info("worker stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) consume(ctx context.Context, slot int) error {
	logger := w.logger.With(slog.Int("slot", slot))
	for ctx.Err() == nil {
		d, err := w.broker.Reserve(ctx, w.cfg.PollTimeout)
		switch {
		case err == nil:
			w.Process(context.WithoutCancel(ctx), d)
		case errors.Is(err, queue.ErrNoTask):
		case errors.Is(err, queue.ErrMalformedTask):
			// Without a task id there is no state to fail; drop it.
			logger.Error("dropping undecodable task", slog.Any("error", err))
			if err := w.broker.Ack(context.WithoutCancel(ctx), d); err != nil {
				logger.Error("ack undecodable task", slog.Any("error", err))
			}
		case ctx.Err() != nil:
			return nil
		default:
			logger.Warn("reserve task", slog.Any("error", err))
			if !sleep(ctx, w.cfg.PollTimeout) {
				return nil
			}
		}
	}
	return nil
}

func (w *Worker) promote(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PromoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := w.broker.PromoteDue(ctx, w.now())
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Warn("promote retries", slog.Any("error", err))
				continue
			}
			if n > 0 {
				w.logger.Debug("requeued tasks", slog.Int("count", n))
			}
		}
	}
}

// Process runs one delivery to a terminal state or schedules it for retry. It always
// settles the delivery with the broker unless the broker itself is unavailable, in
// which case the task stays in flight until Recover.
func (w *Worker) Process(ctx context.Context, d queue.Delivery) {
	task := d.Task
	attempt := task.Attempts + 1
	logger := w.logger.With(slog.String("task_id", task.ID), slog.Int("attempt", attempt))

	if task.Name != TaskName {
		w.fail(ctx, d, attempt, Intent{}, fmt.Errorf("%w: unknown task %q", ErrMalformedIntent, task.Name), logger)
		return
	}
	intent, err := DecodeIntent(task.Payload)
	if err != nil {
		w.fail(ctx, d, attempt, Intent{}, err, logger)
		return
	}
	logger = logger.With(slog.String("wallet_id", intent.WalletID.String()), slog.String("kind", string(intent.Kind)))

	w.save(ctx, queue.State{TaskID: task.ID, Status: queue.StatusExecuting, Attempts: attempt}, logger)
	logger.Debug("executing operation")

	op, err := w.apply(ctx, intent, task.ID)
	if errors.Is(err, wallet.ErrDuplicateOperation) {
		logger.Info("operation already applied", slog.Int64("operation_id", op.ID))
		err = nil
	}
	if err == nil {
		w.commit(ctx, d, attempt, op, logger)
		return
	}

	if _, permanent := classify(err); !permanent && attempt < w.cfg.MaxAttempts {
		w.retry(ctx, d, attempt, err, logger)
		return
	}
	w.fail(ctx, d, attempt, intent, err, logger)
}

func (w *Worker) apply(ctx context.Context, in Intent, taskID string) (wallet.Operation, error) {
	if in.Kind == wallet.KindWithdraw {
		return w.store.ApplyWithdraw(ctx, in.WalletID, in.Amount, taskID)
	}
	return w.store.ApplyDeposit(ctx, in.WalletID, in.Amount, taskID)
}

func (w *Worker) commit(ctx context.Context, d queue.Delivery, attempt int, op wallet.Operation, logger *slog.Logger) {
	res := newResult(op)
	raw, err := json.Marshal(res)
	if err != nil {
		logger.Error("encode operation result", slog.Any("error", err))
	}
	state := queue.State{TaskID: d.Task.ID, Status: queue.StatusCommitted, Attempts: attempt, Result: raw}
	if !w.settle(ctx, d, state, logger) {
		return
	}
	logger.Info("operation committed",
		slog.Int64("operation_id", op.ID),
		slog.String("amount", res.Amount),
	)
	w.notify(ctx, notification.Message{
		Kind:     notification.KindOperationCommitted,
		TaskID:   d.Task.ID,
		WalletID: res.WalletID,
		Body:     fmt.Sprintf("%s %s", op.Kind, res.Amount),
	}, logger)
}

func (w *Worker) fail(ctx context.Context, d queue.Delivery, attempt int, in Intent, cause error, logger *slog.Logger) {
	code, _ := classify(cause)
	state := queue.State{
		TaskID:    d.Task.ID,
		Status:    queue.StatusFailed,
		Attempts:  attempt,
		ErrorCode: code,
		Error:     cause.Error(),
	}
	if !w.settle(ctx, d, state, logger) {
		return
	}
	logger.Warn("operation failed", slog.String("error_code", code), slog.Any("error", cause))

	var walletID string
	if in.WalletID != uuid.Nil {
		walletID = in.WalletID.String()
	}
	w.notify(ctx, notification.Message{
		Kind:     notification.KindOperationFailed,
		TaskID:   d.Task.ID,
		WalletID: walletID,
		Body:     code,
	}, logger)
}

func (w *Worker) retry(ctx context.Context, d queue.Delivery, attempt int, cause error, logger *slog.Logger) {
	delay := w.backoff(attempt)
	w.save(ctx, queue.State{
		TaskID:    d.Task.ID,
		Status:    queue.StatusRetrying,
		Attempts:  attempt,
		ErrorCode: CodeTransient,
		Error:     cause.Error(),
	}, logger)
	if err := w.broker.Retry(ctx, d, attempt, delay); err != nil {
		logger.Error("schedule retry", slog.Any("error", err))
		return
	}
	logger.Warn("operation retry scheduled", slog.Duration("delay", delay), slog.Any("error", cause))
}

// settle records a terminal state and acks the delivery. If the state cannot be
// recorded the task is retried instead, which is safe because a repeated apply is
// detected by task id. It reports whether the delivery was acked.
func (w *Worker) settle(ctx context.Context, d queue.Delivery, state queue.State, logger *slog.Logger) bool {
	if err := w.results.Save(ctx, state); err != nil {
		if state.Attempts < w.cfg.MaxAttempts {
			w.retry(ctx, d, state.Attempts, fmt.Errorf("record outcome: %w", err), logger)
			return false
		}
		logger.Error("record task outcome", slog.String("status", string(state.Status)), slog.Any("error", err))
	}
	if err := w.broker.Ack(ctx, d); err != nil {
		logger.Error("ack task", slog.Any("error", err))
	}
	return true
}

func (w *Worker) save(ctx context.Context, state queue.State, logger *slog.Logger) {
	if err := w.results.Save(ctx, state); err != nil {
		logger.Warn("record task state", slog.String("status", string(state.Status)), slog.Any("error", err))
	}
}

func (w *Worker) notify(ctx context.Context, msg notification.Message, logger *slog.Logger) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Send(ctx, msg); err != nil {
		logger.Warn("send notification", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}

// backoff returns RetryBase·2^(attempt-1), capped at RetryMax.
func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.cfg.RetryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.cfg.RetryMax {
			return w.cfg.RetryMax
		}
	}
	return delay
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
