package operation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/wallet_ledger/internal/logging"
	"github.com/congo-pay/wallet_ledger/internal/notification"
	"github.com/congo-pay/wallet_ledger/internal/queue"
	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notification.Message
}

func (r *recordingNotifier) Send(_ context.Context, m notification.Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m.Kind)
	}
	return out
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency: 4,
		MaxAttempts: 3,
		RetryBase:   10 * time.Millisecond,
		RetryMax:    40 * time.Millisecond,
		PollTimeout: 50 * time.Millisecond,
	}
}

func (f fixture) worker(store wallet.Store, n notification.Notifier) *Worker {
	return NewWorker(store, f.broker, f.results, n, logging.Discard(), testWorkerConfig())
}

func (f fixture) reserve(t *testing.T) queue.Delivery {
	t.Helper()
	d, err := f.broker.Reserve(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	return d
}

func (f fixture) state(t *testing.T, taskID string) queue.State {
	t.Helper()
	st, err := f.results.Load(context.Background(), taskID)
	require.NoError(t, err)
	return st
}

func TestProcessDepositCommits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.newWallet(t, "100.00")
	notes := &recordingNotifier{}

	taskID, err := f.dispatcher.Submit(ctx, w.ID, wallet.KindDeposit, dec("50.00"))
	require.NoError(t, err)
	f.worker(f.store, notes).Process(ctx, f.reserve(t))

	st := f.state(t, taskID)
	assert.Equal(t, queue.StatusCommitted, st.Status)
	assert.Equal(t, 1, st.Attempts)

	var res Result
	require.NoError(t, json.Unmarshal(st.Result, &res))
	assert.Equal(t, wallet.KindDeposit, res.Kind)
	assert.Equal(t, "50.00", res.Amount)
	assert.Equal(t, w.ID.String(), res.WalletID)
	assert.NotZero(t, res.ID)

	got, err := f.store.GetWallet(ctx, w.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "150.00", wallet.FormatAmount(got.Balance))
	assert.Len(t, got.Deposits, 1)
	assert.Equal(t, []string{notification.KindOperationCommitted}, notes.kinds())

	n, err := f.broker.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "committed delivery must be acked")
}

func TestProcessWithdrawRecheckedAtCommit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.newWallet(t, "100.00")
	notes := &recordingNotifier{}

	taskID, err := f.dispatcher.Submit(ctx, w.ID, wallet.KindWithdraw, dec("80.00"))
	require.NoError(t, err)

	// Balance drops between submission and execution.
	_, err = f.store.ApplyWithdraw(ctx, w.ID, dec("30.00"), "")
	require.NoError(t, err)

	f.worker(f.store, notes).Process(ctx, f.reserve(t))

	st := f.state(t, taskID)
	assert.Equal(t, queue.StatusFailed, st.Status)
	assert.Equal(t, CodeInsufficientFunds, st.ErrorCode)

	got, err := f.store.GetWallet(ctx, w.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "70.00", wallet.FormatAmount(got.Balance))
	assert.Equal(t, []string{notification.KindOperationFailed}, notes.kinds())
}

func TestProcessPoisonTasksFailWithoutRetry(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	cases := []struct {
		name    string
		task    string
		payload string
		code    string
	}{
		{"unknown kind", TaskName, `{"wallet_id":"` + id.String() + `","operation_type":"REFUND","amount":"1"}`, CodeInvalidOperationKind},
		{"bad payload", TaskName, `{"wallet_id":42}`, CodeMalformedIntent},
		{"unknown task", "other.task", `{}`, CodeMalformedIntent},
		{"missing wallet", TaskName, `{"wallet_id":"` + id.String() + `","operation_type":"DEPOSIT","amount":"1"}`, CodeNotFound},
		{"non-positive amount", TaskName, `{"wallet_id":"` + id.String() + `","operation_type":"DEPOSIT","amount":"0"}`, CodeInvalidAmount},
		{"amount above ceiling", TaskName, `{"wallet_id":"` + id.String() + `","operation_type":"DEPOSIT","amount":"1e30"}`, CodeInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			task := queue.Task{ID: uuid.NewString(), Name: tc.task, Payload: json.RawMessage(tc.payload)}
			require.NoError(t, f.broker.Enqueue(ctx, task))

			f.worker(f.store, nil).Process(ctx, f.reserve(t))

			st := f.state(t, task.ID)
			assert.Equal(t, queue.StatusFailed, st.Status)
			assert.Equal(t, tc.code, st.ErrorCode)
			assert.Equal(t, 1, st.Attempts)

			n, err := f.broker.PromoteDue(ctx, time.Now().Add(time.Hour))
			require.NoError(t, err)
			assert.Zero(t, n, "poison task must not be rescheduled")
		})
	}
}

func TestProcessDepositOverflowFailsWithoutRetry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.newWallet(t, "9999999999999999.00")

	taskID, err := f.dispatcher.Submit(ctx, w.ID, wallet.KindDeposit, dec("0.50"))
	require.NoError(t, err)

	// Another deposit lands first, so the queued one would overflow NUMERIC(18,2).
	_, err = f.store.ApplyDeposit(ctx, w.ID, dec("0.90"), "")
	require.NoError(t, err)

	f.worker(f.store, nil).Process(ctx, f.reserve(t))

	st := f.state(t, taskID)
	assert.Equal(t, queue.StatusFailed, st.Status)
	assert.Equal(t, CodeInvalidAmount, st.ErrorCode)
	assert.Equal(t, 1, st.Attempts)

	n, err := f.broker.PromoteDue(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "overflow must not be retried")

	got, err := f.store.GetWallet(ctx, w.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "9999999999999999.90", wallet.FormatAmount(got.Balance))
}

// flakyStore fails the first failures applies with an infrastructure error.
type flakyStore struct {
	wallet.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) ApplyDeposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal, taskID string) (wallet.Operation, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return wallet.Operation{}, errors.New("connection reset by peer")
	}
	s.mu.Unlock()
	return s.Store.ApplyDeposit(ctx, id, amount, taskID)
}

func TestProcessRetriesTransientFailures(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.newWallet(t, "0")
	store := &flakyStore{Store: f.store, failures: 2}
	worker := f.worker(store, nil)

	taskID, err := f.dispatcher.Submit(ctx, w.ID, wallet.KindDeposit, dec("5.00"))
	require.NoError(t, err)

	worker.Process(ctx, f.reserve(t))
	st := f.state(t, taskID)
	assert.Equal(t, queue.StatusRetrying, st.Status)
	assert.Equal(t, CodeTransient, st.ErrorCode)

	for attempt := 2; attempt <= 3; attempt++ {
		n, err := f.broker.PromoteDue(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		require.Equal(t, 1, n)
		d := f.reserve(t)
		assert.Equal(t, attempt-1, d.Task.Attempts)
		worker.Process(ctx, d)
	}

	st = f.state(t, taskID)
	assert.Equal(t, queue.StatusCommitted, st.Status)
	assert.Equal(t, 3, st.Attempts)

	got, err := f.store.GetWallet(ctx, w.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "5.00", wallet.FormatAmount(got.Balance))
}

func TestProcessGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.newWallet(t, "0")
	worker := f.worker(&flakyStore{Store: f.store, failures: 100}, nil)

	taskID, err := f.dispatcher.Submit(ctx, w.ID, wallet.KindDeposit, dec("5.00"))
	require.NoError(t, err)

	worker.Process(ctx, f.reserve(t))
	for i := 0; i < 2; i++ {
		_, err := f.broker.PromoteDue(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		worker.Process(ctx, f.reserve(t))
	}

	st := f.state(t, taskID)
	assert.Equal(t, queue.StatusFailed, st.Status)
	assert.Equal(t, CodeTransient, st.ErrorCode)
	assert.Equal(t, 3, st.Attempts)
}

func TestProcessRedeliveryAppliesOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.newWallet(t, "10.00")
	worker := f.worker(f.store, nil)

	taskID, err := f.dispatcher.Submit(ctx, w.ID, wallet.KindDeposit, dec("2.50"))
	require.NoError(t, err)
	d := f.reserve(t)
	worker.Process(ctx, d)

	// The broker hands the same task out again, as after a crash before ack.
	require.NoError(t, f.broker.Enqueue(ctx, d.Task))
	worker.Process(ctx, f.reserve(t))

	got, err := f.store.GetWallet(ctx, w.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "12.50", wallet.FormatAmount(got.Balance))
	assert.Len(t, got.Deposits, 1)
	assert.Equal(t, queue.StatusCommitted, f.state(t, taskID).Status)
}

func TestBackoffIsCapped(t *testing.T) {
	w := NewWorker(nil, nil, nil, nil, logging.Discard(), WorkerConfig{RetryBase: time.Second, RetryMax: 5 * time.Second})
	assert.Equal(t, time.Second, w.backoff(1))
	assert.Equal(t, 2*time.Second, w.backoff(2))
	assert.Equal(t, 4*time.Second, w.backoff(3))
	assert.Equal(t, 5*time.Second, w.backoff(4))
	assert.Equal(t, 5*time.Second, w.backoff(30))
}

func waitTerminal(t *testing.T, results queue.ResultBackend, ids []string) map[string]queue.State {
	t.Helper()
	out := make(map[string]queue.State, len(ids))
	require.Eventually(t, func() bool {
		for _, id := range ids {
			st, err := results.Load(context.Background(), id)
			if err != nil || !st.Status.Terminal() {
				return false
			}
			out[id] = st
		}
		return true
	}, 15*time.Second, 20*time.Millisecond)
	return out
}

// N concurrent withdrawals of X against (N-1)*X: exactly one must fail.
func TestWorkerConcurrentWithdrawalsOverRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := wallet.NewMemoryStore()
	broker := queue.NewRedisBroker(client, "ops", "test-worker")
	results := queue.NewRedisResults(client, time.Hour)
	dispatcher := NewDispatcher(wallet.NewService(store), broker, results, logging.Discard())

	ctx := context.Background()
	const n = 12
	w, err := store.CreateWallet(ctx, dec("4.00").Mul(decimal.NewFromInt(n-1)))
	require.NoError(t, err)

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := dispatcher.Submit(ctx, w.ID, wallet.KindWithdraw, dec("4.00"))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	runCtx, cancel := context.WithCancel(ctx)
	worker := NewWorker(store, broker, results, nil, logging.Discard(), WorkerConfig{
		Concurrency: 4,
		MaxAttempts: 3,
		PollTimeout: time.Second,
	})
	done := make(chan error, 1)
	go func() { done <- worker.Run(runCtx) }()

	states := waitTerminal(t, results, ids)
	cancel()
	require.NoError(t, <-done)

	committed, insufficient := 0, 0
	for _, st := range states {
		switch {
		case st.Status == queue.StatusCommitted:
			committed++
		case st.ErrorCode == CodeInsufficientFunds:
			insufficient++
		}
	}
	assert.Equal(t, n-1, committed)
	assert.Equal(t, 1, insufficient)

	got, err := store.GetWallet(ctx, w.ID, true)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
	assert.False(t, got.Balance.IsNegative())
	assert.True(t, got.Balance.Equal(got.LedgerBalance()))
}

func TestWorkerRunRecoversInFlightTasks(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	w := f.newWallet(t, "0")

	taskID, err := f.dispatcher.Submit(ctx, w.ID, wallet.KindDeposit, dec("1.00"))
	require.NoError(t, err)
	// Reserved by a consumer that died before acking.
	f.reserve(t)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- f.worker(f.store, nil).Run(runCtx) }()

	waitTerminal(t, f.results, []string{taskID})
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, queue.StatusCommitted, f.state(t, taskID).Status)
}
