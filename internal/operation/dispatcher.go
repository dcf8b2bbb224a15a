package operation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/queue"
	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

// Dispatcher validates operation requests and enqueues them for the worker pool.
type Dispatcher struct {
	wallets *wallet.Service
	broker  queue.Broker
	results queue.ResultBackend
	logger  *slog.Logger
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(wallets *wallet.Service, broker queue.Broker, results queue.ResultBackend, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{wallets: wallets, broker: broker, results: results, logger: logger}
}

// Submit checks that the wallet exists, that the amount is valid and, for withdrawals,
// that the current balance covers it. It then enqueues the intent and returns the task
// id without waiting for execution. The funds check is advisory; the store re-checks
// under its lock.
func (d *Dispatcher) Submit(ctx context.Context, walletID uuid.UUID, kind wallet.Kind, amount decimal.Decimal) (string, error) {
	if !kind.Valid() {
		return "", ErrInvalidOperationKind
	}
	w, err := d.wallets.ValidateWalletExists(ctx, walletID)
	if err != nil {
		return "", err
	}
	if err := wallet.ValidateAmountPositive(amount); err != nil {
		return "", err
	}
	if kind == wallet.KindWithdraw {
		if err := wallet.ValidateSufficientFunds(w, amount); err != nil {
			return "", err
		}
	}

	task, err := queue.NewTask(TaskName, Intent{WalletID: walletID, Kind: kind, Amount: amount})
	if err != nil {
		return "", err
	}
	// PENDING is recorded first so a fast worker can never be overwritten by it.
	if err := d.results.Save(ctx, queue.State{TaskID: task.ID, Status: queue.StatusPending}); err != nil {
		return "", fmt.Errorf("record pending task: %w", err)
	}
	if err := d.broker.Enqueue(ctx, task); err != nil {
		failed := queue.State{TaskID: task.ID, Status: queue.StatusFailed, ErrorCode: CodeTransient, Error: err.Error()}
		if saveErr := d.results.Save(ctx, failed); saveErr != nil {
			d.logger.Warn("record failed enqueue", slog.String("task_id", task.ID), slog.Any("error", saveErr))
		}
		return "", err
	}

	d.logger.Info("operation submitted",
		slog.String("task_id", task.ID),
		slog.String("wallet_id", walletID.String()),
		slog.String("kind", string(kind)),
		slog.String("amount", wallet.FormatAmount(amount)),
	)
	return task.ID, nil
}
