package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store owns wallets and their operation records. It is the only component that
// mutates balances; each apply call is one atomic read-check-write, linearised per
// wallet. taskID may be empty; when set, a second apply with the same taskID returns
// the first record together with ErrDuplicateOperation.
type Store interface {
	CreateWallet(ctx context.Context, initialBalance decimal.Decimal) (Wallet, error)
	GetWallet(ctx context.Context, id uuid.UUID, includeHistory bool) (Wallet, error)
	ApplyDeposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal, taskID string) (Operation, error)
	ApplyWithdraw(ctx context.Context, id uuid.UUID, amount decimal.Decimal, taskID string) (Operation, error)
}

// MaxAmount is the largest value a NUMERIC(18,2) column holds; balances and
// amounts above it are rejected rather than overflowing the ledger.
var MaxAmount = decimal.RequireFromString("9999999999999999.99")

func checkInitialBalance(balance decimal.Decimal) error {
	if balance.IsNegative() || balance.GreaterThan(MaxAmount) || !hasCents(balance) {
		return ErrInvalidAmount
	}
	return nil
}

func checkOperationAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || amount.GreaterThan(MaxAmount) || !hasCents(amount) {
		return ErrInvalidAmount
	}
	return nil
}

func hasCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}
