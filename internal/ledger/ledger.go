// Package ledger reconciles each wallet's cached balance against its append-only
// operation records.
package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Report compares a wallet's stored balance with the balance implied by its records.
type Report struct {
	WalletID  uuid.UUID
	Balance   decimal.Decimal
	Expected  decimal.Decimal
	Deposits  int
	Withdraws int
}

// Drift is Balance minus Expected.
func (r Report) Drift() decimal.Decimal {
	return r.Balance.Sub(r.Expected)
}

// Consistent reports whether the stored balance matches the ledger.
func (r Report) Consistent() bool {
	return r.Balance.Equal(r.Expected)
}

// Auditor recomputes wallet balances from the ledger.
type Auditor interface {
	// Reconcile checks one wallet; it returns wallet.ErrNotFound for unknown ids.
	Reconcile(ctx context.Context, id uuid.UUID) (Report, error)
}
