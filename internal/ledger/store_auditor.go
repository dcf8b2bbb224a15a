package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

// StoreAuditor reconciles through any wallet.Store by loading the full history.
type StoreAuditor struct {
	store wallet.Store
}

// NewStoreAuditor builds an auditor on top of store.
func NewStoreAuditor(store wallet.Store) *StoreAuditor {
	return &StoreAuditor{store: store}
}

func (a *StoreAuditor) Reconcile(ctx context.Context, id uuid.UUID) (Report, error) {
	w, err := a.store.GetWallet(ctx, id, true)
	if err != nil {
		return Report{}, err
	}
	return Report{
		WalletID:  w.ID,
		Balance:   w.Balance,
		Expected:  w.LedgerBalance(),
		Deposits:  len(w.Deposits),
		Withdraws: len(w.Withdraws),
	}, nil
}
