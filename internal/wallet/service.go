package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Service exposes wallet creation and lookup on top of a Store.
type Service struct {
	store Store
}

// NewService builds a wallet service instance.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	Balance decimal.Decimal
}

// Create provisions a wallet with the requested initial balance.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	return s.store.CreateWallet(ctx, input.Balance)
}

// Get retrieves a wallet together with its deposits and withdraws.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Wallet, error) {
	return s.store.GetWallet(ctx, id, true)
}

// ValidateWalletExists returns the current wallet snapshot or ErrNotFound.
func (s *Service) ValidateWalletExists(ctx context.Context, id uuid.UUID) (Wallet, error) {
	return s.store.GetWallet(ctx, id, false)
}
