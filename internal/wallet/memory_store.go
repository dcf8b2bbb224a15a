package wallet

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type memoryWallet struct {
	mu     sync.Mutex
	wallet Wallet
	tasks  map[string]Operation
}

// MemoryStore is a concurrency-safe in-memory Store for development and tests. The map
// lock only guards lookup; balance mutations take the wallet's own mutex.
type MemoryStore struct {
	mu          sync.RWMutex
	wallets     map[uuid.UUID]*memoryWallet
	depositSeq  atomic.Int64
	withdrawSeq atomic.Int64
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{wallets: make(map[uuid.UUID]*memoryWallet)}
}

// CreateWallet stores a new wallet whose balance starts at initialBalance.
func (s *MemoryStore) CreateWallet(_ context.Context, initialBalance decimal.Decimal) (Wallet, error) {
	if err := checkInitialBalance(initialBalance); err != nil {
		return Wallet{}, err
	}
	w := Wallet{
		ID:             uuid.New(),
		Balance:        initialBalance,
		InitialBalance: initialBalance,
		CreatedAt:      time.Now().UTC(),
	}

	s.mu.Lock()
	s.wallets[w.ID] = &memoryWallet{wallet: w, tasks: make(map[string]Operation)}
	s.mu.Unlock()

	w.Deposits = []Operation{}
	w.Withdraws = []Operation{}
	return w, nil
}

// GetWallet returns a snapshot of the wallet, copying its history when requested.
func (s *MemoryStore) GetWallet(_ context.Context, id uuid.UUID, includeHistory bool) (Wallet, error) {
	mw, ok := s.lookup(id)
	if !ok {
		return Wallet{}, ErrNotFound
	}
	mw.mu.Lock()
	defer mw.mu.Unlock()

	w := mw.wallet
	w.Deposits, w.Withdraws = nil, nil
	if includeHistory {
		w.Deposits = append([]Operation{}, mw.wallet.Deposits...)
		w.Withdraws = append([]Operation{}, mw.wallet.Withdraws...)
	}
	return w, nil
}

// ApplyDeposit credits amount to the wallet under its lock.
func (s *MemoryStore) ApplyDeposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal, taskID string) (Operation, error) {
	return s.apply(ctx, KindDeposit, id, amount, taskID)
}

// ApplyWithdraw debits amount when the balance covers it.
func (s *MemoryStore) ApplyWithdraw(ctx context.Context, id uuid.UUID, amount decimal.Decimal, taskID string) (Operation, error) {
	return s.apply(ctx, KindWithdraw, id, amount, taskID)
}

func (s *MemoryStore) apply(_ context.Context, kind Kind, id uuid.UUID, amount decimal.Decimal, taskID string) (Operation, error) {
	if err := checkOperationAmount(amount); err != nil {
		return Operation{}, err
	}
	mw, ok := s.lookup(id)
	if !ok {
		return Operation{}, ErrNotFound
	}

	mw.mu.Lock()
	defer mw.mu.Unlock()

	if taskID != "" {
		if existing, ok := mw.tasks[taskID]; ok {
			return existing, ErrDuplicateOperation
		}
	}

	op := Operation{Kind: kind, Amount: amount, WalletID: id, TaskID: taskID, CreatedAt: time.Now().UTC()}
	switch kind {
	case KindDeposit:
		balance := mw.wallet.Balance.Add(amount)
		if balance.GreaterThan(MaxAmount) {
			return Operation{}, ErrInvalidAmount
		}
		op.ID = s.depositSeq.Add(1)
		mw.wallet.Balance = balance
		mw.wallet.Deposits = append(mw.wallet.Deposits, op)
	case KindWithdraw:
		if mw.wallet.Balance.LessThan(amount) {
			return Operation{}, ErrInsufficientFunds
		}
		op.ID = s.withdrawSeq.Add(1)
		mw.wallet.Balance = mw.wallet.Balance.Sub(amount)
		mw.wallet.Withdraws = append(mw.wallet.Withdraws, op)
	}

	if taskID != "" {
		mw.tasks[taskID] = op
	}
	return op, nil
}

func (s *MemoryStore) lookup(id uuid.UUID) (*memoryWallet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mw, ok := s.wallets[id]
	return mw, ok
}
