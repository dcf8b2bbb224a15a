package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	depositsTable  = "deposits"
	withdrawsTable = "withdraws"

	// numeric_value_out_of_range
	sqlStateNumericOverflow = "22003"
)

// PostgresStore persists wallets in PostgreSQL. Balance mutations lock the wallet row
// with SELECT ... FOR UPDATE so concurrent operations on one wallet are serialised
// while different wallets proceed in parallel.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateWallet inserts a wallet with an empty history.
func (s *PostgresStore) CreateWallet(ctx context.Context, initialBalance decimal.Decimal) (Wallet, error) {
	if err := checkInitialBalance(initialBalance); err != nil {
		return Wallet{}, err
	}
	w := Wallet{
		ID:             uuid.New(),
		Balance:        initialBalance,
		InitialBalance: initialBalance,
		Deposits:       []Operation{},
		Withdraws:      []Operation{},
	}
	err := s.db.QueryRow(ctx, `INSERT INTO wallets (id, balance, initial_balance)
        VALUES ($1, $2, $2) RETURNING created_at`, w.ID, initialBalance).Scan(&w.CreatedAt)
	if err != nil {
		if isNumericOverflow(err) {
			return Wallet{}, ErrInvalidAmount
		}
		return Wallet{}, fmt.Errorf("insert wallet: %w", err)
	}
	w.CreatedAt = w.CreatedAt.UTC()
	return w, nil
}

// GetWallet fetches a wallet, optionally with its deposits and withdraws ordered by
// creation time.
func (s *PostgresStore) GetWallet(ctx context.Context, id uuid.UUID, includeHistory bool) (Wallet, error) {
	var w Wallet
	err := s.db.QueryRow(ctx, `SELECT id, balance, initial_balance, created_at
        FROM wallets WHERE id = $1`, id).Scan(&w.ID, &w.Balance, &w.InitialBalance, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, fmt.Errorf("select wallet: %w", err)
	}
	w.CreatedAt = w.CreatedAt.UTC()
	if !includeHistory {
		return w, nil
	}

	if w.Deposits, err = s.history(ctx, depositsTable, KindDeposit, id); err != nil {
		return Wallet{}, err
	}
	if w.Withdraws, err = s.history(ctx, withdrawsTable, KindWithdraw, id); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

// ApplyDeposit records a deposit and credits the wallet in one transaction.
func (s *PostgresStore) ApplyDeposit(ctx context.Context, id uuid.UUID, amount decimal.Decimal, taskID string) (Operation, error) {
	return s.apply(ctx, KindDeposit, id, amount, taskID)
}

// ApplyWithdraw re-checks the balance under the row lock, records a withdraw and debits
// the wallet in one transaction.
func (s *PostgresStore) ApplyWithdraw(ctx context.Context, id uuid.UUID, amount decimal.Decimal, taskID string) (Operation, error) {
	return s.apply(ctx, KindWithdraw, id, amount, taskID)
}

func (s *PostgresStore) apply(ctx context.Context, kind Kind, id uuid.UUID, amount decimal.Decimal, taskID string) (Operation, error) {
	if err := checkOperationAmount(amount); err != nil {
		return Operation{}, err
	}
	table := tableFor(kind)

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Operation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var balance decimal.Decimal
	if err := tx.QueryRow(ctx, `SELECT balance FROM wallets WHERE id = $1 FOR UPDATE`, id).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Operation{}, ErrNotFound
		}
		return Operation{}, fmt.Errorf("lock wallet: %w", err)
	}

	if taskID != "" {
		existing, err := operationForTask(ctx, tx, table, kind, taskID)
		if err == nil {
			return existing, ErrDuplicateOperation
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Operation{}, fmt.Errorf("lookup task %s: %w", taskID, err)
		}
	}

	delta := amount
	if kind == KindWithdraw {
		if balance.LessThan(amount) {
			return Operation{}, ErrInsufficientFunds
		}
		delta = amount.Neg()
	} else if balance.Add(amount).GreaterThan(MaxAmount) {
		return Operation{}, ErrInvalidAmount
	}

	op := Operation{Kind: kind, Amount: amount, WalletID: id, TaskID: taskID}
	insert := `INSERT INTO ` + table + ` (amount, wallet_id, task_id) VALUES ($1, $2, $3) RETURNING id, created_at`
	if err := tx.QueryRow(ctx, insert, amount, id, nullableTask(taskID)).Scan(&op.ID, &op.CreatedAt); err != nil {
		if isNumericOverflow(err) {
			return Operation{}, ErrInvalidAmount
		}
		return Operation{}, fmt.Errorf("insert %s: %w", table, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance + $1 WHERE id = $2`, delta, id); err != nil {
		if isNumericOverflow(err) {
			return Operation{}, ErrInvalidAmount
		}
		return Operation{}, fmt.Errorf("update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Operation{}, fmt.Errorf("commit: %w", err)
	}
	op.CreatedAt = op.CreatedAt.UTC()
	return op, nil
}

func (s *PostgresStore) history(ctx context.Context, table string, kind Kind, id uuid.UUID) ([]Operation, error) {
	rows, err := s.db.Query(ctx, `SELECT id, amount, COALESCE(task_id, ''), created_at FROM `+table+`
        WHERE wallet_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	ops := []Operation{}
	for rows.Next() {
		op := Operation{Kind: kind, WalletID: id}
		if err := rows.Scan(&op.ID, &op.Amount, &op.TaskID, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		op.CreatedAt = op.CreatedAt.UTC()
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return ops, nil
}

func operationForTask(ctx context.Context, tx pgx.Tx, table string, kind Kind, taskID string) (Operation, error) {
	op := Operation{Kind: kind, TaskID: taskID}
	err := tx.QueryRow(ctx, `SELECT id, amount, wallet_id, created_at FROM `+table+` WHERE task_id = $1`, taskID).
		Scan(&op.ID, &op.Amount, &op.WalletID, &op.CreatedAt)
	if err != nil {
		return Operation{}, err
	}
	op.CreatedAt = op.CreatedAt.UTC()
	return op, nil
}

func isNumericOverflow(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateNumericOverflow
}

func tableFor(kind Kind) string {
	if kind == KindWithdraw {
		return withdrawsTable
	}
	return depositsTable
}

func nullableTask(taskID string) any {
	if taskID == "" {
		return nil
	}
	return taskID
}
