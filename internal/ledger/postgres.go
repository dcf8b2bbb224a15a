package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

const reconcileQuery = `
SELECT w.id, w.balance,
       w.initial_balance + COALESCE(d.total, 0) - COALESCE(x.total, 0),
       COALESCE(d.n, 0), COALESCE(x.n, 0)
FROM wallets w
LEFT JOIN (SELECT wallet_id, SUM(amount) AS total, COUNT(*) AS n FROM deposits GROUP BY wallet_id) d
       ON d.wallet_id = w.id
LEFT JOIN (SELECT wallet_id, SUM(amount) AS total, COUNT(*) AS n FROM withdraws GROUP BY wallet_id) x
       ON x.wallet_id = w.id`

// PostgresAuditor computes the ledger sums inside PostgreSQL.
type PostgresAuditor struct {
	db *pgxpool.Pool
}

// NewPostgresAuditor builds an auditor backed by PostgreSQL.
func NewPostgresAuditor(db *pgxpool.Pool) *PostgresAuditor {
	return &PostgresAuditor{db: db}
}

func (a *PostgresAuditor) Reconcile(ctx context.Context, id uuid.UUID) (Report, error) {
	row := a.db.QueryRow(ctx, reconcileQuery+` WHERE w.id = $1`, id)
	r, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, wallet.ErrNotFound
		}
		return Report{}, fmt.Errorf("reconcile wallet %s: %w", id, err)
	}
	return r, nil
}

// Drifted returns every wallet whose stored balance disagrees with its records.
func (a *PostgresAuditor) Drifted(ctx context.Context) ([]Report, error) {
	rows, err := a.db.Query(ctx, `SELECT * FROM (`+reconcileQuery+`) r(id, balance, expected, deposits, withdraws)
        WHERE balance <> expected ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("reconcile wallets: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reconcile row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reconcile rows: %w", err)
	}
	return out, nil
}

func scanReport(row pgx.Row) (Report, error) {
	var (
		r                   Report
		deposits, withdraws int64
	)
	if err := row.Scan(&r.WalletID, &r.Balance, &r.Expected, &deposits, &withdraws); err != nil {
		return Report{}, err
	}
	r.Deposits, r.Withdraws = int(deposits), int(withdraws)
	return r, nil
}
