package wallet

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies the direction of a balance mutation.
type Kind string

const (
	KindDeposit  Kind = "DEPOSIT"
	KindWithdraw Kind = "WITHDRAW"
)

// Valid reports whether k is a known operation kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdraw:
		return true
	}
	return false
}

// Wallet is an account holding a non-negative balance plus its operation history.
// Deposits and Withdraws are only populated when history is requested.
type Wallet struct {
	ID             uuid.UUID
	Balance        decimal.Decimal
	InitialBalance decimal.Decimal
	CreatedAt      time.Time
	Deposits       []Operation
	Withdraws      []Operation
}

// LedgerBalance recomputes the balance from the initial balance and the loaded history.
// It equals Balance for any wallet loaded with history.
func (w Wallet) LedgerBalance() decimal.Decimal {
	total := w.InitialBalance
	for _, d := range w.Deposits {
		total = total.Add(d.Amount)
	}
	for _, wd := range w.Withdraws {
		total = total.Sub(wd.Amount)
	}
	return total
}

// Operation is an immutable deposit or withdraw record.
type Operation struct {
	ID        int64
	Kind      Kind
	Amount    decimal.Decimal
	WalletID  uuid.UUID
	TaskID    string
	CreatedAt time.Time
}

// FormatAmount renders a monetary value with two fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// ParseID parses a wallet identifier.
func ParseID(raw string) (uuid.UUID, error) {
	return uuid.Parse(raw)
}
