// Package operation carries deposit and withdraw intents from the API to the
// wallet store through the task queue.
package operation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

// TaskName identifies operation tasks on the broker.
const TaskName = "wallet.operation"

var (
	// ErrInvalidOperationKind is returned for an operation type other than DEPOSIT or WITHDRAW.
	ErrInvalidOperationKind = errors.New("invalid operation kind")

	// ErrMalformedIntent means a task payload could not be decoded into an Intent.
	ErrMalformedIntent = errors.New("malformed operation intent")
)

// Error codes recorded on failed tasks.
const (
	CodeNotFound             = "NotFound"
	CodeInvalidAmount        = "InvalidAmount"
	CodeInsufficientFunds    = "InsufficientFunds"
	CodeInvalidOperationKind = "InvalidOperationKind"
	CodeMalformedIntent      = "MalformedIntent"
	CodeTransient            = "TransientInfrastructureFailure"
)

// Intent is a not yet applied deposit or withdraw. It is the task payload.
type Intent struct {
	WalletID uuid.UUID       `json:"wallet_id"`
	Kind     wallet.Kind     `json:"operation_type"`
	Amount   decimal.Decimal `json:"amount"`
}

// DecodeIntent parses a task payload. The amount is not range checked here; the store
// rejects it with wallet.ErrInvalidAmount.
func DecodeIntent(raw json.RawMessage) (Intent, error) {
	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}
	if in.WalletID == uuid.Nil {
		return Intent{}, fmt.Errorf("%w: missing wallet_id", ErrMalformedIntent)
	}
	if !in.Kind.Valid() {
		return Intent{}, fmt.Errorf("%w: %q", ErrInvalidOperationKind, in.Kind)
	}
	return in, nil
}

// Result mirrors the operation record produced by a committed intent.
type Result struct {
	ID        int64       `json:"id"`
	Kind      wallet.Kind `json:"operation_type"`
	Amount    string      `json:"amount"`
	WalletID  string      `json:"wallet_id"`
	CreatedAt time.Time   `json:"created_at"`
}

func newResult(op wallet.Operation) Result {
	return Result{
		ID:        op.ID,
		Kind:      op.Kind,
		Amount:    wallet.FormatAmount(op.Amount),
		WalletID:  op.WalletID.String(),
		CreatedAt: op.CreatedAt,
	}
}

// classify maps an execution error to its task error code. Permanent errors are
// never retried.
func classify(err error) (code string, permanent bool) {
	switch {
	case errors.Is(err, wallet.ErrNotFound):
		return CodeNotFound, true
	case errors.Is(err, wallet.ErrInvalidAmount):
		return CodeInvalidAmount, true
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return CodeInsufficientFunds, true
	case errors.Is(err, ErrInvalidOperationKind):
		return CodeInvalidOperationKind, true
	case errors.Is(err, ErrMalformedIntent):
		return CodeMalformedIntent, true
	default:
		return CodeTransient, false
	}
}
