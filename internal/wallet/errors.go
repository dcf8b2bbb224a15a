package wallet

import "errors"

var (
	// ErrNotFound is returned when no wallet exists for the identifier.
	ErrNotFound = errors.New("wallet not found")

	// ErrInvalidAmount covers non-positive operation amounts, negative initial
	// balances and values with more than two fractional digits.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds occurs when a withdrawal exceeds the balance at commit time.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateOperation indicates the task already produced a record. The
	// returned Operation is the original one and the balance was not touched.
	ErrDuplicateOperation = errors.New("operation already applied")
)
