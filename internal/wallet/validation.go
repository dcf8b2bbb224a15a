package wallet

import "github.com/shopspring/decimal"

// ValidateAmountPositive rejects amounts that are not strictly positive, exceed
// MaxAmount, or carry more than two fractional digits.
func ValidateAmountPositive(amount decimal.Decimal) error {
	return checkOperationAmount(amount)
}

// ValidateSufficientFunds is a best-effort pre-check against a snapshot of the wallet.
// It does not guarantee the withdrawal will succeed; the store re-checks at commit.
func ValidateSufficientFunds(w Wallet, amount decimal.Decimal) error {
	if w.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	return nil
}
