package ledger

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

// Handler exposes wallet reconciliation.
type Handler struct {
	auditor Auditor
}

// NewHandler builds a ledger HTTP handler.
func NewHandler(auditor Auditor) *Handler {
	return &Handler{auditor: auditor}
}

type reportResponse struct {
	WalletID   string `json:"wallet_id"`
	Balance    string `json:"balance"`
	Expected   string `json:"expected"`
	Drift      string `json:"drift"`
	Deposits   int    `json:"deposits"`
	Withdraws  int    `json:"withdraws"`
	Consistent bool   `json:"consistent"`
}

// Reconcile reports whether the wallet balance matches its deposit and withdraw records.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	id, err := wallet.ParseID(c.Params("walletId"))
	if err != nil {
		return fiber.NewError(http.StatusUnprocessableEntity, "invalid wallet id")
	}
	r, err := h.auditor.Reconcile(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, wallet.ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "Wallet not found")
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(reportResponse{
		WalletID:   r.WalletID.String(),
		Balance:    wallet.FormatAmount(r.Balance),
		Expected:   wallet.FormatAmount(r.Expected),
		Drift:      wallet.FormatAmount(r.Drift()),
		Deposits:   r.Deposits,
		Withdraws:  r.Withdraws,
		Consistent: r.Consistent(),
	})
}
