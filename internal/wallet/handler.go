package wallet

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Balance *decimal.Decimal `json:"balance"`
}

type operationResponse struct {
	ID        int64     `json:"id"`
	Amount    string    `json:"amount"`
	WalletID  string    `json:"wallet_id"`
	CreatedAt time.Time `json:"created_at"`
}

type walletResponse struct {
	ID        string              `json:"id"`
	Balance   string              `json:"balance"`
	Deposits  []operationResponse `json:"deposits"`
	Withdraws []operationResponse `json:"withdraws"`
}

// Create provisions a wallet. An empty body creates a zero-balance wallet.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		}
	}
	input := CreateInput{Balance: decimal.Zero}
	if req.Balance != nil {
		input.Balance = *req.Balance
	}

	w, err := h.service.Create(c.UserContext(), input)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			return fiber.NewError(http.StatusUnprocessableEntity, "balance must be between 0 and 9999999999999999.99 with at most 2 decimal places")
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(w))
}

// Get returns the wallet with its operation history.
func (h *Handler) Get(c *fiber.Ctx) error {
	id, err := ParseID(c.Params("walletId"))
	if err != nil {
		return fiber.NewError(http.StatusUnprocessableEntity, "invalid wallet id")
	}
	w, err := h.service.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "Wallet not found")
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(w))
}

func toWalletResponse(w Wallet) walletResponse {
	return walletResponse{
		ID:        w.ID.String(),
		Balance:   FormatAmount(w.Balance),
		Deposits:  toOperationResponses(w.Deposits),
		Withdraws: toOperationResponses(w.Withdraws),
	}
}

func toOperationResponses(ops []Operation) []operationResponse {
	out := make([]operationResponse, 0, len(ops))
	for _, op := range ops {
		out = append(out, operationResponse{
			ID:        op.ID,
			Amount:    FormatAmount(op.Amount),
			WalletID:  op.WalletID.String(),
			CreatedAt: op.CreatedAt,
		})
	}
	return out
}
