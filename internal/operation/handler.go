package operation

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/wallet_ledger/internal/queue"
	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

// Handler exposes operation submission and task polling endpoints.
type Handler struct {
	dispatcher *Dispatcher
	results    queue.ResultBackend
}

// NewHandler builds an operation HTTP handler.
func NewHandler(dispatcher *Dispatcher, results queue.ResultBackend) *Handler {
	return &Handler{dispatcher: dispatcher, results: results}
}

type submitRequest struct {
	OperationType wallet.Kind      `json:"operation_type"`
	Amount        *decimal.Decimal `json:"amount"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

// Submit enqueues a deposit or withdraw and returns its task id.
func (h *Handler) Submit(c *fiber.Ctx) error {
	id, err := wallet.ParseID(c.Params("walletId"))
	if err != nil {
		return fiber.NewError(http.StatusUnprocessableEntity, "invalid wallet id")
	}
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	}
	if !req.OperationType.Valid() {
		return fiber.NewError(http.StatusUnprocessableEntity, "operation_type must be DEPOSIT or WITHDRAW")
	}
	if req.Amount == nil {
		return fiber.NewError(http.StatusUnprocessableEntity, "amount is required")
	}

	taskID, err := h.dispatcher.Submit(c.UserContext(), id, req.OperationType, *req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrNotFound):
			return fiber.NewError(http.StatusNotFound, "Wallet not found")
		case errors.Is(err, wallet.ErrInvalidAmount):
			switch {
			case req.Amount.GreaterThan(wallet.MaxAmount):
				return fiber.NewError(http.StatusBadRequest, "Amount must not exceed 9999999999999999.99")
			case req.Amount.IsPositive():
				return fiber.NewError(http.StatusBadRequest, "Amount must have at most 2 decimal places")
			}
			return fiber.NewError(http.StatusBadRequest, "Amount must be greater than 0")
		case errors.Is(err, wallet.ErrInsufficientFunds):
			return fiber.NewError(http.StatusBadRequest, "Insufficient funds")
		case errors.Is(err, ErrInvalidOperationKind):
			return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(submitResponse{TaskID: taskID})
}

// Task reports the current state of a submitted operation.
func (h *Handler) Task(c *fiber.Ctx) error {
	state, err := h.results.Load(c.UserContext(), c.Params("taskId"))
	if err != nil {
		if errors.Is(err, queue.ErrStateNotFound) {
			return fiber.NewError(http.StatusNotFound, "Task not found")
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(state)
}
