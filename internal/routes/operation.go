package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/wallet_ledger/internal/operation"
)

// RegisterOperationRoutes wires operation submission and task polling.
func RegisterOperationRoutes(r fiber.Router, h *operation.Handler, rateLimiter fiber.Handler) {
	if rateLimiter != nil {
		r.Post("/wallets/:walletId/operation", rateLimiter, h.Submit)
	} else {
		r.Post("/wallets/:walletId/operation", h.Submit)
	}
	r.Get("/tasks/:taskId", h.Task)
}
