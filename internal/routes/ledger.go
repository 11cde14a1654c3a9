package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bank-ledger/bank_ledger/internal/audit"
	"github.com/bank-ledger/bank_ledger/internal/transactions"
)

// RegisterLedgerRoutes wires the authorization and load endpoints.
func RegisterLedgerRoutes(r fiber.Router, h *transactions.Handler) {
	r.Put("/authorization", h.Authorize)
	r.Put("/load", h.Load)
}

// RegisterAuditRoutes wires the read-only balance and event endpoints.
func RegisterAuditRoutes(r fiber.Router, h *audit.Handler) {
	r.Get("/users/:userId/balance", h.Balance)
	r.Get("/users/:userId/events", h.Events)
	r.Get("/events/:messageId", h.Event)
}
