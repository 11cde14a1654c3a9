package audit

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/bank-ledger/bank_ledger/internal/ledger"
)

// Handler exposes read-only audit endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an audit HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type eventResponse struct {
	MessageID     string `json:"messageId"`
	UserID        string `json:"userId"`
	Status        string `json:"transactionStatus"`
	DebitOrCredit string `json:"debitOrCredit"`
	Currency      string `json:"currency"`
	Amount        string `json:"amount"`
	TimeOfEvent   string `json:"timeOfEvent"`
}

func toEventResponse(e ledger.Event) eventResponse {
	return eventResponse{
		MessageID:     e.MessageID,
		UserID:        e.UserID,
		Status:        string(e.Status),
		DebitOrCredit: string(e.Direction),
		Currency:      e.Currency,
		Amount:        e.Amount,
		TimeOfEvent:   e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Balance returns every currency the user holds.
func (h *Handler) Balance(c *fiber.Ctx) error {
	userID := c.Params("userId")
	snapshot, err := h.service.Balance(c.UserContext(), userID)
	if err != nil {
		return err
	}

	balances := make(fiber.Map, len(snapshot.Balances))
	for _, entry := range snapshot.Balances {
		balances[entry.Currency] = entry.Amount
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"userId":    snapshot.UserID,
		"balances":  balances,
		"timestamp": snapshot.AsOf.Format(time.RFC3339Nano),
	})
}

// Events lists the user's events oldest first.
func (h *Handler) Events(c *fiber.Ctx) error {
	userID := c.Params("userId")
	events, err := h.service.Events(c.UserContext(), userID)
	if err != nil {
		return err
	}

	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"userId": userID,
		"events": out,
	})
}

// Event returns a single event by message id.
func (h *Handler) Event(c *fiber.Ctx) error {
	event, err := h.service.Event(c.UserContext(), c.Params("messageId"))
	if err != nil {
		if errors.Is(err, ledger.ErrEventNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return c.Status(http.StatusOK).JSON(toEventResponse(event))
}
