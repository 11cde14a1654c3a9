package transactions

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/bank-ledger/bank_ledger/internal/ledger"
	"github.com/bank-ledger/bank_ledger/internal/middleware"
)

// Processor is the ledger surface the handler needs.
type Processor interface {
	Authorize(ctx context.Context, req ledger.Request) (ledger.AuthorizationResult, error)
	Load(ctx context.Context, req ledger.Request) (ledger.LoadResult, error)
}

// Handler exposes the authorization and load endpoints.
type Handler struct {
	ledger Processor
}

// NewHandler constructs a transactions handler.
func NewHandler(ledger Processor) *Handler {
	return &Handler{ledger: ledger}
}

// Authorize debits funds. APPROVED answers 201 and DECLINED answers 400, both
// with the authorization body.
func (h *Handler) Authorize(c *fiber.Ctx) error {
	req, err := parse(c)
	if err != nil {
		return err
	}

	res, err := h.ledger.Authorize(c.UserContext(), req.toLedger())
	if err != nil {
		return ledgerError(c, err)
	}

	status := http.StatusCreated
	if res.ResponseCode == ledger.ResponseDeclined {
		status = http.StatusBadRequest
	}
	return c.Status(status).JSON(AuthorizationResponse{
		UserID:       res.UserID,
		MessageID:    res.MessageID,
		ResponseCode: string(res.ResponseCode),
		Balance:      toAmountDTO(res.Balance),
	})
}

// Load credits funds and answers 201.
func (h *Handler) Load(c *fiber.Ctx) error {
	req, err := parse(c)
	if err != nil {
		return err
	}

	res, err := h.ledger.Load(c.UserContext(), req.toLedger())
	if err != nil {
		return ledgerError(c, err)
	}

	return c.Status(http.StatusCreated).JSON(LoadResponse{
		UserID:    res.UserID,
		MessageID: res.MessageID,
		Balance:   toAmountDTO(res.Balance),
	})
}

func parse(c *fiber.Ctx) (TransactionRequest, error) {
	var req TransactionRequest
	if err := c.BodyParser(&req); err != nil {
		return req, fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if problem := req.validate(); problem != "" {
		return req, fiber.NewError(http.StatusBadRequest, problem)
	}
	return req, nil
}

func ledgerError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidDirection):
		return writeError(c, http.StatusBadRequest, "Invalid DebitCredit Input", "INVALID_DIRECTION")
	case errors.Is(err, ledger.ErrInvalidAmount):
		return writeError(c, http.StatusBadRequest, "Invalid Amount Input", "INVALID_AMOUNT")
	case errors.Is(err, ledger.ErrInvalidRequest):
		return writeError(c, http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
	case errors.Is(err, ledger.ErrDuplicateMessage):
		return writeError(c, http.StatusConflict, "messageId has already been processed", "DUPLICATE_MESSAGE")
	default:
		return err
	}
}

func writeError(c *fiber.Ctx, status int, message, code string) error {
	return c.Status(status).JSON(middleware.ErrorBody{Message: message, Code: code})
}
