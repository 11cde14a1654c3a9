package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bank-ledger/bank_ledger/internal/metrics"
	"github.com/bank-ledger/bank_ledger/internal/notification"
)

const (
	opAuthorize = "authorize"
	opLoad      = "load"
)

// Engine applies authorizations and loads against a Store. Every call appends
// exactly one event, whether it is approved, declined or rejected.
type Engine struct {
	store    Store
	notifier notification.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine builds an engine. notifier may be nil; logger defaults to a discard logger.
func NewEngine(store Store, notifier notification.Notifier, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Authorize debits the requested amount when the user holds at least that much
// in the currency. Insufficient funds is a DECLINED result, not an error; the
// reported balance is then the unchanged held amount (0 if the currency is absent).
// Malformed requests return an error after an AUTH_FAIL event is recorded.
func (e *Engine) Authorize(ctx context.Context, req Request) (AuthorizationResult, error) {
	amount, err := parseRequest(req, DirectionDebit)
	if err != nil {
		return AuthorizationResult{}, e.fail(ctx, opAuthorize, req, StatusAuthFail, err)
	}
	currency := req.Amount.Currency

	var (
		result AuthorizationResult
		event  Event
	)
	err = e.store.WithUserLock(ctx, req.UserID, func(ctx context.Context, balances BalanceStore, events EventLog) error {
		balance, err := balances.Get(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}

		held, ok := balance[currency]
		if !ok || held.LessThan(amount) {
			event = e.newEvent(req, StatusAuthFail)
			result = authorizationResult(req, ResponseDeclined, held)
			return events.Append(ctx, event)
		}

		held = held.Sub(amount)
		balance[currency] = held
		if err := balances.Put(ctx, req.UserID, balance); err != nil {
			return fmt.Errorf("write balance: %w", err)
		}
		event = e.newEvent(req, StatusAuthSuccess)
		result = authorizationResult(req, ResponseApproved, held)
		return events.Append(ctx, event)
	})
	if err != nil {
		return AuthorizationResult{}, e.fail(ctx, opAuthorize, req, StatusAuthFail, err)
	}

	e.notify(ctx, event)
	metrics.LedgerOperations.WithLabelValues(opAuthorize, resultLabel(result.ResponseCode)).Inc()
	e.logger.Info("authorization processed",
		slog.String("user_id", req.UserID),
		slog.String("message_id", req.MessageID),
		slog.String("currency", currency),
		slog.String("response_code", string(result.ResponseCode)),
	)
	return result, nil
}

// Load credits the requested amount, creating the currency entry if needed.
// Malformed requests return an error after a LOAD_FAIL event is recorded.
func (e *Engine) Load(ctx context.Context, req Request) (LoadResult, error) {
	amount, err := parseRequest(req, DirectionCredit)
	if err != nil {
		return LoadResult{}, e.fail(ctx, opLoad, req, StatusLoadFail, err)
	}
	currency := req.Amount.Currency

	var (
		result LoadResult
		event  Event
	)
	err = e.store.WithUserLock(ctx, req.UserID, func(ctx context.Context, balances BalanceStore, events EventLog) error {
		balance, err := balances.Get(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}

		held, ok := balance[currency]
		if ok {
			held = held.Add(amount)
		} else {
			held = amount
		}
		balance[currency] = held
		if err := balances.Put(ctx, req.UserID, balance); err != nil {
			return fmt.Errorf("write balance: %w", err)
		}

		event = e.newEvent(req, StatusLoadSuccess)
		result = LoadResult{
			UserID:    req.UserID,
			MessageID: req.MessageID,
			Balance:   Amount{Amount: FormatAmount(held), Currency: currency, Direction: req.Amount.Direction},
		}
		return events.Append(ctx, event)
	})
	if err != nil {
		return LoadResult{}, e.fail(ctx, opLoad, req, StatusLoadFail, err)
	}

	e.notify(ctx, event)
	metrics.LedgerOperations.WithLabelValues(opLoad, "loaded").Inc()
	e.logger.Info("load processed",
		slog.String("user_id", req.UserID),
		slog.String("message_id", req.MessageID),
		slog.String("currency", currency),
	)
	return result, nil
}

// fail records the failure event for a request that produced no outcome and
// returns the cause. If the event itself cannot be stored both errors are returned.
func (e *Engine) fail(ctx context.Context, op string, req Request, status Status, cause error) error {
	attrs := []any{
		slog.String("operation", op),
		slog.String("user_id", req.UserID),
		slog.String("message_id", req.MessageID),
		slog.Any("error", cause),
	}

	result := "rejected"
	if !IsStructural(cause) {
		result = "failed"
	}
	metrics.LedgerOperations.WithLabelValues(op, result).Inc()

	// A taken or missing message id leaves nothing to key a new event on.
	if req.MessageID == "" || errors.Is(cause, ErrDuplicateMessage) {
		e.logger.Warn("ledger request rejected without event", attrs...)
		return cause
	}

	event := e.newEvent(req, status)
	if err := e.store.Append(ctx, event); err != nil {
		e.logger.Error("failure event not recorded", append(attrs, slog.Any("append_error", err))...)
		return errors.Join(cause, fmt.Errorf("record %s event: %w", status, err))
	}
	e.notify(ctx, event)

	if result == "rejected" {
		e.logger.Warn("ledger request rejected", attrs...)
	} else {
		e.logger.Error("ledger request failed", attrs...)
	}
	return cause
}

func (e *Engine) newEvent(req Request, status Status) Event {
	return Event{
		MessageID: req.MessageID,
		UserID:    req.UserID,
		Status:    status,
		Direction: req.Amount.Direction,
		Currency:  req.Amount.Currency,
		Amount:    req.Amount.Amount,
		CreatedAt: e.now(),
	}
}

type eventMessage struct {
	UserID        string `json:"userId"`
	MessageID     string `json:"messageId"`
	Status        string `json:"transactionStatus"`
	DebitOrCredit string `json:"debitOrCredit"`
	Currency      string `json:"currency"`
	Amount        string `json:"amount"`
	TimeOfEvent   string `json:"timeOfEvent"`
}

// notify hands a committed event downstream. The event log stays authoritative,
// so a failed send is logged and counted but never changes the outcome.
func (e *Engine) notify(ctx context.Context, event Event) {
	if e.notifier == nil {
		return
	}
	body, err := json.Marshal(eventMessage{
		UserID:        event.UserID,
		MessageID:     event.MessageID,
		Status:        string(event.Status),
		DebitOrCredit: string(event.Direction),
		Currency:      event.Currency,
		Amount:        event.Amount,
		TimeOfEvent:   event.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		e.logger.Warn("encode event notification", slog.String("message_id", event.MessageID), slog.Any("error", err))
		return
	}
	err = e.notifier.Send(ctx, notification.Message{
		Kind:        string(event.Status),
		Destination: event.UserID,
		Key:         event.MessageID,
		Body:        body,
	})
	if err != nil {
		metrics.NotificationFailures.Inc()
		e.logger.Warn("event notification failed", slog.String("message_id", event.MessageID), slog.Any("error", err))
	}
}

func parseRequest(req Request, want Direction) (decimal.Decimal, error) {
	switch {
	case req.UserID == "":
		return decimal.Decimal{}, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	case req.MessageID == "":
		return decimal.Decimal{}, fmt.Errorf("%w: messageId is required", ErrInvalidRequest)
	case req.Amount.Currency == "":
		return decimal.Decimal{}, fmt.Errorf("%w: currency is required", ErrInvalidRequest)
	}
	if req.Amount.Direction != want {
		return decimal.Decimal{}, fmt.Errorf("%w: expected %s, got %q", ErrInvalidDirection, want, req.Amount.Direction)
	}
	amount, err := decimal.NewFromString(req.Amount.Amount)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q is not a decimal", ErrInvalidAmount, req.Amount.Amount)
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, req.Amount.Amount)
	}
	return amount, nil
}

// IsStructural reports whether err is a request-shape problem rather than a storage fault.
func IsStructural(err error) bool {
	return errors.Is(err, ErrInvalidDirection) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidRequest)
}

func authorizationResult(req Request, code ResponseCode, held decimal.Decimal) AuthorizationResult {
	return AuthorizationResult{
		UserID:       req.UserID,
		MessageID:    req.MessageID,
		ResponseCode: code,
		Balance:      Amount{Amount: FormatAmount(held), Currency: req.Amount.Currency, Direction: req.Amount.Direction},
	}
}

func resultLabel(code ResponseCode) string {
	if code == ResponseApproved {
		return "approved"
	}
	return "declined"
}
