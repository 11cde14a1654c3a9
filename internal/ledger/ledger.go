package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidDirection occurs when a debit is submitted for a load or a credit
	// is submitted for an authorization.
	ErrInvalidDirection = errors.New("invalid debit/credit direction")

	// ErrInvalidAmount indicates the requested amount is not a non-negative decimal.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidRequest covers requests missing the user, message or currency.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDuplicateMessage indicates an event with the same message identifier was
	// already appended. Callers retrying a request must use a fresh identifier.
	ErrDuplicateMessage = errors.New("duplicate message id")

	// ErrEventNotFound is returned by event lookups that match nothing.
	ErrEventNotFound = errors.New("event not found")
)

// Direction is the debit/credit marker carried by an Amount.
type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

// Status records how a request was processed.
type Status string

const (
	StatusAuthSuccess Status = "AUTH_SUCCESS"
	StatusAuthFail    Status = "AUTH_FAIL"
	StatusLoadSuccess Status = "LOAD_SUCCESS"
	StatusLoadFail    Status = "LOAD_FAIL"
)

// ResponseCode is the outcome of an authorization that was evaluated.
type ResponseCode string

const (
	ResponseApproved ResponseCode = "APPROVED"
	ResponseDeclined ResponseCode = "DECLINED"
)

// Amount is the (amount, currency, direction) triple exchanged with callers.
// Amount is kept as the caller's decimal string.
type Amount struct {
	Amount    string
	Currency  string
	Direction Direction
}

// Request is a single authorize or load call.
type Request struct {
	UserID    string
	MessageID string
	Amount    Amount
}

// AuthorizationResult is returned for an evaluated authorization, approved or declined.
type AuthorizationResult struct {
	UserID       string
	MessageID    string
	ResponseCode ResponseCode
	Balance      Amount
}

// LoadResult is returned for an applied load.
type LoadResult struct {
	UserID    string
	MessageID string
	Balance   Amount
}

// Balance maps currency codes to held amounts. Entries are never negative.
type Balance map[string]decimal.Decimal

// Clone returns an independent copy so callers can mutate without touching store state.
func (b Balance) Clone() Balance {
	out := make(Balance, len(b))
	for currency, amount := range b {
		out[currency] = amount
	}
	return out
}

// FormatAmount renders an amount keeping its scale, so "12.50" stays "12.50"
// rather than the trimmed "12.5" that decimal.String gives.
func FormatAmount(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

// Event is the immutable audit record of one processed request. Amount holds the
// requested amount exactly as submitted, even when it could not be applied.
type Event struct {
	MessageID string
	UserID    string
	Status    Status
	Direction Direction
	Currency  string
	Amount    string
	CreatedAt time.Time
}

// BalanceStore owns the userID -> balance mapping.
type BalanceStore interface {
	// Get returns the user's balance, or an empty one for an unknown user.
	Get(ctx context.Context, userID string) (Balance, error)
	Put(ctx context.Context, userID string, balance Balance) error
}

// EventLog is the append-only record of transaction events keyed by message id.
type EventLog interface {
	// Append fails with ErrDuplicateMessage when the message id is already present.
	Append(ctx context.Context, event Event) error
	FindByMessageID(ctx context.Context, messageID string) (Event, error)
	FindAllByUser(ctx context.Context, userID string) ([]Event, error)
}

// UnitOfWork runs inside a user's critical section.
type UnitOfWork func(ctx context.Context, balances BalanceStore, events EventLog) error

// Store is a backend providing both contracts plus per-user atomicity.
type Store interface {
	BalanceStore
	EventLog

	// WithUserLock runs fn with exclusive access to userID's balance. Writes made
	// through the supplied views are committed together when fn returns nil and
	// discarded otherwise. Different users never contend.
	WithUserLock(ctx context.Context, userID string, fn UnitOfWork) error
}
