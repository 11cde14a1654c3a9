package audit

import (
	"context"
	"sort"
	"time"

	"github.com/bank-ledger/bank_ledger/internal/ledger"
)

// Reader is the read-only slice of a ledger store the audit side consumes.
type Reader interface {
	Get(ctx context.Context, userID string) (ledger.Balance, error)
	FindByMessageID(ctx context.Context, messageID string) (ledger.Event, error)
	FindAllByUser(ctx context.Context, userID string) ([]ledger.Event, error)
}

// Service answers balance and event history queries. It never mutates state.
type Service struct {
	store Reader
	now   func() time.Time
}

// NewService builds an audit service over a ledger store.
func NewService(store Reader) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// CurrencyAmount is one currency entry of a balance snapshot.
type CurrencyAmount struct {
	Currency string
	Amount   string
}

// Snapshot is a user's balance at a point in time, ordered by currency code.
type Snapshot struct {
	UserID   string
	Balances []CurrencyAmount
	AsOf     time.Time
}

// Balance returns the user's current balance. Unknown users have an empty one.
func (s *Service) Balance(ctx context.Context, userID string) (Snapshot, error) {
	balance, err := s.store.Get(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}

	entries := make([]CurrencyAmount, 0, len(balance))
	for currency, amount := range balance {
		entries = append(entries, CurrencyAmount{Currency: currency, Amount: ledger.FormatAmount(amount)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Currency < entries[j].Currency })

	return Snapshot{UserID: userID, Balances: entries, AsOf: s.now()}, nil
}

// Events lists the user's events in the order they were appended.
func (s *Service) Events(ctx context.Context, userID string) ([]ledger.Event, error) {
	return s.store.FindAllByUser(ctx, userID)
}

// Event fetches one event by message id, or ledger.ErrEventNotFound.
func (s *Service) Event(ctx context.Context, messageID string) (ledger.Event, error) {
	return s.store.FindByMessageID(ctx, messageID)
}
