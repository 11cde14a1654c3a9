package ledger

import (
	"context"
	"fmt"
	"sync"
)

type inMemoryStore struct {
	mu       sync.RWMutex
	balances map[string]Balance
	events   map[string]Event
	byUser   map[string][]string
	locks    *userLocks
}

// NewInMemory creates a concurrency-safe in-memory store. Mutations for one user
// are serialized through a per-user lock; different users proceed in parallel.
func NewInMemory() Store {
	return &inMemoryStore{
		balances: make(map[string]Balance),
		events:   make(map[string]Event),
		byUser:   make(map[string][]string),
		locks:    newUserLocks(),
	}
}

func (s *inMemoryStore) Get(_ context.Context, userID string) (Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, exists := s.balances[userID]
	if !exists {
		balance = make(Balance)
		s.balances[userID] = balance
	}
	return balance.Clone(), nil
}

func (s *inMemoryStore) Put(_ context.Context, userID string, balance Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance.Clone()
	return nil
}

func (s *inMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.MessageID]; exists {
		return ErrDuplicateMessage
	}
	s.appendLocked(event)
	return nil
}

func (s *inMemoryStore) FindByMessageID(_ context.Context, messageID string) (Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[messageID]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	return event, nil
}

func (s *inMemoryStore) FindAllByUser(_ context.Context, userID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[userID]
	out := make([]Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.events[id])
	}
	return out, nil
}

func (s *inMemoryStore) WithUserLock(ctx context.Context, userID string, fn UnitOfWork) error {
	release := s.locks.acquire(userID)
	defer release()

	unit := &memoryUnit{store: s, userID: userID}
	if err := fn(ctx, unit, unit); err != nil {
		return err
	}
	return s.commit(unit)
}

// commit applies a unit's staged writes, all or nothing.
func (s *inMemoryStore) commit(unit *memoryUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range unit.events {
		if _, exists := s.events[event.MessageID]; exists {
			return ErrDuplicateMessage
		}
	}
	if unit.balance != nil {
		s.balances[unit.userID] = unit.balance
	}
	for _, event := range unit.events {
		s.appendLocked(event)
	}
	return nil
}

func (s *inMemoryStore) appendLocked(event Event) {
	s.events[event.MessageID] = event
	s.byUser[event.UserID] = append(s.byUser[event.UserID], event.MessageID)
}

// memoryUnit stages writes for one WithUserLock call. It serves as both the
// BalanceStore and the EventLog handed to the unit of work.
type memoryUnit struct {
	store   *inMemoryStore
	userID  string
	balance Balance
	events  []Event
}

func (u *memoryUnit) Get(ctx context.Context, userID string) (Balance, error) {
	if userID == u.userID && u.balance != nil {
		return u.balance.Clone(), nil
	}
	return u.store.Get(ctx, userID)
}

func (u *memoryUnit) Put(_ context.Context, userID string, balance Balance) error {
	if userID != u.userID {
		return fmt.Errorf("balance write for %s inside unit of work locked on %s", userID, u.userID)
	}
	u.balance = balance.Clone()
	return nil
}

func (u *memoryUnit) Append(ctx context.Context, event Event) error {
	if _, err := u.FindByMessageID(ctx, event.MessageID); err == nil {
		return ErrDuplicateMessage
	}
	u.events = append(u.events, event)
	return nil
}

func (u *memoryUnit) FindByMessageID(ctx context.Context, messageID string) (Event, error) {
	for _, event := range u.events {
		if event.MessageID == messageID {
			return event, nil
		}
	}
	return u.store.FindByMessageID(ctx, messageID)
}

func (u *memoryUnit) FindAllByUser(ctx context.Context, userID string) ([]Event, error) {
	events, err := u.store.FindAllByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, event := range u.events {
		if event.UserID == userID {
			events = append(events, event)
		}
	}
	return events, nil
}
