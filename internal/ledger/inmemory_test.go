package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestInMemoryStore_GetUnknownUserIsEmpty(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	balance, err := s.Get(ctx, "nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(balance) != 0 {
		t.Fatalf("expected empty balance, got %v", balance)
	}

	mem := s.(*inMemoryStore)
	if _, ok := mem.balances["nobody"]; !ok {
		t.Fatalf("expected unknown user to be registered on first read")
	}
}

func TestInMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if err := SeedBalance(s, "user-1", "USD", "450"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	balance, _ := s.Get(ctx, "user-1")
	balance["USD"] = decimal.NewFromInt(1_000_000)

	again, _ := s.Get(ctx, "user-1")
	if !again["USD"].Equal(decimal.NewFromInt(450)) {
		t.Fatalf("store state leaked through returned map: %s", again["USD"])
	}
}

func TestInMemoryStore_DuplicateAppend(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	event := Event{MessageID: "dup", UserID: "user-1", Status: StatusLoadSuccess, Amount: "1"}

	if err := s.Append(ctx, event); err != nil {
		t.Fatalf("initial append failed: %v", err)
	}
	if err := s.Append(ctx, event); !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestInMemoryStore_FindAllByUserKeepsArrivalOrder(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, Event{MessageID: fmt.Sprintf("m-%d", i), UserID: "user-1"}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	_ = s.Append(ctx, Event{MessageID: "other", UserID: "user-2"})

	events, err := s.FindAllByUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, event := range events {
		if event.MessageID != fmt.Sprintf("m-%d", i) {
			t.Fatalf("event %d out of order: %s", i, event.MessageID)
		}
	}

	if _, err := s.FindByMessageID(ctx, "missing"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInMemoryStore_WithUserLockDiscardsOnError(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithUserLock(ctx, "user-1", func(ctx context.Context, balances BalanceStore, events EventLog) error {
		if err := balances.Put(ctx, "user-1", Balance{"USD": decimal.NewFromInt(10)}); err != nil {
			return err
		}
		if err := events.Append(ctx, Event{MessageID: "m-1", UserID: "user-1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	balance, _ := s.Get(ctx, "user-1")
	if len(balance) != 0 {
		t.Fatalf("balance write should have been discarded, got %v", balance)
	}
	if _, err := s.FindByMessageID(ctx, "m-1"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("event append should have been discarded, got %v", err)
	}
}

func TestInMemoryStore_WithUserLockRejectsDuplicateAtCommit(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	_ = s.Append(ctx, Event{MessageID: "taken", UserID: "user-2"})

	err := s.WithUserLock(ctx, "user-1", func(ctx context.Context, balances BalanceStore, events EventLog) error {
		if err := balances.Put(ctx, "user-1", Balance{"USD": decimal.NewFromInt(10)}); err != nil {
			return err
		}
		return events.Append(ctx, Event{MessageID: "taken", UserID: "user-1"})
	})
	if !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	balance, _ := s.Get(ctx, "user-1")
	if len(balance) != 0 {
		t.Fatalf("no partial commit expected, got %v", balance)
	}
}

func TestInMemoryStore_WithUserLockScopesWrites(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	err := s.WithUserLock(ctx, "user-1", func(ctx context.Context, balances BalanceStore, _ EventLog) error {
		return balances.Put(ctx, "user-2", Balance{})
	})
	if err == nil {
		t.Fatalf("expected write for another user to be refused")
	}
}

func TestInMemoryStore_DifferentUsersDoNotContend(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithUserLock(ctx, "user-1", func(context.Context, BalanceStore, EventLog) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	done := make(chan struct{})
	go func() {
		_ = s.WithUserLock(ctx, "user-2", func(context.Context, BalanceStore, EventLog) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("user-2 blocked behind user-1's lock")
	}
}

func TestInMemoryStore_ConcurrentUnitsSerializePerUser(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithUserLock(ctx, "user-1", func(ctx context.Context, balances BalanceStore, _ EventLog) error {
				balance, err := balances.Get(ctx, "user-1")
				if err != nil {
					return err
				}
				balance["USD"] = balance["USD"].Add(decimal.NewFromInt(1))
				return balances.Put(ctx, "user-1", balance)
			})
			if err != nil {
				t.Errorf("unit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	balance, _ := s.Get(ctx, "user-1")
	if !balance["USD"].Equal(decimal.NewFromInt(workers)) {
		t.Fatalf("lost update: expected %d, got %s", workers, balance["USD"])
	}

	mem := s.(*inMemoryStore)
	if len(mem.locks.locks) != 0 {
		t.Fatalf("expected lock table to drain, %d entries left", len(mem.locks.locks))
	}
}
