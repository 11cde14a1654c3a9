package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStore_BalanceRoundTrip(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	balance, err := s.Get(ctx, "u")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(balance) != 0 {
		t.Fatalf("expected empty balance, got %v", balance)
	}

	if err := s.Put(ctx, "u", Balance{"USD": decimal.RequireFromString("12.50")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got := mr.HGet("ledger:balance:u", "USD"); got != "12.50" {
		t.Fatalf("unexpected stored amount %q", got)
	}

	balance, err = s.Get(ctx, "u")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !balance["USD"].Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("unexpected balance %v", balance)
	}
}

func TestRedisStore_EventsKeepOrderAndRejectDuplicates(t *testing.T) {
	s, _ := newRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		event := Event{MessageID: fmt.Sprintf("m-%d", i), UserID: "u", Status: StatusLoadSuccess, Direction: DirectionCredit, Currency: "USD", Amount: "1"}
		if err := s.Append(ctx, event); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := s.Append(ctx, Event{MessageID: "m-1", UserID: "u"}); !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	events, err := s.FindAllByUser(ctx, "u")
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(events) != 3 || events[0].MessageID != "m-0" || events[2].MessageID != "m-2" {
		t.Fatalf("unexpected events %+v", events)
	}
	if events[1].Status != StatusLoadSuccess || events[1].Direction != DirectionCredit || events[1].Currency != "USD" {
		t.Fatalf("event fields not preserved: %+v", events[1])
	}

	if _, err := s.FindByMessageID(ctx, "nope"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRedisStore_WithUserLockDiscardsOnError(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithUserLock(ctx, "u", func(ctx context.Context, balances BalanceStore, events EventLog) error {
		if err := balances.Put(ctx, "u", Balance{"USD": decimal.NewFromInt(5)}); err != nil {
			return err
		}
		if err := events.Append(ctx, Event{MessageID: "m-1", UserID: "u"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if mr.Exists("ledger:balance:u") || mr.Exists("ledger:event:m-1") {
		t.Fatalf("staged writes leaked into redis")
	}
}

func TestRedisStore_EngineDuplicateMessage(t *testing.T) {
	s, _ := newRedisStore(t)
	engine := NewEngine(s, nil, nil)
	ctx := context.Background()

	if _, err := engine.Load(ctx, credit("u", "m-1", "10", "USD")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := engine.Load(ctx, credit("u", "m-1", "10", "USD")); !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	balance, _ := s.Get(ctx, "u")
	if !balance["USD"].Equal(decimal.NewFromInt(10)) {
		t.Fatalf("duplicate applied: %v", balance)
	}
}

func TestRedisStore_EngineAuthorizeAndLoad(t *testing.T) {
	s, _ := newRedisStore(t)
	engine := NewEngine(s, nil, nil)
	ctx := context.Background()

	if _, err := engine.Load(ctx, credit("u", "m-1", "450", "USD")); err != nil {
		t.Fatalf("load: %v", err)
	}
	res, err := engine.Authorize(ctx, debit("u", "m-2", "500", "USD"))
	if err != nil || res.ResponseCode != ResponseDeclined || res.Balance.Amount != "450" {
		t.Fatalf("expected decline at 450, got %+v err=%v", res, err)
	}
	res, err = engine.Authorize(ctx, debit("u", "m-3", "350", "USD"))
	if err != nil || res.ResponseCode != ResponseApproved || res.Balance.Amount != "100" {
		t.Fatalf("expected approval down to 100, got %+v err=%v", res, err)
	}

	events, err := s.FindAllByUser(ctx, "u")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	want := []Status{StatusLoadSuccess, StatusAuthFail, StatusAuthSuccess}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, status := range want {
		if events[i].Status != status {
			t.Fatalf("event %d: expected %s, got %s", i, status, events[i].Status)
		}
	}
}

func TestRedisStore_ConcurrentLoadsDoNotLoseUpdates(t *testing.T) {
	s, _ := newRedisStore(t)
	engine := NewEngine(s, nil, nil)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := engine.Load(ctx, credit("u", fmt.Sprintf("m-%d", i), "1", "USD")); err != nil {
				t.Errorf("load %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	balance, err := s.Get(ctx, "u")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !balance["USD"].Equal(decimal.NewFromInt(callers)) {
		t.Fatalf("expected %d, got %s", callers, balance["USD"])
	}
}
