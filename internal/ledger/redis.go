package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	redisKeyPrefix = "ledger:"
	maxTxAttempts  = 32
)

// ErrContention is returned when optimistic Redis transactions keep colliding.
var ErrContention = errors.New("ledger: too much contention on user")

type redisReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps balances as one hash per user and events as one hash per
// message id, with a list per user preserving arrival order. Per-user atomicity
// comes from WATCH on the user's balance key and MULTI/EXEC on commit.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func balanceKey(userID string) string    { return redisKeyPrefix + "balance:" + userID }
func eventKey(messageID string) string   { return redisKeyPrefix + "event:" + messageID }
func userEventsKey(userID string) string { return redisKeyPrefix + "events:" + userID }

// Get returns the user's balance; an unknown user has an empty one.
func (s *RedisStore) Get(ctx context.Context, userID string) (Balance, error) {
	return readBalance(ctx, s.client, userID)
}

// Put replaces the user's balance.
func (s *RedisStore) Put(ctx context.Context, userID string, balance Balance) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		queueBalance(ctx, p, userID, balance)
		return nil
	})
	return err
}

// Append stores an event unless its message id is already taken.
func (s *RedisStore) Append(ctx context.Context, event Event) error {
	return s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, eventKey(event.MessageID)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateMessage
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			queueEvent(ctx, p, event)
			return nil
		})
		return err
	}, eventKey(event.MessageID))
}

// FindByMessageID fetches one event.
func (s *RedisStore) FindByMessageID(ctx context.Context, messageID string) (Event, error) {
	return readEvent(ctx, s.client, messageID)
}

// FindAllByUser lists a user's events in arrival order.
func (s *RedisStore) FindAllByUser(ctx context.Context, userID string) ([]Event, error) {
	return readUserEvents(ctx, s.client, userID)
}

// WithUserLock runs fn against a WATCHed view of the user's balance and commits
// the staged writes atomically. A concurrent write to any watched key aborts the
// commit and fn is run again against fresh state.
func (s *RedisStore) WithUserLock(ctx context.Context, userID string, fn UnitOfWork) error {
	return s.watch(ctx, func(tx *redis.Tx) error {
		unit := &redisUnit{tx: tx, userID: userID}
		if err := fn(ctx, unit, unit); err != nil {
			return err
		}
		return unit.commit(ctx)
	}, balanceKey(userID))
}

func (s *RedisStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return ErrContention
}

type redisUnit struct {
	tx      *redis.Tx
	userID  string
	balance Balance
	events  []Event
}

func (u *redisUnit) Get(ctx context.Context, userID string) (Balance, error) {
	if userID == u.userID && u.balance != nil {
		return u.balance.Clone(), nil
	}
	return readBalance(ctx, u.tx, userID)
}

func (u *redisUnit) Put(_ context.Context, userID string, balance Balance) error {
	if userID != u.userID {
		return fmt.Errorf("balance write for %s inside unit of work locked on %s", userID, u.userID)
	}
	u.balance = balance.Clone()
	return nil
}

func (u *redisUnit) Append(ctx context.Context, event Event) error {
	for _, pending := range u.events {
		if pending.MessageID == event.MessageID {
			return ErrDuplicateMessage
		}
	}
	key := eventKey(event.MessageID)
	if err := u.tx.Watch(ctx, key).Err(); err != nil {
		return err
	}
	n, err := u.tx.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrDuplicateMessage
	}
	u.events = append(u.events, event)
	return nil
}

func (u *redisUnit) FindByMessageID(ctx context.Context, messageID string) (Event, error) {
	for _, event := range u.events {
		if event.MessageID == messageID {
			return event, nil
		}
	}
	return readEvent(ctx, u.tx, messageID)
}

func (u *redisUnit) FindAllByUser(ctx context.Context, userID string) ([]Event, error) {
	events, err := readUserEvents(ctx, u.tx, userID)
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

func (u *redisUnit) commit(ctx context.Context) error {
	if u.balance == nil && len(u.events) == 0 {
		return nil
	}
	_, err := u.tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if u.balance != nil {
			queueBalance(ctx, p, u.userID, u.balance)
		}
		for _, event := range u.events {
			queueEvent(ctx, p, event)
		}
		return nil
	})
	return err
}

func queueBalance(ctx context.Context, p redis.Pipeliner, userID string, balance Balance) {
	key := balanceKey(userID)
	p.Del(ctx, key)
	if len(balance) == 0 {
		return
	}
	fields := make(map[string]any, len(balance))
	for currency, amount := range balance {
		fields[currency] = FormatAmount(amount)
	}
	p.HSet(ctx, key, fields)
}

func queueEvent(ctx context.Context, p redis.Pipeliner, event Event) {
	p.HSet(ctx, eventKey(event.MessageID), map[string]any{
		"user_id":    event.UserID,
		"status":     string(event.Status),
		"direction":  string(event.Direction),
		"currency":   event.Currency,
		"amount":     event.Amount,
		"created_at": event.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	p.RPush(ctx, userEventsKey(event.UserID), event.MessageID)
}

func readBalance(ctx context.Context, r redisReader, userID string) (Balance, error) {
	fields, err := r.HGetAll(ctx, balanceKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	balance := make(Balance, len(fields))
	for currency, raw := range fields {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode balance %s/%s: %w", userID, currency, err)
		}
		balance[currency] = amount
	}
	return balance, nil
}

func readEvent(ctx context.Context, r redisReader, messageID string) (Event, error) {
	fields, err := r.HGetAll(ctx, eventKey(messageID)).Result()
	if err != nil {
		return Event{}, err
	}
	if len(fields) == 0 {
		return Event{}, ErrEventNotFound
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return Event{}, fmt.Errorf("decode event %s: %w", messageID, err)
	}
	return Event{
		MessageID: messageID,
		UserID:    fields["user_id"],
		Status:    Status(fields["status"]),
		Direction: Direction(fields["direction"]),
		Currency:  fields["currency"],
		Amount:    fields["amount"],
		CreatedAt: createdAt,
	}, nil
}

func readUserEvents(ctx context.Context, r redisReader, userID string) ([]Event, error) {
	ids, err := r.LRange(ctx, userEventsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(ids))
	for _, id := range ids {
		event, err := readEvent(ctx, r, id)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}
