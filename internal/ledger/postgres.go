package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists balances and events in PostgreSQL. The per-user critical
// section is a row lock on ledger_users held for the length of one transaction.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the user's balance, registering the user if unknown.
func (s *PostgresStore) Get(ctx context.Context, userID string) (Balance, error) {
	if err := ensureUser(ctx, s.db, userID); err != nil {
		return nil, err
	}
	return selectBalance(ctx, s.db, userID)
}

// Put replaces the user's balance in a single transaction.
func (s *PostgresStore) Put(ctx context.Context, userID string, balance Balance) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := ensureUser(ctx, tx, userID); err != nil {
			return err
		}
		return replaceBalance(ctx, tx, userID, balance)
	})
}

// Append inserts an event, mapping a primary key clash to ErrDuplicateMessage.
func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	return insertEvent(ctx, s.db, event)
}

// FindByMessageID fetches one event.
func (s *PostgresStore) FindByMessageID(ctx context.Context, messageID string) (Event, error) {
	return selectEvent(ctx, s.db, messageID)
}

// FindAllByUser lists a user's events in arrival order.
func (s *PostgresStore) FindAllByUser(ctx context.Context, userID string) ([]Event, error) {
	return selectUserEvents(ctx, s.db, userID)
}

// WithUserLock runs fn inside one transaction holding the user's row lock.
func (s *PostgresStore) WithUserLock(ctx context.Context, userID string, fn UnitOfWork) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := ensureUser(ctx, tx, userID); err != nil {
		return err
	}
	const lockQuery = `SELECT user_id FROM ledger_users WHERE user_id = $1 FOR UPDATE`
	var locked string
	if err := tx.QueryRow(ctx, lockQuery, userID).Scan(&locked); err != nil {
		return fmt.Errorf("lock user %s: %w", userID, err)
	}

	unit := &postgresUnit{tx: tx, userID: userID}
	if err := fn(ctx, unit, unit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// postgresUnit routes a unit of work's reads and writes through its transaction.
type postgresUnit struct {
	tx     pgx.Tx
	userID string
}

func (u *postgresUnit) Get(ctx context.Context, userID string) (Balance, error) {
	return selectBalance(ctx, u.tx, userID)
}

func (u *postgresUnit) Put(ctx context.Context, userID string, balance Balance) error {
	if userID != u.userID {
		return fmt.Errorf("balance write for %s inside unit of work locked on %s", userID, u.userID)
	}
	return replaceBalance(ctx, u.tx, userID, balance)
}

func (u *postgresUnit) Append(ctx context.Context, event Event) error {
	return insertEvent(ctx, u.tx, event)
}

func (u *postgresUnit) FindByMessageID(ctx context.Context, messageID string) (Event, error) {
	return selectEvent(ctx, u.tx, messageID)
}

func (u *postgresUnit) FindAllByUser(ctx context.Context, userID string) ([]Event, error) {
	return selectUserEvents(ctx, u.tx, userID)
}

func ensureUser(ctx context.Context, q querier, userID string) error {
	_, err := q.Exec(ctx, `INSERT INTO ledger_users (user_id) VALUES ($1)
        ON CONFLICT (user_id) DO NOTHING`, userID)
	return err
}

func selectBalance(ctx context.Context, q querier, userID string) (Balance, error) {
	rows, err := q.Query(ctx, `SELECT currency, amount::text FROM balances WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balance := make(Balance)
	for rows.Next() {
		var currency, raw string
		if err := rows.Scan(&currency, &raw); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode balance %s/%s: %w", userID, currency, err)
		}
		balance[currency] = amount
	}
	return balance, rows.Err()
}

func replaceBalance(ctx context.Context, q querier, userID string, balance Balance) error {
	if _, err := q.Exec(ctx, `DELETE FROM balances WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for currency, amount := range balance {
		if _, err := q.Exec(ctx, `INSERT INTO balances (user_id, currency, amount, updated_at)
            VALUES ($1, $2, $3::numeric, now())`, userID, currency, FormatAmount(amount)); err != nil {
			return err
		}
	}
	return nil
}

func insertEvent(ctx context.Context, q querier, event Event) error {
	_, err := q.Exec(ctx, `INSERT INTO transaction_events
        (message_id, user_id, status, direction, currency, amount, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.MessageID, event.UserID, string(event.Status), string(event.Direction),
		event.Currency, event.Amount, event.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateMessage
		}
		return err
	}
	return nil
}

const eventColumns = `message_id, user_id, status, direction, currency, amount, created_at`

func selectEvent(ctx context.Context, q querier, messageID string) (Event, error) {
	row := q.QueryRow(ctx, `SELECT `+eventColumns+` FROM transaction_events WHERE message_id = $1`, messageID)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, err
	}
	return event, nil
}

func selectUserEvents(ctx context.Context, q querier, userID string) ([]Event, error) {
	rows, err := q.Query(ctx, `SELECT `+eventColumns+` FROM transaction_events
        WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		event     Event
		status    string
		direction string
	)
	if err := row.Scan(&event.MessageID, &event.UserID, &status, &direction,
		&event.Currency, &event.Amount, &event.CreatedAt); err != nil {
		return Event{}, err
	}
	event.Status = Status(status)
	event.Direction = Direction(direction)
	event.CreatedAt = event.CreatedAt.UTC()
	return event, nil
}
