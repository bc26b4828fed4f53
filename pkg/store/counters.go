package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// IncrementCounter adds amount to the named counter and returns the
// new value. Counters back the request rate limiter; keys look like
// "rate_limit:<subject>:<window>:<bucket>".
func (s *Store) IncrementCounter(ctx context.Context, key string, amount int64) (int64, error) {
	query := s.rebind(`INSERT INTO counters (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = counters.value + excluded.value,
			updated_at = excluded.updated_at
		RETURNING value`)
	var value int64
	err := s.db.QueryRowContext(ctx, query, key, amount, formatTime(s.now())).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("store: increment counter: %w", err)
	}
	return value, nil
}

// GetCounter returns the counter value, zero when absent.
func (s *Store) GetCounter(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM counters WHERE key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read counter: %w", err)
	}
	return value, nil
}
