package presence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("presence: not found")

// Store abstracts presence persistence. Upsert must keep last_seen_at
// monotonic: a late write with an older timestamp never rolls it back.

type Store interface {
	Upsert(ctx context.Context, rec Record) error
	Get(ctx context.Context, userID string) (Record, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Upsert(ctx context.Context, rec Record) error {
	if rec.UserID == "" || rec.Status == "" {
		return errors.New("presence: user_id and status required")
	}
	const q = `
		INSERT INTO presence_records (user_id, status, last_seen_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			status = EXCLUDED.status,
			last_seen_at = GREATEST(presence_records.last_seen_at, EXCLUDED.last_seen_at)`
	if _, err := s.db.ExecContext(ctx, q, rec.UserID, rec.Status, rec.LastSeenAt.UTC()); err != nil {
		return fmt.Errorf("presence: upsert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (Record, error) {
	if userID == "" {
		return Record{}, errors.New("presence: user_id required")
	}
	const q = `SELECT user_id, status, last_seen_at FROM presence_records WHERE user_id = $1`
	var rec Record
	err := s.db.QueryRowContext(ctx, q, userID).Scan(&rec.UserID, &rec.Status, &rec.LastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("presence: get: %w", err)
	}
	return rec, nil
}
