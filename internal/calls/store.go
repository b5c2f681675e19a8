package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"school-platform/pkg/utils"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)

// Store abstracts persistence for call records and signals.
//
// SetStatus must be a no-op once the record is terminal: concurrent
// answer/reject/end races across clients resolve to exactly one terminal
// transition at the storage layer.

type Store interface {
	CreateRecord(ctx context.Context, rec Record) error
	GetRecord(ctx context.Context, callID string) (Record, error)
	SetStatus(ctx context.Context, callID string, status Status, at time.Time) (Record, bool, error)
	AppendSignal(ctx context.Context, sig Signal) error

	// CreateWithSignal inserts a new record together with its offer
	// signal atomically, so a crash between the two writes cannot leave
	// a ringing record the callee was never signalled about.
	CreateWithSignal(ctx context.Context, rec Record, sig Signal) error
}

// PostgresStore persists call records and signals over database/sql
// (pgx stdlib driver).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const (
	insertRecordSQL = `
		INSERT INTO call_records
			(call_id, school_id, caller_id, callee_id, call_type, status, meeting_url, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)`
	insertSignalSQL = `
		INSERT INTO call_signals
			(id, from_user_id, to_user_id, call_id, signal_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
)

func (s *PostgresStore) CreateRecord(ctx context.Context, rec Record) error {
	if rec.CallID == "" || rec.SchoolID == "" || rec.CallerID == "" || rec.CalleeID == "" {
		return ErrInvalidArgument
	}
	_, err := s.db.ExecContext(ctx, insertRecordSQL,
		rec.CallID, rec.SchoolID, rec.CallerID, rec.CalleeID,
		rec.Type, rec.Status, rec.MeetingURL, rec.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("calls: insert record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, callID string) (Record, error) {
	if callID == "" {
		return Record{}, ErrInvalidArgument
	}
	const q = `
		SELECT call_id, school_id, caller_id, callee_id, call_type, status,
		       COALESCE(meeting_url, ''), started_at, answered_at
		FROM call_records WHERE call_id = $1`
	var rec Record
	var answeredAt sql.NullTime
	err := s.db.QueryRowContext(ctx, q, callID).Scan(
		&rec.CallID, &rec.SchoolID, &rec.CallerID, &rec.CalleeID,
		&rec.Type, &rec.Status, &rec.MeetingURL, &rec.StartedAt, &answeredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("calls: get record: %w", err)
	}
	if answeredAt.Valid {
		t := answeredAt.Time
		rec.AnsweredAt = &t
	}
	return rec, nil
}

// SetStatus transitions a record and reports whether the write applied.
// Rows already in a terminal status are left untouched (applied=false).
func (s *PostgresStore) SetStatus(ctx context.Context, callID string, status Status, at time.Time) (Record, bool, error) {
	if callID == "" || status == "" {
		return Record{}, false, ErrInvalidArgument
	}
	const q = `
		UPDATE call_records
		SET status = $2,
		    answered_at = CASE WHEN $2 = 'answered' THEN $3 ELSE answered_at END
		WHERE call_id = $1
		  AND status NOT IN ('ended', 'rejected', 'missed')
		RETURNING call_id, school_id, caller_id, callee_id, call_type, status,
		          COALESCE(meeting_url, ''), started_at, answered_at`
	var rec Record
	var answeredAt sql.NullTime
	err := s.db.QueryRowContext(ctx, q, callID, status, at.UTC()).Scan(
		&rec.CallID, &rec.SchoolID, &rec.CallerID, &rec.CalleeID,
		&rec.Type, &rec.Status, &rec.MeetingURL, &rec.StartedAt, &answeredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// Missing row or already terminal; callers treat both as "not applied".
		cur, gerr := s.GetRecord(ctx, callID)
		if gerr != nil {
			return Record{}, false, gerr
		}
		return cur, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("calls: set status: %w", err)
	}
	if answeredAt.Valid {
		t := answeredAt.Time
		rec.AnsweredAt = &t
	}
	return rec, true, nil
}

func (s *PostgresStore) AppendSignal(ctx context.Context, sig Signal) error {
	if sig.ID == "" || sig.CallID == "" || sig.FromUserID == "" || sig.ToUserID == "" {
		return ErrInvalidArgument
	}
	payload, err := json.Marshal(sig.Payload)
	if err != nil {
		return fmt.Errorf("calls: marshal signal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertSignalSQL,
		sig.ID, sig.FromUserID, sig.ToUserID, sig.CallID, sig.Type, payload, sig.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("calls: insert signal: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateWithSignal(ctx context.Context, rec Record, sig Signal) error {
	if rec.CallID == "" || rec.SchoolID == "" || rec.CallerID == "" || rec.CalleeID == "" {
		return ErrInvalidArgument
	}
	if sig.ID == "" || sig.CallID == "" || sig.FromUserID == "" || sig.ToUserID == "" {
		return ErrInvalidArgument
	}
	payload, err := json.Marshal(sig.Payload)
	if err != nil {
		return fmt.Errorf("calls: marshal signal payload: %w", err)
	}
	err = utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertRecordSQL,
			rec.CallID, rec.SchoolID, rec.CallerID, rec.CalleeID,
			rec.Type, rec.Status, rec.MeetingURL, rec.StartedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertSignalSQL,
			sig.ID, sig.FromUserID, sig.ToUserID, sig.CallID, sig.Type, payload, sig.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert signal: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("calls: create with signal: %w", err)
	}
	return nil
}
