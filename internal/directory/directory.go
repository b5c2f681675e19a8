package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("directory: not found")

// Names resolves user ids to display names for call UI. Lookups are
// best-effort: callers log failures and fall back to "Unknown".
type Names interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// PostgresNames reads display names from the user_profiles table.
type PostgresNames struct {
	db *sql.DB
}

func NewPostgresNames(db *sql.DB) *PostgresNames { return &PostgresNames{db: db} }

func (p *PostgresNames) DisplayName(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("directory: user_id required")
	}
	const q = `SELECT display_name FROM user_profiles WHERE user_id = $1`
	var name string
	err := p.db.QueryRowContext(ctx, q, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("directory: lookup: %w", err)
	}
	return name, nil
}

// MemoryNames is an in-memory Names for tests.
type MemoryNames struct {
	mu    sync.Mutex
	names map[string]string
}

func NewMemoryNames() *MemoryNames { return &MemoryNames{names: map[string]string{}} }

func (m *MemoryNames) Set(userID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[userID] = name
}

func (m *MemoryNames) DisplayName(ctx context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.names[userID]
	if !ok {
		return "", ErrNotFound
	}
	return name, nil
}
