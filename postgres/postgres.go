// Package postgres implements chatrelay.Store and chatrelay.RequestLogStore on
// PostgreSQL using pgx. Turns are stored one row per turn, ordered by seq.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/meikuraledutech/chatrelay"
)

// PGStore is a pgxpool-backed store.
type PGStore struct {
	db *pgxpool.Pool
}

// New wraps an existing pool. The caller owns the pool's lifetime unless
// Close is called.
func New(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*PGStore, error) {
	db, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("chatrelay: connect postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("chatrelay: ping postgres: %w", err)
	}
	return New(db), nil
}

// Ping checks the pool's connection.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the pool.
func (s *PGStore) Close() error {
	s.db.Close()
	return nil
}

// Ensure PGStore implements the contracts at compile time.
var (
	_ chatrelay.Store           = (*PGStore)(nil)
	_ chatrelay.RequestLogStore = (*PGStore)(nil)
)
