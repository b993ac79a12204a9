package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github-star-sync/internal/database"
)

// Store is the pgxpool-backed database.Store.
type Store struct {
	*Queries
	pool *pgxpool.Pool
}

// NewStore opens a connection pool for dbURL. It does not wait for the server.
func NewStore(ctx context.Context, dbURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &Store{Queries: New(pool), pool: pool}, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InTx runs fn inside a single transaction and commits when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(q database.Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // Rollback is a no-op if the transaction is already committed.

	if err := fn(&Queries{db: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

var _ database.Store = (*Store)(nil)
