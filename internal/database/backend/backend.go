// Package backend opens the database.Store selected by a DB_URL.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github-star-sync/internal/database"
	"github-star-sync/internal/database/memory"
	"github-star-sync/internal/database/postgres"
	"github-star-sync/internal/database/sqlite"
)

// MemoryScheme selects the in-process store.
const MemoryScheme = "memory://"

// Options tunes how long Open waits for a database server.
type Options struct {
	ConnectTimeout time.Duration
}

// Open picks a backend from the scheme of dbURL and applies its migrations.
func Open(ctx context.Context, dbURL string, logger *slog.Logger, opts Options) (database.Store, error) {
	switch {
	case strings.HasPrefix(dbURL, MemoryScheme):
		logger.Warn("Using in-memory storage, data is lost on restart")
		return memory.New(), nil

	case strings.HasPrefix(dbURL, sqlite.Scheme):
		store, err := sqlite.Open(ctx, dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		logger.Info("SQLite database opened and migrated")
		return store, nil

	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		return openPostgres(ctx, dbURL, logger, opts)

	default:
		return nil, fmt.Errorf("unsupported DB_URL scheme in %q", redact(dbURL))
	}
}

func openPostgres(ctx context.Context, dbURL string, logger *slog.Logger, opts Options) (database.Store, error) {
	store, err := postgres.NewStore(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	// The database usually starts alongside the service; wait for it.
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, store.Ping(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("Database not ready, retrying", "error", err, "retry_in", next.String())
		}),
	)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("Database connection established")

	if err := postgres.Migrate(dbURL); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")
	return store, nil
}

// redact keeps credentials out of error messages.
func redact(u string) string {
	if i := strings.Index(u, "://"); i >= 0 {
		return u[:i+3] + "..."
	}
	return "..."
}
