// Package database defines the storage contract used by the star pipeline.
// Backends live in the postgres, sqlite and memory subpackages.
package database

import (
	"context"
	"errors"
	"time"

	"github-star-sync/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Querier is the statement-level contract. It is satisfied both by a Store
// and by the transaction handed to Store.InTx.
type Querier interface {
	// GetMostRecentStarredAt returns nil when the user has no stars yet.
	GetMostRecentStarredAt(ctx context.Context, userID string) (*time.Time, error)
	GetUserStarsCount(ctx context.Context, userID string) (int, error)
	// GetUserStars lists stars ordered by starred_at descending.
	GetUserStars(ctx context.Context, userID string, limit, offset int) ([]model.StarredRepo, error)
	// IsUserStarsStale reports true when the user has no stars or none was checked within window.
	IsUserStarsStale(ctx context.Context, userID string, window time.Duration) (bool, error)
	BatchUpsertRepos(ctx context.Context, repos []model.Repository) error
	BatchUpsertUserStars(ctx context.Context, stars []model.UserStar) error
	MarkUserStarsChecked(ctx context.Context, userID string, at time.Time) error

	GetAccessToken(ctx context.Context, userID string) (string, error)
	UpsertAccount(ctx context.Context, account model.Account) error
	ListAccounts(ctx context.Context) ([]model.Account, error)
}

// Store is a Querier that can run a group of statements atomically.
type Store interface {
	Querier
	InTx(ctx context.Context, fn func(q Querier) error) error
	Close()
}

// StaleBefore returns the cut-off below which a last check is stale.
func StaleBefore(now time.Time, window time.Duration) time.Time {
	return now.Add(-window)
}
