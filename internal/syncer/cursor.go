// internal/syncer/cursor.go
package syncer

import (
	"context"
	"time"

	"github-star-sync/internal/database"
	custom_errors "github-star-sync/internal/errors"
)

// Cursor is computed once at the start of a sync and never changes during it.
type Cursor struct {
	// Stale is false when storage may be served without touching GitHub.
	Stale bool
	// Since is the most recent stored starred_at. Nil means full history.
	Since *time.Time
}

// LoadCursor runs the staleness gate for userID and, when stale, reads the sync cursor.
func LoadCursor(ctx context.Context, q database.Querier, userID string, staleWindow time.Duration) (Cursor, error) {
	stale, err := q.IsUserStarsStale(ctx, userID, staleWindow)
	if err != nil {
		return Cursor{}, custom_errors.Storage("is_user_stars_stale", err)
	}
	if !stale {
		return Cursor{}, nil
	}

	since, err := q.GetMostRecentStarredAt(ctx, userID)
	if err != nil {
		return Cursor{}, custom_errors.Storage("get_most_recent_starred_at", err)
	}
	return Cursor{Stale: true, Since: since}, nil
}
