// Package postgres implements database.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github-star-sync/internal/database"
	"github-star-sync/internal/model"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Queries runs the statements of database.Querier against a DBTX.
type Queries struct {
	db  DBTX
	now func() time.Time
}

// New returns Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db, now: time.Now}
}

const getMostRecentStarredAt = `
SELECT max(starred_at) FROM user_stars WHERE user_id = $1`

func (q *Queries) GetMostRecentStarredAt(ctx context.Context, userID string) (*time.Time, error) {
	var latest pgtype.Timestamptz
	if err := q.db.QueryRow(ctx, getMostRecentStarredAt, userID).Scan(&latest); err != nil {
		return nil, fmt.Errorf("querying most recent star: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	t := latest.Time
	return &t, nil
}

const getUserStarsCount = `
SELECT count(*) FROM user_stars WHERE user_id = $1`

func (q *Queries) GetUserStarsCount(ctx context.Context, userID string) (int, error) {
	var n int64
	if err := q.db.QueryRow(ctx, getUserStarsCount, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting stars: %w", err)
	}
	return int(n), nil
}

const getUserStars = `
SELECT r.id, r.name, r.owner, r.full_name, r.description, r.star_count, r.language,
       r.topics, r.repo_created_at, r.pushed_at, r.last_fetched_at, us.starred_at
FROM user_stars us
JOIN repositories r ON r.id = us.repo_id
WHERE us.user_id = $1
ORDER BY us.starred_at DESC, r.id ASC
LIMIT $2 OFFSET $3`

func (q *Queries) GetUserStars(ctx context.Context, userID string, limit, offset int) ([]model.StarredRepo, error) {
	rows, err := q.db.Query(ctx, getUserStars, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing stars: %w", err)
	}
	defer rows.Close()

	var out []model.StarredRepo
	for rows.Next() {
		var s model.StarredRepo
		if err := rows.Scan(
			&s.ID, &s.Name, &s.Owner, &s.FullName, &s.Description, &s.StarCount, &s.Language,
			&s.Topics, &s.RepoCreatedAt, &s.PushedAt, &s.LastFetchedAt, &s.StarredAt,
		); err != nil {
			return nil, fmt.Errorf("scanning star: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing stars: %w", err)
	}
	return out, nil
}

// No rows yields NULL, which COALESCE turns into stale.
const isUserStarsStale = `
SELECT COALESCE(max(last_checked_at) < $2, true) FROM user_stars WHERE user_id = $1`

func (q *Queries) IsUserStarsStale(ctx context.Context, userID string, window time.Duration) (bool, error) {
	var stale bool
	cutoff := database.StaleBefore(q.now(), window)
	if err := q.db.QueryRow(ctx, isUserStarsStale, userID, cutoff).Scan(&stale); err != nil {
		return false, fmt.Errorf("checking staleness: %w", err)
	}
	return stale, nil
}

const upsertRepo = `
INSERT INTO repositories (id, name, owner, full_name, description, star_count, language,
                          topics, repo_created_at, pushed_at, last_fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
    name            = EXCLUDED.name,
    owner           = EXCLUDED.owner,
    full_name       = EXCLUDED.full_name,
    description     = EXCLUDED.description,
    star_count      = EXCLUDED.star_count,
    language        = EXCLUDED.language,
    topics          = EXCLUDED.topics,
    repo_created_at = EXCLUDED.repo_created_at,
    pushed_at       = EXCLUDED.pushed_at,
    last_fetched_at = GREATEST(repositories.last_fetched_at, EXCLUDED.last_fetched_at)`

func (q *Queries) BatchUpsertRepos(ctx context.Context, repos []model.Repository) error {
	if len(repos) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, r := range repos {
		topics := r.Topics
		if topics == nil {
			topics = []string{}
		}
		b.Queue(upsertRepo, r.ID, r.Name, r.Owner, r.FullName, r.Description, r.StarCount, r.Language,
			topics, r.RepoCreatedAt, r.PushedAt, r.LastFetchedAt)
	}
	return q.execBatch(ctx, b, "upserting repositories")
}

const upsertUserStar = `
INSERT INTO user_stars (user_id, repo_id, starred_at, last_checked_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, repo_id) DO UPDATE SET
    starred_at      = EXCLUDED.starred_at,
    last_checked_at = GREATEST(user_stars.last_checked_at, EXCLUDED.last_checked_at)`

func (q *Queries) BatchUpsertUserStars(ctx context.Context, stars []model.UserStar) error {
	if len(stars) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, s := range stars {
		b.Queue(upsertUserStar, s.UserID, s.RepoID, s.StarredAt, s.LastCheckedAt)
	}
	return q.execBatch(ctx, b, "upserting user stars")
}

func (q *Queries) execBatch(ctx context.Context, b *pgx.Batch, what string) error {
	br := q.db.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("%s: %w", what, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

const markUserStarsChecked = `
UPDATE user_stars SET last_checked_at = $2
WHERE user_id = $1 AND last_checked_at < $2`

func (q *Queries) MarkUserStarsChecked(ctx context.Context, userID string, at time.Time) error {
	if _, err := q.db.Exec(ctx, markUserStarsChecked, userID, at); err != nil {
		return fmt.Errorf("marking stars checked: %w", err)
	}
	return nil
}

const getAccessToken = `
SELECT access_token FROM accounts WHERE user_id = $1`

func (q *Queries) GetAccessToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := q.db.QueryRow(ctx, getAccessToken, userID).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && token == "") {
		return "", database.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}
	return token, nil
}

const upsertAccount = `
INSERT INTO accounts (user_id, login, access_token, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE SET
    login        = EXCLUDED.login,
    access_token = EXCLUDED.access_token,
    updated_at   = EXCLUDED.updated_at`

func (q *Queries) UpsertAccount(ctx context.Context, account model.Account) error {
	updatedAt := account.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = q.now()
	}
	if _, err := q.db.Exec(ctx, upsertAccount, account.UserID, account.Login, account.AccessToken, updatedAt); err != nil {
		return fmt.Errorf("upserting account: %w", err)
	}
	return nil
}

const listAccounts = `
SELECT user_id, login, access_token, updated_at FROM accounts ORDER BY user_id`

func (q *Queries) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := q.db.Query(ctx, listAccounts)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.UserID, &a.Login, &a.AccessToken, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var _ database.Querier = (*Queries)(nil)
