// Package sqlite implements database.Store on SQLite using the pure Go
// modernc.org/sqlite driver. Timestamps are stored as Unix milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // SQLite driver

	"github-star-sync/internal/database"
	"github-star-sync/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Scheme is the DB_URL prefix selecting this backend.
const Scheme = "sqlite://"

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs the statements of database.Querier against a DBTX.
type Queries struct {
	db  DBTX
	now func() time.Time
}

// Store is the database/sql backed database.Store.
type Store struct {
	*Queries
	db *sql.DB
}

// Open opens the database named by dbURL ("sqlite://path") and applies migrations.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	path := strings.TrimPrefix(dbURL, Scheme)
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serialises writers and keeps :memory: databases intact.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{Queries: &Queries{db: db, now: time.Now}, db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	defer src.Close()

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return err
	}
	// m.Close would close db, which the store still owns.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// InTx runs fn inside a single transaction and commits when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(q database.Querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Rollback is a no-op if the transaction is already committed.

	if err := fn(&Queries{db: tx, now: s.now}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	_ = s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func (q *Queries) GetMostRecentStarredAt(ctx context.Context, userID string) (*time.Time, error) {
	var latest sql.NullInt64
	err := q.db.QueryRowContext(ctx,
		`SELECT max(starred_at) FROM user_stars WHERE user_id = ?`, userID).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("querying most recent star: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	t := fromMillis(latest.Int64)
	return &t, nil
}

func (q *Queries) GetUserStarsCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT count(*) FROM user_stars WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting stars: %w", err)
	}
	return n, nil
}

func (q *Queries) GetUserStars(ctx context.Context, userID string, limit, offset int) ([]model.StarredRepo, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.owner, r.full_name, r.description, r.star_count, r.language,
		       r.topics, r.repo_created_at, r.pushed_at, r.last_fetched_at, us.starred_at
		FROM user_stars us
		JOIN repositories r ON r.id = us.repo_id
		WHERE us.user_id = ?
		ORDER BY us.starred_at DESC, r.id ASC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing stars: %w", err)
	}
	defer rows.Close()

	var out []model.StarredRepo
	for rows.Next() {
		var (
			s                               model.StarredRepo
			description, language           sql.NullString
			topics                          string
			createdAt, fetchedAt, starredAt int64
			pushedAt                        sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Owner, &s.FullName, &description, &s.StarCount, &language,
			&topics, &createdAt, &pushedAt, &fetchedAt, &starredAt); err != nil {
			return nil, fmt.Errorf("scanning star: %w", err)
		}
		if description.Valid {
			s.Description = &description.String
		}
		if language.Valid {
			s.Language = &language.String
		}
		if err := json.Unmarshal([]byte(topics), &s.Topics); err != nil {
			return nil, fmt.Errorf("decoding topics of repo %d: %w", s.ID, err)
		}
		s.RepoCreatedAt = fromMillis(createdAt)
		if pushedAt.Valid {
			t := fromMillis(pushedAt.Int64)
			s.PushedAt = &t
		}
		s.LastFetchedAt = fromMillis(fetchedAt)
		s.StarredAt = fromMillis(starredAt)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing stars: %w", err)
	}
	return out, nil
}

func (q *Queries) IsUserStarsStale(ctx context.Context, userID string, window time.Duration) (bool, error) {
	var latest sql.NullInt64
	err := q.db.QueryRowContext(ctx,
		`SELECT max(last_checked_at) FROM user_stars WHERE user_id = ?`, userID).Scan(&latest)
	if err != nil {
		return false, fmt.Errorf("checking staleness: %w", err)
	}
	if !latest.Valid {
		return true, nil
	}
	return latest.Int64 < toMillis(database.StaleBefore(q.now(), window)), nil
}

func (q *Queries) BatchUpsertRepos(ctx context.Context, repos []model.Repository) error {
	for _, r := range repos {
		topics := r.Topics
		if topics == nil {
			topics = []string{}
		}
		encoded, err := json.Marshal(topics)
		if err != nil {
			return fmt.Errorf("encoding topics of repo %d: %w", r.ID, err)
		}
		var pushedAt sql.NullInt64
		if r.PushedAt != nil {
			pushedAt = sql.NullInt64{Int64: toMillis(*r.PushedAt), Valid: true}
		}
		_, err = q.db.ExecContext(ctx, `
			INSERT INTO repositories (id, name, owner, full_name, description, star_count, language,
			                          topics, repo_created_at, pushed_at, last_fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
			    name            = excluded.name,
			    owner           = excluded.owner,
			    full_name       = excluded.full_name,
			    description     = excluded.description,
			    star_count      = excluded.star_count,
			    language        = excluded.language,
			    topics          = excluded.topics,
			    repo_created_at = excluded.repo_created_at,
			    pushed_at       = excluded.pushed_at,
			    last_fetched_at = max(repositories.last_fetched_at, excluded.last_fetched_at)`,
			r.ID, r.Name, r.Owner, r.FullName, nullString(r.Description), r.StarCount, nullString(r.Language),
			string(encoded), toMillis(r.RepoCreatedAt), pushedAt, toMillis(r.LastFetchedAt))
		if err != nil {
			return fmt.Errorf("upserting repository %d: %w", r.ID, err)
		}
	}
	return nil
}

func (q *Queries) BatchUpsertUserStars(ctx context.Context, stars []model.UserStar) error {
	for _, s := range stars {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO user_stars (user_id, repo_id, starred_at, last_checked_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, repo_id) DO UPDATE SET
			    starred_at      = excluded.starred_at,
			    last_checked_at = max(user_stars.last_checked_at, excluded.last_checked_at)`,
			s.UserID, s.RepoID, toMillis(s.StarredAt), toMillis(s.LastCheckedAt))
		if err != nil {
			return fmt.Errorf("upserting user star %d: %w", s.RepoID, err)
		}
	}
	return nil
}

func (q *Queries) MarkUserStarsChecked(ctx context.Context, userID string, at time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE user_stars SET last_checked_at = ? WHERE user_id = ? AND last_checked_at < ?`,
		toMillis(at), userID, toMillis(at))
	if err != nil {
		return fmt.Errorf("marking stars checked: %w", err)
	}
	return nil
}

func (q *Queries) GetAccessToken(ctx context.Context, userID string) (string, error) {
	var token string
	err := q.db.QueryRowContext(ctx,
		`SELECT access_token FROM accounts WHERE user_id = ?`, userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && token == "") {
		return "", database.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}
	return token, nil
}

func (q *Queries) UpsertAccount(ctx context.Context, account model.Account) error {
	updatedAt := account.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = q.now()
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, login, access_token, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
		    login        = excluded.login,
		    access_token = excluded.access_token,
		    updated_at   = excluded.updated_at`,
		account.UserID, account.Login, account.AccessToken, toMillis(updatedAt))
	if err != nil {
		return fmt.Errorf("upserting account: %w", err)
	}
	return nil
}

func (q *Queries) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT user_id, login, access_token, updated_at FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var (
			a         model.Account
			updatedAt int64
		)
		if err := rows.Scan(&a.UserID, &a.Login, &a.AccessToken, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		a.UpdatedAt = fromMillis(updatedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

var _ database.Store = (*Store)(nil)
