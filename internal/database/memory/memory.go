// Package memory is an in-process database.Store used by tests and by DB_URL=memory://.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github-star-sync/internal/database"
	"github-star-sync/internal/model"
)

type starKey struct {
	userID string
	repoID int64
}

type state struct {
	repos    map[int64]model.Repository
	stars    map[starKey]model.UserStar
	accounts map[string]model.Account
}

func newState() *state {
	return &state{
		repos:    make(map[int64]model.Repository),
		stars:    make(map[starKey]model.UserStar),
		accounts: make(map[string]model.Account),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.repos {
		c.repos[k] = v
	}
	for k, v := range s.stars {
		c.stars[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	return c
}

// Store keeps everything in maps. InTx stages writes on a copy and swaps it
// in on success, so a failed transaction leaves no trace. Direct writes take
// txMu as well so they cannot be lost to a concurrent swap.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	st   *state
	now  func() time.Time
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// SetClock overrides the clock used for staleness checks.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) Close() {}

func (s *Store) InTx(ctx context.Context, fn func(q database.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	staged := &Store{st: s.st.clone(), now: s.now}
	s.mu.RUnlock()

	if err := fn(staged); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = staged.st
	s.mu.Unlock()
	return nil
}

func (s *Store) GetMostRecentStarredAt(_ context.Context, userID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *time.Time
	for k, star := range s.st.stars {
		if k.userID != userID {
			continue
		}
		if latest == nil || star.StarredAt.After(*latest) {
			t := star.StarredAt
			latest = &t
		}
	}
	return latest, nil
}

func (s *Store) GetUserStarsCount(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for k := range s.st.stars {
		if k.userID == userID {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetUserStars(_ context.Context, userID string, limit, offset int) ([]model.StarredRepo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []model.StarredRepo
	for k, star := range s.st.stars {
		if k.userID != userID {
			continue
		}
		repo, ok := s.st.repos[k.repoID]
		if !ok {
			continue
		}
		all = append(all, model.StarredRepo{Repository: repo, StarredAt: star.StarredAt})
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].StarredAt.Equal(all[j].StarredAt) {
			return all[i].StarredAt.After(all[j].StarredAt)
		}
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *Store) IsUserStarsStale(_ context.Context, userID string, window time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	found := false
	for k, star := range s.st.stars {
		if k.userID != userID {
			continue
		}
		found = true
		if star.LastCheckedAt.After(latest) {
			latest = star.LastCheckedAt
		}
	}
	if !found {
		return true, nil
	}
	return latest.Before(database.StaleBefore(s.now(), window)), nil
}

func (s *Store) BatchUpsertRepos(_ context.Context, repos []model.Repository) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range repos {
		if existing, ok := s.st.repos[r.ID]; ok && existing.LastFetchedAt.After(r.LastFetchedAt) {
			r.LastFetchedAt = existing.LastFetchedAt
		}
		r.Topics = append([]string(nil), r.Topics...)
		s.st.repos[r.ID] = r
	}
	return nil
}

func (s *Store) BatchUpsertUserStars(_ context.Context, stars []model.UserStar) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, us := range stars {
		k := starKey{userID: us.UserID, repoID: us.RepoID}
		if existing, ok := s.st.stars[k]; ok && existing.LastCheckedAt.After(us.LastCheckedAt) {
			us.LastCheckedAt = existing.LastCheckedAt
		}
		s.st.stars[k] = us
	}
	return nil
}

func (s *Store) MarkUserStarsChecked(_ context.Context, userID string, at time.Time) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, star := range s.st.stars {
		if k.userID == userID && at.After(star.LastCheckedAt) {
			star.LastCheckedAt = at
			s.st.stars[k] = star
		}
	}
	return nil
}

func (s *Store) GetAccessToken(_ context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.st.accounts[userID]
	if !ok || acc.AccessToken == "" {
		return "", database.ErrNotFound
	}
	return acc.AccessToken, nil
}

func (s *Store) UpsertAccount(_ context.Context, account model.Account) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = s.now()
	}
	s.st.accounts[account.UserID] = account
	return nil
}

func (s *Store) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Account, 0, len(s.st.accounts))
	for _, acc := range s.st.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Repo returns the stored repository, for assertions in tests.
func (s *Store) Repo(id int64) (model.Repository, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.st.repos[id]
	return r, ok
}

// Star returns the stored user star, for assertions in tests.
func (s *Store) Star(userID string, repoID int64) (model.UserStar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	us, ok := s.st.stars[starKey{userID: userID, repoID: repoID}]
	return us, ok
}

var _ database.Store = (*Store)(nil)
