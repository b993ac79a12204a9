// internal/syncer/fakes_test.go
package syncer

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github-star-sync/internal/database"
	"github-star-sync/internal/database/memory"
	custom_errors "github-star-sync/internal/errors"
	"github-star-sync/internal/github"
	"github-star-sync/internal/model"
)

var testBase = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// makeStars returns n stars ordered newest first, ids starting at firstID.
func makeStars(n int, firstID int64) []model.StarredRepo {
	stars := make([]model.StarredRepo, n)
	for i := range stars {
		id := firstID + int64(i)
		stars[i] = model.StarredRepo{
			Repository: model.Repository{
				ID:            id,
				Name:          "repo",
				Owner:         "octo",
				FullName:      "octo/repo",
				StarCount:     int(id),
				Topics:        []string{"t"},
				RepoCreatedAt: testBase.Add(-365 * 24 * time.Hour),
			},
			StarredAt: testBase.Add(-time.Duration(i) * time.Minute),
		}
	}
	return stars
}

// fakeUpstream serves a fixed list of stars page by page and records every request.
type fakeUpstream struct {
	mu       sync.Mutex
	stars    []model.StarredRepo
	linkLast bool
	errAt    map[int]error
	delay    time.Duration
	requests []int
	// hold, when set for a page, blocks that page until the channel is closed.
	hold map[int]chan struct{}
}

func (f *fakeUpstream) FetchPage(ctx context.Context, _ string, page, perPage int) (*github.PageResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, page)
	err := f.errAt[page]
	hold := f.hold[page]
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, &custom_errors.RequestError{Cause: ctx.Err()}
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, &custom_errors.RequestError{Cause: ctx.Err()}
		}
	}
	if ctx.Err() != nil {
		return nil, &custom_errors.RequestError{Cause: ctx.Err()}
	}
	if err != nil {
		return nil, err
	}

	start := (page - 1) * perPage
	end := start + perPage
	if start > len(f.stars) {
		start = len(f.stars)
	}
	if end > len(f.stars) {
		end = len(f.stars)
	}
	res := &github.PageResult{Items: append([]model.StarredRepo(nil), f.stars[start:end]...)}

	lastPage := (len(f.stars) + perPage - 1) / perPage
	if page > 1 {
		res.PrevPage = page - 1
	}
	// GitHub omits next/last on the final page.
	if f.linkLast && page < lastPage {
		res.NextPage = page + 1
		res.LastPage = lastPage
	}
	return res, nil
}

func (f *fakeUpstream) requested() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]int(nil), f.requests...)
	sort.Ints(out)
	return out
}

// countingStore counts per-repo upserts and can fail them.
type countingStore struct {
	*memory.Store
	mu         sync.Mutex
	upserts    map[int64]int
	failUpsert error
}

func newCountingStore() *countingStore {
	return &countingStore{Store: memory.New(), upserts: map[int64]int{}}
}

func (s *countingStore) InTx(ctx context.Context, fn func(q database.Querier) error) error {
	return s.Store.InTx(ctx, func(q database.Querier) error {
		return fn(&countingQuerier{Querier: q, parent: s})
	})
}

func (s *countingStore) upsertCount(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts[id]
}

type countingQuerier struct {
	database.Querier
	parent *countingStore
}

func (q *countingQuerier) BatchUpsertRepos(ctx context.Context, repos []model.Repository) error {
	q.parent.mu.Lock()
	fail := q.parent.failUpsert
	if fail == nil {
		for _, r := range repos {
			q.parent.upserts[r.ID]++
		}
	}
	q.parent.mu.Unlock()
	if fail != nil {
		return fail
	}
	return q.Querier.BatchUpsertRepos(ctx, repos)
}

// seedStars stores stars for userID as if a previous sync had run at checkedAt.
func seedStars(t *testing.T, store database.Store, userID string, stars []model.StarredRepo, checkedAt time.Time) {
	t.Helper()
	ctx := context.Background()
	repos := make([]model.Repository, len(stars))
	userStars := make([]model.UserStar, len(stars))
	for i, s := range stars {
		repos[i] = s.Repository
		repos[i].LastFetchedAt = checkedAt
		userStars[i] = model.UserStar{UserID: userID, RepoID: s.ID, StarredAt: s.StarredAt, LastCheckedAt: checkedAt}
	}
	require.NoError(t, store.BatchUpsertRepos(ctx, repos))
	require.NoError(t, store.BatchUpsertUserStars(ctx, userStars))
}

// collect reads every event until the stream closes.
func collect(t *testing.T, events <-chan model.Event) []model.Event {
	t.Helper()
	var out []model.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
			return nil
		}
	}
}

func ofType(events []model.Event, typ model.EventType) []model.Event {
	var out []model.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func recordsFrom(events []model.Event, src model.Source) []model.StarredRepo {
	var out []model.StarredRepo
	for _, ev := range events {
		if ev.Type == model.EventRecord && ev.Source == src {
			out = append(out, *ev.Record)
		}
	}
	return out
}

// MockQuerier is a mock of the database.Querier interface.
type MockQuerier struct {
	mock.Mock
}

func (m *MockQuerier) GetMostRecentStarredAt(ctx context.Context, userID string) (*time.Time, error) {
	args := m.Called(ctx, userID)
	t, _ := args.Get(0).(*time.Time)
	return t, args.Error(1)
}
func (m *MockQuerier) GetUserStarsCount(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}
func (m *MockQuerier) GetUserStars(ctx context.Context, userID string, limit, offset int) ([]model.StarredRepo, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]model.StarredRepo), args.Error(1)
}
func (m *MockQuerier) IsUserStarsStale(ctx context.Context, userID string, window time.Duration) (bool, error) {
	args := m.Called(ctx, userID, window)
	return args.Bool(0), args.Error(1)
}
func (m *MockQuerier) BatchUpsertRepos(ctx context.Context, repos []model.Repository) error {
	return m.Called(ctx, repos).Error(0)
}
func (m *MockQuerier) BatchUpsertUserStars(ctx context.Context, stars []model.UserStar) error {
	return m.Called(ctx, stars).Error(0)
}
func (m *MockQuerier) MarkUserStarsChecked(ctx context.Context, userID string, at time.Time) error {
	return m.Called(ctx, userID, at).Error(0)
}
func (m *MockQuerier) GetAccessToken(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}
func (m *MockQuerier) UpsertAccount(ctx context.Context, account model.Account) error {
	return m.Called(ctx, account).Error(0)
}
func (m *MockQuerier) ListAccounts(ctx context.Context) ([]model.Account, error) {
	args := m.Called(ctx)
	return args.Get(0).([]model.Account), args.Error(1)
}

var _ database.Querier = (*MockQuerier)(nil)
