// internal/syncer/syncer_test.go
package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	custom_errors "github-star-sync/internal/errors"
	"github-star-sync/internal/model"
)

// MockStarSyncer is a mock of the StarSyncer interface.
type MockStarSyncer struct {
	mock.Mock
}

func (m *MockStarSyncer) Sync(ctx context.Context, req Request) (int, error) {
	args := m.Called(ctx, req)
	return args.Int(0), args.Error(1)
}

func TestNewSyncer_RequiresInterval(t *testing.T) {
	_, err := NewSyncer(new(MockQuerier), new(MockStarSyncer), testLogger(), 0)

	var cfgErr *custom_errors.ErrInvalidConfig
	assert.ErrorAs(t, err, &cfgErr)
}

func TestSyncer_RunSyncCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("refreshes every account with a token", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("ListAccounts", mock.Anything).Return([]model.Account{
			{UserID: "u1", Login: "a", AccessToken: "t1"},
			{UserID: "u2", Login: "b", AccessToken: ""},
			{UserID: "u3", Login: "c", AccessToken: "t3"},
		}, nil).Once()

		mockSync := new(MockStarSyncer)
		mockSync.On("Sync", mock.Anything, Request{UserID: "u1", AccessToken: "t1", LiveOnly: true}).Return(10, nil).Once()
		mockSync.On("Sync", mock.Anything, Request{UserID: "u3", AccessToken: "t3", LiveOnly: true}).
			Return(0, &custom_errors.RateLimitError{RetryAfterSeconds: 30}).Once()

		s, err := NewSyncer(mockQ, mockSync, testLogger(), time.Minute)
		require.NoError(t, err)
		s.runSyncCycle(ctx)

		mockQ.AssertExpectations(t)
		mockSync.AssertExpectations(t)
		mockSync.AssertNumberOfCalls(t, "Sync", 2)
	})

	t.Run("a failing account does not stop the others", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("ListAccounts", mock.Anything).Return([]model.Account{
			{UserID: "u1", AccessToken: "t1"},
			{UserID: "u2", AccessToken: "t2"},
		}, nil).Once()

		mockSync := new(MockStarSyncer)
		mockSync.On("Sync", mock.Anything, mock.MatchedBy(func(r Request) bool { return r.UserID == "u1" })).
			Return(0, errors.New("boom")).Once()
		mockSync.On("Sync", mock.Anything, mock.MatchedBy(func(r Request) bool { return r.UserID == "u2" })).
			Return(3, nil).Once()

		s, err := NewSyncer(mockQ, mockSync, testLogger(), time.Minute)
		require.NoError(t, err)
		s.runSyncCycle(ctx)

		mockSync.AssertExpectations(t)
	})

	t.Run("listing failure skips the cycle", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("ListAccounts", mock.Anything).Return([]model.Account(nil), errors.New("db down")).Once()
		mockSync := new(MockStarSyncer)

		s, err := NewSyncer(mockQ, mockSync, testLogger(), time.Minute)
		require.NoError(t, err)
		s.runSyncCycle(ctx)

		mockSync.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
	})
}

func TestSyncer_StartStopsOnCancel(t *testing.T) {
	mockQ := new(MockQuerier)
	mockQ.On("ListAccounts", mock.Anything).Return([]model.Account{}, nil)

	s, err := NewSyncer(mockQ, new(MockStarSyncer), testLogger(), time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("syncer did not stop")
	}
}

func TestSyncer_WithPipeline(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	require.NoError(t, store.UpsertAccount(ctx, model.Account{UserID: "u1", Login: "octo", AccessToken: "tok"}))
	upstream := &fakeUpstream{stars: makeStars(25, 1)}
	p := newTestPipeline(t, store, upstream, testOptions())

	s, err := NewSyncer(store, p, testLogger(), time.Minute)
	require.NoError(t, err)
	s.runSyncCycle(ctx)

	n, err := store.GetUserStarsCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 25, n)
}
