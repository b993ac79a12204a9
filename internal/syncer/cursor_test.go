// internal/syncer/cursor_test.go
package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "github-star-sync/internal/errors"
)

func TestLoadCursor(t *testing.T) {
	ctx := context.Background()
	window := time.Minute

	t.Run("fresh data needs no cursor", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("IsUserStarsStale", ctx, "u1", window).Return(false, nil).Once()

		cursor, err := LoadCursor(ctx, mockQ, "u1", window)

		require.NoError(t, err)
		assert.False(t, cursor.Stale)
		mockQ.AssertExpectations(t)
		mockQ.AssertNotCalled(t, "GetMostRecentStarredAt")
	})

	t.Run("stale data carries the most recent star", func(t *testing.T) {
		latest := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		mockQ := new(MockQuerier)
		mockQ.On("IsUserStarsStale", ctx, "u1", window).Return(true, nil).Once()
		mockQ.On("GetMostRecentStarredAt", ctx, "u1").Return(&latest, nil).Once()

		cursor, err := LoadCursor(ctx, mockQ, "u1", window)

		require.NoError(t, err)
		assert.True(t, cursor.Stale)
		require.NotNil(t, cursor.Since)
		assert.True(t, cursor.Since.Equal(latest))
		mockQ.AssertExpectations(t)
	})

	t.Run("first sync has a null cursor", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("IsUserStarsStale", ctx, "u1", window).Return(true, nil).Once()
		mockQ.On("GetMostRecentStarredAt", ctx, "u1").Return(nil, nil).Once()

		cursor, err := LoadCursor(ctx, mockQ, "u1", window)

		require.NoError(t, err)
		assert.True(t, cursor.Stale)
		assert.Nil(t, cursor.Since)
	})

	t.Run("storage failures are wrapped", func(t *testing.T) {
		dbError := errors.New("connection reset")
		mockQ := new(MockQuerier)
		mockQ.On("IsUserStarsStale", ctx, "u1", window).Return(false, dbError).Once()

		_, err := LoadCursor(ctx, mockQ, "u1", window)

		var storageErr *custom_errors.StorageError
		require.ErrorAs(t, err, &storageErr)
		assert.Equal(t, "is_user_stars_stale", storageErr.Op)
		assert.ErrorIs(t, err, dbError)
	})
}
