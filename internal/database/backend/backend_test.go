package backend

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-star-sync/internal/database/memory"
	"github-star-sync/internal/database/sqlite"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, err := Open(ctx, MemoryScheme, discard(), Options{})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &memory.Store{}, store)
	})

	t.Run("sqlite", func(t *testing.T) {
		store, err := Open(ctx, sqlite.Scheme+filepath.Join(t.TempDir(), "stars.db"), discard(), Options{})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &sqlite.Store{}, store)
	})

	t.Run("unknown scheme hides credentials", func(t *testing.T) {
		_, err := Open(ctx, "mysql://root:hunter2@db/stars", discard(), Options{})
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "hunter2")
	})
}
