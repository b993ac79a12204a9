// internal/syncer/batch_test.go
package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectWindows(t *testing.T, in <-chan int, size int, maxWait time.Duration) [][]int {
	t.Helper()
	out := make(chan []int, 16)
	err := window(context.Background(), in, out, size, maxWait)
	require.NoError(t, err)
	close(out)

	var got [][]int
	for b := range out {
		got = append(got, b)
	}
	return got
}

func TestWindow(t *testing.T) {
	t.Run("splits by size and flushes the remainder on close", func(t *testing.T) {
		in := make(chan int, 7)
		for i := 1; i <= 7; i++ {
			in <- i
		}
		close(in)

		got := collectWindows(t, in, 3, time.Hour)

		assert.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}, {7}}, got)
	})

	t.Run("flushes a partial window after max wait", func(t *testing.T) {
		in := make(chan int)
		out := make(chan []int, 4)
		done := make(chan error, 1)
		go func() { done <- window(context.Background(), in, out, 50, 20*time.Millisecond) }()

		in <- 1
		in <- 2
		select {
		case b := <-out:
			assert.Equal(t, []int{1, 2}, b)
		case <-time.After(time.Second):
			t.Fatal("partial window was not flushed")
		}

		close(in)
		require.NoError(t, <-done)
		assert.Empty(t, out)
	})

	t.Run("empty input yields nothing", func(t *testing.T) {
		in := make(chan int)
		close(in)
		assert.Empty(t, collectWindows(t, in, 3, time.Second))
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		in := make(chan int)
		out := make(chan []int)
		done := make(chan error, 1)
		go func() { done <- window(ctx, in, out, 1, time.Second) }()

		in <- 1 // out is never read, so the flush blocks until cancel
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})
}
