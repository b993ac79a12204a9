package sse

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-star-sync/internal/model"
)

func TestServe_WritesFramesAndHeaders(t *testing.T) {
	events := make(chan model.Event, 4)
	events <- model.ConnectedEvent("u1", "s1", at)
	events <- record(1)
	events <- record(2)
	events <- model.CompleteEvent(2, at)
	close(events)

	rec := httptest.NewRecorder()
	err := Serve(context.Background(), rec, frameID(1, at.Add(-time.Minute)), events, 0, discardLogger())

	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.True(t, rec.Flushed)

	frames := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, "connected", frames[0].event)
	assert.Equal(t, "1.1717243140000", frames[0].id, "frames before the marker keep the incoming id")
	assert.Equal(t, "2.1717243200000", frames[1].id, "record 1 was already delivered")
	assert.Equal(t, "complete", frames[2].event)
}

func TestServe_ResumedIDsStayOnTheMarker(t *testing.T) {
	lastEventID := frameID(5, at.Add(-time.Minute))
	events := make(chan model.Event, 6)
	events <- model.ConnectedEvent("u1", "s2", at)
	events <- model.TotalEvent(7)
	events <- fetchedRecord(99, at.Add(-30*time.Second))
	events <- record(6)
	events <- record(5)
	events <- record(4)
	close(events)

	rec := httptest.NewRecorder()
	require.NoError(t, Serve(context.Background(), rec, lastEventID, events, 0, discardLogger()))

	frames := parseFrames(t, rec.Body.String())
	require.Len(t, frames, 4)
	assert.Equal(t, []string{lastEventID, lastEventID, lastEventID}, []string{frames[0].id, frames[1].id, frames[2].id},
		"a client dropping before the marker resumes from the same place")
	assert.Equal(t, "repo", frames[2].event)
	assert.Contains(t, frames[2].data, `"id":99,`)
	assert.Equal(t, "4.1717243200000", frames[3].id)
}

func TestServe_Heartbeat(t *testing.T) {
	events := make(chan model.Event)
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() { done <- Serve(context.Background(), rec, "", events, 5*time.Millisecond, discardLogger()) }()
	time.Sleep(30 * time.Millisecond)
	close(events)

	require.NoError(t, <-done)
	assert.True(t, strings.HasPrefix(rec.Body.String(), ": ping\n\n"))
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan model.Event)
	cancel()

	err := Serve(ctx, httptest.NewRecorder(), "", events, 0, discardLogger())

	assert.ErrorIs(t, err, context.Canceled)
}
