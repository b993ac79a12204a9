package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupe(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	records := []StarredRepo{
		{Repository: Repository{ID: 1, StarCount: 10}, StarredAt: older},
		{Repository: Repository{ID: 2, StarCount: 5}, StarredAt: older},
		{Repository: Repository{ID: 1, StarCount: 11}, StarredAt: newer},
	}

	got := Dedupe(records)

	assert.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, 11, got[0].StarCount, "latest occurrence should win")
	assert.Equal(t, newer, got[0].StarredAt)
	assert.Equal(t, int64(2), got[1].ID)
}

func TestEvent_Terminal(t *testing.T) {
	assert.True(t, CompleteEvent(0, time.Now()).Terminal())
	assert.True(t, ErrorEvent(assert.AnError).Terminal())
	assert.False(t, TotalEvent(3).Terminal())
	assert.False(t, RecordEvent(StarredRepo{}, SourceLive).Terminal())
}
