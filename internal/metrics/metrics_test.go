package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NilRegistererIsNoop(t *testing.T) {
	m, err := New(nil)
	require.NoError(t, err)
	assert.Nil(t, m)

	// None of these may panic.
	m.PageFetched("ok")
	m.RecordsStored(3)
	m.RecordSent("live")
	m.SyncFinished("complete", time.Second)
	m.StreamOpened()
	m.StreamClosed()
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.PageFetched("ok")
	m.PageFetched("ok")
	m.PageFetched("rate_limit")
	m.RecordsStored(50)
	m.RecordSent("cache")
	m.SyncFinished("complete", 2*time.Second)
	m.StreamOpened()
	m.StreamOpened()
	m.StreamClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pagesFetched.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pagesFetched.WithLabelValues("rate_limit")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.recordsStored))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordsSent.WithLabelValues("cache")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncs.WithLabelValues("complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeStreams))

	_, err = New(reg)
	assert.Error(t, err, "registering twice fails")
}
