package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeymapdMetricsRoundTrip(t *testing.T) {
	reg := NewRegistry("keymapd")
	m := NewKeymapdMetrics(reg)

	m.RecordDeviceWrite()
	m.RecordDeviceWrite()
	m.RecordCommit(10*time.Millisecond, true)
	m.RecordCommit(10*time.Millisecond, false)
	m.SetPendingChanges(3)
	m.SetDeviceConnected(true)

	assert.Equal(t, int64(2), m.DeviceWritesTotal.Value())
	assert.Equal(t, int64(2), m.CommitsTotal.Value())
	assert.Equal(t, int64(1), m.CommitsFailedTotal.Value())
	assert.Equal(t, int64(3), m.PendingChanges.Value())
	assert.Equal(t, int64(1), m.DeviceConnected.Value())

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap["device_writes_total"])
	assert.Equal(t, int64(3), snap["pending_changes"])
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := NewRegistry("keymapd")

	a := reg.RegisterCounter("commits_total", "commits")
	b := reg.RegisterCounter("commits_total", "commits")
	require.Same(t, a, b)

	a.Inc()
	assert.Equal(t, int64(1), b.Value())
}

func TestPrometheusExposition(t *testing.T) {
	reg := NewRegistry("keymapd")
	m := NewKeymapdMetrics(reg)
	m.RecordQueued()
	m.SetPendingChanges(1)

	var sb strings.Builder
	require.NoError(t, reg.WritePrometheus(&sb))
	out := sb.String()

	assert.Contains(t, out, "keymapd_changes_queued_total 1")
	assert.Contains(t, out, "keymapd_pending_changes 1")
	assert.Contains(t, out, "# TYPE keymapd_pending_changes gauge")
}

func TestHistogramBucketsAreCumulative(t *testing.T) {
	reg := NewRegistry("keymapd")
	h := reg.RegisterHistogram("commit_duration_seconds", "commit drains",
		[]float64{0.01, 0.1, 1})

	h.Observe(0.005) // first bucket
	h.Observe(0.05)  // second
	h.Observe(0.05)  // second
	h.Observe(5)     // past the last bound

	assert.Equal(t, int64(4), h.Count())
	assert.InDelta(t, 5.105, h.Sum(), 1e-9)
	assert.InDelta(t, 5.105/4, h.Mean(), 1e-9)

	var sb strings.Builder
	require.NoError(t, reg.WritePrometheus(&sb))
	out := sb.String()

	assert.Contains(t, out, `keymapd_commit_duration_seconds_bucket{le="0.01"} 1`)
	assert.Contains(t, out, `keymapd_commit_duration_seconds_bucket{le="0.1"} 3`)
	assert.Contains(t, out, `keymapd_commit_duration_seconds_bucket{le="1"} 3`)
	assert.Contains(t, out, `keymapd_commit_duration_seconds_bucket{le="+Inf"} 4`)
	assert.Contains(t, out, "keymapd_commit_duration_seconds_count 4")
}

func TestExpositionIsStable(t *testing.T) {
	reg := NewRegistry("keymapd")
	NewKeymapdMetrics(reg)

	var a, b strings.Builder
	require.NoError(t, reg.WritePrometheus(&a))
	require.NoError(t, reg.WritePrometheus(&b))
	assert.Equal(t, a.String(), b.String())
}
