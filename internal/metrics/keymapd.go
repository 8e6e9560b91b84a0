package metrics

import (
	"time"
)

// KeymapdMetrics holds all keymapd-specific metrics.
type KeymapdMetrics struct {
	registry *Registry

	// Counters
	DeviceWritesTotal  *Counter
	DeviceErrorsTotal  *Counter
	CommitsTotal       *Counter
	CommitsFailedTotal *Counter
	RevertsTotal       *Counter
	ChangesQueuedTotal *Counter
	IPCRequestsTotal   *Counter
	IPCErrorsTotal     *Counter
	RecoveriesTotal    *Counter

	// Gauges
	PendingChanges  *Gauge
	DeviceConnected *Gauge
	ActiveSessions  *Gauge
	IPCConnections  *Gauge
	UptimeSeconds   *Gauge
	LastCommitTs    *Gauge

	// Histograms
	CommitDuration   *Histogram
	ExchangeDuration *Histogram
	IPCDuration      *Histogram
}

// startTime records when metrics were initialized.
var startTime = time.Now()

// NewKeymapdMetrics creates and registers all keymapd metrics.
func NewKeymapdMetrics(registry *Registry) *KeymapdMetrics {
	if registry == nil {
		registry = Default()
	}

	m := &KeymapdMetrics{
		registry: registry,

		// Counters
		DeviceWritesTotal: registry.RegisterCounter(
			"device_writes_total",
			"Total number of device cell writes attempted",
		),
		DeviceErrorsTotal: registry.RegisterCounter(
			"device_errors_total",
			"Total number of failed device exchanges",
		),
		CommitsTotal: registry.RegisterCounter(
			"commits_total",
			"Total number of commits drained to the device",
		),
		CommitsFailedTotal: registry.RegisterCounter(
			"commits_failed_total",
			"Total number of commits that stopped partway",
		),
		RevertsTotal: registry.RegisterCounter(
			"reverts_total",
			"Total number of revert operations",
		),
		ChangesQueuedTotal: registry.RegisterCounter(
			"changes_queued_total",
			"Total number of changes queued",
		),
		IPCRequestsTotal: registry.RegisterCounter(
			"ipc_requests_total",
			"Total number of IPC requests handled",
		),
		IPCErrorsTotal: registry.RegisterCounter(
			"ipc_errors_total",
			"Total number of IPC requests answered with an error",
		),
		RecoveriesTotal: registry.RegisterCounter(
			"recoveries_total",
			"Total number of startup intent-journal recoveries",
		),

		// Gauges
		PendingChanges: registry.RegisterGauge(
			"pending_changes",
			"Number of queued changes not yet committed",
		),
		DeviceConnected: registry.RegisterGauge(
			"device_connected",
			"Whether a device is attached (1) or not (0)",
		),
		ActiveSessions: registry.RegisterGauge(
			"active_sessions",
			"Number of live editing sessions",
		),
		IPCConnections: registry.RegisterGauge(
			"ipc_connections",
			"Number of connected IPC clients",
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Number of seconds the daemon has been running",
		),
		LastCommitTs: registry.RegisterGauge(
			"last_commit_timestamp",
			"Unix timestamp of the last successful commit",
		),

		// Histograms
		CommitDuration: registry.RegisterHistogram(
			"commit_duration_seconds",
			"Duration of commit drains in seconds",
			DurationBuckets,
		),
		ExchangeDuration: registry.RegisterHistogram(
			"exchange_duration_seconds",
			"Duration of one report exchange in seconds",
			[]float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		),
		IPCDuration: registry.RegisterHistogram(
			"ipc_request_duration_seconds",
			"Duration of IPC request handling in seconds",
			DurationBuckets,
		),
	}

	return m
}

// RecordDeviceWrite records one attempted device write.
func (m *KeymapdMetrics) RecordDeviceWrite() {
	m.DeviceWritesTotal.Inc()
}

// RecordDeviceError records a failed exchange.
func (m *KeymapdMetrics) RecordDeviceError() {
	m.DeviceErrorsTotal.Inc()
}

// RecordExchange records one report exchange.
func (m *KeymapdMetrics) RecordExchange(d time.Duration) {
	m.ExchangeDuration.ObserveDuration(d)
}

// RecordCommit records a commit drain.
func (m *KeymapdMetrics) RecordCommit(duration time.Duration, success bool) {
	m.CommitsTotal.Inc()
	m.CommitDuration.ObserveDuration(duration)
	if success {
		m.LastCommitTs.Set(time.Now().Unix())
	} else {
		m.CommitsFailedTotal.Inc()
	}
}

// RecordRevert records a revert operation.
func (m *KeymapdMetrics) RecordRevert() {
	m.RevertsTotal.Inc()
}

// RecordQueued records one queued change.
func (m *KeymapdMetrics) RecordQueued() {
	m.ChangesQueuedTotal.Inc()
}

// RecordRecovery records one startup intent-journal recovery.
func (m *KeymapdMetrics) RecordRecovery() {
	m.RecoveriesTotal.Inc()
}

// RecordIPCRequest records one handled IPC request.
func (m *KeymapdMetrics) RecordIPCRequest(duration time.Duration, success bool) {
	m.IPCRequestsTotal.Inc()
	m.IPCDuration.ObserveDuration(duration)
	if !success {
		m.IPCErrorsTotal.Inc()
	}
}

// SetPendingChanges sets the queued-change gauge.
func (m *KeymapdMetrics) SetPendingChanges(n int64) {
	m.PendingChanges.Set(n)
}

// SetDeviceConnected sets the device-attached gauge.
func (m *KeymapdMetrics) SetDeviceConnected(connected bool) {
	if connected {
		m.DeviceConnected.Set(1)
	} else {
		m.DeviceConnected.Set(0)
	}
}

// SetActiveSessions sets the live-session gauge.
func (m *KeymapdMetrics) SetActiveSessions(n int64) {
	m.ActiveSessions.Set(n)
}

// ClientConnected records an IPC client connecting.
func (m *KeymapdMetrics) ClientConnected() {
	m.IPCConnections.Inc()
}

// ClientDisconnected records an IPC client disconnecting.
func (m *KeymapdMetrics) ClientDisconnected() {
	m.IPCConnections.Dec()
}

// UpdateUptime updates the uptime metric.
func (m *KeymapdMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

// Snapshot returns a snapshot of key metrics.
func (m *KeymapdMetrics) Snapshot() map[string]interface{} {
	m.UpdateUptime()
	return map[string]interface{}{
		"device_writes_total":  m.DeviceWritesTotal.Value(),
		"device_errors_total":  m.DeviceErrorsTotal.Value(),
		"commits_total":        m.CommitsTotal.Value(),
		"commits_failed_total": m.CommitsFailedTotal.Value(),
		"reverts_total":        m.RevertsTotal.Value(),
		"changes_queued_total": m.ChangesQueuedTotal.Value(),
		"ipc_requests_total":   m.IPCRequestsTotal.Value(),
		"pending_changes":      m.PendingChanges.Value(),
		"device_connected":     m.DeviceConnected.Value(),
		"active_sessions":      m.ActiveSessions.Value(),
		"uptime_seconds":       m.UptimeSeconds.Value(),
		"commit_avg_seconds":   m.CommitDuration.Mean(),
	}
}

// Global keymapd metrics instance.
var defaultKeymapdMetrics *KeymapdMetrics

// GetMetrics returns the global keymapd metrics instance.
func GetMetrics() *KeymapdMetrics {
	if defaultKeymapdMetrics == nil {
		defaultKeymapdMetrics = NewKeymapdMetrics(Default())
	}
	return defaultKeymapdMetrics
}

// InitMetrics initializes the global keymapd metrics with a custom registry.
func InitMetrics(registry *Registry) *KeymapdMetrics {
	defaultKeymapdMetrics = NewKeymapdMetrics(registry)
	return defaultKeymapdMetrics
}
