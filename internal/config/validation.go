package config

import (
	"fmt"
	"strings"
)

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors accumulates every problem found in one pass so the
// user can fix the whole file at once.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d configuration error(s):\n  %s", len(e), strings.Join(msgs, "\n  "))
}

// Validate checks the configuration for errors. It returns
// ValidationErrors listing every invalid field, or nil.
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, validateDevice(&c.Device)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateIPC(&c.IPC)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if c.WAL.Enabled && c.WAL.Path == "" {
		errs = append(errs, &ValidationError{
			Field: "wal.path", Value: "", Message: "must be set when wal is enabled",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDevice(d *DeviceConfig) ValidationErrors {
	var errs ValidationErrors

	if _, _, err := ParseUSBID(d.VendorID); err != nil {
		errs = append(errs, &ValidationError{
			Field: "device.vendor_id", Value: d.VendorID, Message: "must be a 16-bit hex ID",
		})
	}
	if _, _, err := ParseUSBID(d.ProductID); err != nil {
		errs = append(errs, &ValidationError{
			Field: "device.product_id", Value: d.ProductID, Message: "must be a 16-bit hex ID",
		})
	}
	if d.ExchangeTimeoutMs <= 0 {
		errs = append(errs, &ValidationError{
			Field: "device.exchange_timeout_ms", Value: d.ExchangeTimeoutMs, Message: "must be positive",
		})
	}
	if d.RetryAttempts < 0 {
		errs = append(errs, &ValidationError{
			Field: "device.retry_attempts", Value: d.RetryAttempts, Message: "must not be negative",
		})
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Path == "" {
		errs = append(errs, &ValidationError{
			Field: "storage.path", Value: "", Message: "must be set",
		})
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, &ValidationError{
			Field: "storage.busy_timeout_ms", Value: s.BusyTimeoutMs, Message: "must not be negative",
		})
	}

	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if i.SocketPath == "" {
		errs = append(errs, &ValidationError{
			Field: "ipc.socket_path", Value: "", Message: "must be set",
		})
	}
	if i.RequestTimeoutSec <= 0 {
		errs = append(errs, &ValidationError{
			Field: "ipc.request_timeout_sec", Value: i.RequestTimeoutSec, Message: "must be positive",
		})
	}
	if i.MaxConnections <= 0 {
		errs = append(errs, &ValidationError{
			Field: "ipc.max_connections", Value: i.MaxConnections, Message: "must be positive",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, &ValidationError{
			Field: "logging.level", Value: l.Level, Message: "must be debug, info, warn, or error",
		})
	}

	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		errs = append(errs, &ValidationError{
			Field: "logging.format", Value: l.Format, Message: "must be text or json",
		})
	}

	switch strings.ToLower(l.Output) {
	case "stdout", "stderr", "file", "both":
	default:
		errs = append(errs, &ValidationError{
			Field: "logging.output", Value: l.Output, Message: "must be stdout, stderr, file, or both",
		})
	}

	if (l.Output == "file" || l.Output == "both") && l.FilePath == "" {
		errs = append(errs, &ValidationError{
			Field: "logging.file_path", Value: "", Message: "must be set for file output",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if m.Enabled && m.ListenAddr == "" {
		errs = append(errs, &ValidationError{
			Field: "metrics.listen_addr", Value: "", Message: "must be set when metrics are enabled",
		})
	}

	return errs
}
