package device

import (
	"context"
	"errors"
)

// Transport carries one request/response report pair to the firmware.
// Implementations are not required to be safe for concurrent use; the
// Channel serializes access.
type Transport interface {
	// Exchange sends req and waits for the matching response. It
	// honors ctx cancellation and deadline where the underlying
	// medium allows.
	Exchange(ctx context.Context, req Report) (Report, error)

	// Close releases the underlying handle. The transport is
	// unusable afterwards.
	Close() error
}

// ErrNotConnected is returned by channel operations when no device is
// attached.
var ErrNotConnected = errors.New("device: not connected")

// ErrDeviceGone is returned by transports when the device disappeared
// mid-exchange, typically an unplug.
var ErrDeviceGone = errors.New("device: device gone")
