//go:build linux

package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// HidrawTransport exchanges reports over a Linux /dev/hidrawX node.
// The node is opened nonblocking; reads are gated by poll so ctx
// deadlines hold.
type HidrawTransport struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// FindHidraw locates the hidraw node for the given vendor/product pair
// by walking /sys/class/hidraw. Returns the /dev path.
func FindHidraw(vendor, product uint16) (string, error) {
	nodes, err := filepath.Glob("/sys/class/hidraw/hidraw*")
	if err != nil {
		return "", err
	}

	want := fmt.Sprintf("%08X:%08X", vendor, product)
	for _, node := range nodes {
		data, err := os.ReadFile(filepath.Join(node, "device/uevent"))
		if err != nil {
			continue
		}
		// HID_ID=0003:0000351E:00004B4D
		for _, line := range strings.Split(string(data), "\n") {
			id, ok := strings.CutPrefix(line, "HID_ID=")
			if !ok {
				continue
			}
			if _, rest, ok := strings.Cut(id, ":"); ok && strings.EqualFold(rest, want) {
				return "/dev/" + filepath.Base(node), nil
			}
		}
	}

	// uevent parsing can miss on some kernels; fall back to opening
	// each node and asking the driver directly.
	devs, _ := filepath.Glob("/dev/hidraw*")
	for _, dev := range devs {
		f, err := os.OpenFile(dev, os.O_RDWR, 0)
		if err != nil {
			continue
		}
		info, err := unix.IoctlHIDGetRawInfo(int(f.Fd()))
		f.Close()
		if err != nil {
			continue
		}
		if uint16(info.Vendor) == vendor && uint16(info.Product) == product {
			return dev, nil
		}
	}

	return "", fmt.Errorf("device: no hidraw node for %04x:%04x", vendor, product)
}

// OpenHidraw opens the hidraw node at path for report exchange.
func OpenHidraw(path string) (*HidrawTransport, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", path, err)
	}
	return &HidrawTransport{path: path, f: f}, nil
}

// Path returns the /dev node this transport is bound to.
func (t *HidrawTransport) Path() string { return t.path }

// Exchange writes the request report and polls for the response.
func (t *HidrawTransport) Exchange(ctx context.Context, req Report) (Report, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var resp Report
	if t.f == nil {
		return resp, ErrNotConnected
	}

	// hidraw write: byte 0 is the report number. The configurator
	// interface uses unnumbered reports, so prefix a zero.
	buf := make([]byte, 1+ReportSize)
	copy(buf[1:], req[:])
	if _, err := t.f.Write(buf); err != nil {
		if isGone(err) {
			return resp, ErrDeviceGone
		}
		return resp, fmt.Errorf("device: write %s: %w", t.path, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	fd := int(t.f.Fd())
	in := make([]byte, ReportSize)
	for {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return resp, fmt.Errorf("device: %s: %w", t.path, os.ErrDeadlineExceeded)
		}
		wait := remaining
		if wait > 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, int(wait.Milliseconds()))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return resp, fmt.Errorf("device: poll %s: %w", t.path, err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			return resp, ErrDeviceGone
		}

		nr, err := t.f.Read(in)
		if err != nil {
			if isGone(err) {
				return resp, ErrDeviceGone
			}
			continue
		}
		if nr < ReportSize {
			continue
		}
		copy(resp[:], in[:ReportSize])
		return resp, nil
	}
}

// Close closes the hidraw node.
func (t *HidrawTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}

func isGone(err error) bool {
	for _, e := range []error{unix.ENODEV, unix.EIO, unix.ENXIO, os.ErrClosed} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
