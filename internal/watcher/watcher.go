// Package watcher monitors the hidraw device tree for keyboard
// hotplug and the config file for live reload.
package watcher

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DeviceEvent reports a hidraw node appearing or disappearing.
type DeviceEvent struct {
	Path      string
	Arrived   bool
	Timestamp time.Time
}

// DeviceWatcher watches a device directory (normally /dev) for hidraw
// nodes. Arrivals are debounced: udev needs a moment to settle
// permissions on a fresh node, so opening it immediately tends to fail
// with EACCES.
type DeviceWatcher struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	prefix    string
	settle    time.Duration

	// Pending arrivals: path -> first seen
	pending   map[string]time.Time
	pendingMu sync.Mutex

	events chan DeviceEvent
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// NewDeviceWatcher creates a watcher for hidraw nodes under dir.
func NewDeviceWatcher(dir string) (*DeviceWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &DeviceWatcher{
		fsWatcher: fsWatcher,
		dir:       dir,
		prefix:    "hidraw",
		settle:    250 * time.Millisecond,
		pending:   make(map[string]time.Time),
		events:    make(chan DeviceEvent, 16),
		errors:    make(chan error, 4),
		done:      make(chan struct{}),
	}, nil
}

// Events returns the hotplug event channel.
func (w *DeviceWatcher) Events() <-chan DeviceEvent {
	return w.events
}

// Errors returns the watcher error channel.
func (w *DeviceWatcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching the device directory.
func (w *DeviceWatcher) Start() error {
	if err := w.fsWatcher.Add(w.dir); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.settleLoop()

	return nil
}

// Stop gracefully shuts down the watcher.
func (w *DeviceWatcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

func (w *DeviceWatcher) matches(path string) bool {
	return strings.HasPrefix(filepath.Base(path), w.prefix)
}

// eventLoop handles fsnotify events.
func (w *DeviceWatcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.matches(event.Name) {
				continue
			}

			switch {
			case event.Op&fsnotify.Create != 0:
				w.pendingMu.Lock()
				w.pending[event.Name] = time.Now()
				w.pendingMu.Unlock()

			case event.Op&fsnotify.Remove != 0:
				w.pendingMu.Lock()
				delete(w.pending, event.Name)
				w.pendingMu.Unlock()

				select {
				case w.events <- DeviceEvent{Path: event.Name, Arrived: false, Timestamp: time.Now()}:
				default:
				}
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

// settleLoop emits arrivals once a node has been stable past the
// settle window.
func (w *DeviceWatcher) settleLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case now := <-ticker.C:
			w.flushSettled(now)
		}
	}
}

func (w *DeviceWatcher) flushSettled(now time.Time) {
	threshold := now.Add(-w.settle)

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	for path, seen := range w.pending {
		if seen.After(threshold) {
			continue
		}
		select {
		case w.events <- DeviceEvent{Path: path, Arrived: true, Timestamp: now}:
			delete(w.pending, path)
		default:
			// Channel full, try again on the next tick.
		}
	}
}
