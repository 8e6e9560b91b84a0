package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches one config file and emits a tick once writes
// to it have settled. Editors that replace the file (write temp,
// rename over) are handled by watching the parent directory.
type ConfigWatcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	debounce  time.Duration

	lastWrite time.Time
	dirty     bool
	mu        sync.Mutex

	reloads chan time.Time
	errors  chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// NewConfigWatcher creates a watcher for the config file at path.
func NewConfigWatcher(path string) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &ConfigWatcher{
		fsWatcher: fsWatcher,
		path:      abs,
		debounce:  500 * time.Millisecond,
		reloads:   make(chan time.Time, 1),
		errors:    make(chan error, 4),
		done:      make(chan struct{}),
	}, nil
}

// Reloads returns the channel that ticks when the file should be
// re-read.
func (w *ConfigWatcher) Reloads() <-chan time.Time {
	return w.reloads
}

// Errors returns the watcher error channel.
func (w *ConfigWatcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching. The file itself may not exist yet; the
// watcher picks it up when it appears.
func (w *ConfigWatcher) Start() error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()

	return nil
}

// Stop gracefully shuts down the watcher.
func (w *ConfigWatcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.reloads)
	close(w.errors)
	return w.fsWatcher.Close()
}

func (w *ConfigWatcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Rename may mean the file is gone; only mark dirty when
			// it is actually readable.
			if _, err := os.Stat(w.path); err != nil {
				continue
			}

			w.mu.Lock()
			w.lastWrite = time.Now()
			w.dirty = true
			w.mu.Unlock()

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

func (w *ConfigWatcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case now := <-ticker.C:
			w.mu.Lock()
			fire := w.dirty && now.Sub(w.lastWrite) >= w.debounce
			if fire {
				w.dirty = false
			}
			w.mu.Unlock()

			if fire {
				select {
				case w.reloads <- now:
				default:
				}
			}
		}
	}
}
