package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileRotator is an io.Writer that rotates the daemon log by size.
// Rotated files sit next to the live log as name-<timestamp>.ext,
// optionally gzipped, and old ones are pruned by count and age.
type FileRotator struct {
	path       string
	maxBytes   int64
	maxBackups int
	maxAge     time.Duration
	compress   bool

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewFileRotator opens (or creates) the log file at cfg.FilePath.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	r := &FileRotator{
		path:       cfg.FilePath,
		maxBytes:   cfg.MaxSize * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
		maxAge:     time.Duration(cfg.MaxAge) * 24 * time.Hour,
		compress:   cfg.Compress,
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file = f
	r.size = info.Size()
	return nil
}

// Write appends to the live log, rotating first when the write would
// push it past the size budget.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	if r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// rotate renames the live log aside, reopens a fresh one, and prunes
// old rotations. Called with the lock held.
func (r *FileRotator) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("close live log: %w", err)
		}
		r.file = nil
	}

	// Nanosecond stamp so back-to-back rotations never collide.
	stamp := time.Now().Format("20060102-150405.000000000")
	ext := filepath.Ext(r.path)
	rotated := strings.TrimSuffix(r.path, ext) + "-" + stamp + ext

	if err := os.Rename(r.path, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}
	if r.compress {
		go gzipAndReplace(rotated)
	}
	if err := r.open(); err != nil {
		return err
	}

	r.prune()
	return nil
}

// prune drops rotated logs beyond the backup count or past the age
// limit, oldest first.
func (r *FileRotator) prune() {
	rotated, err := r.rotatedFiles()
	if err != nil {
		return
	}

	type aged struct {
		path string
		mod  time.Time
	}
	files := make([]aged, 0, len(rotated))
	for _, p := range rotated {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		files = append(files, aged{p, info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].mod.Before(files[j].mod)
	})

	excess := len(files) - r.maxBackups
	cutoff := time.Now().Add(-r.maxAge)
	for i, f := range files {
		if i < excess || (r.maxAge > 0 && f.mod.Before(cutoff)) {
			os.Remove(f.path)
		}
	}
}

// rotatedFiles lists the rotated siblings of the live log, gzipped
// ones included.
func (r *FileRotator) rotatedFiles() ([]string, error) {
	ext := filepath.Ext(r.path)
	pattern := strings.TrimSuffix(r.path, ext) + "-*" + ext + "*"
	return filepath.Glob(pattern)
}

// gzipAndReplace compresses path to path.gz and removes the original.
// Failures leave the uncompressed file in place.
func gzipAndReplace(path string) {
	in, err := os.Open(path)
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		os.Remove(path + ".gz")
		return
	}
	if err := gz.Close(); err != nil {
		os.Remove(path + ".gz")
		return
	}
	os.Remove(path)
}

// GetLogFiles returns the live log followed by its rotations.
func (r *FileRotator) GetLogFiles() ([]string, error) {
	files := []string{r.path}
	rotated, err := r.rotatedFiles()
	if err != nil {
		return files, err
	}
	return append(files, rotated...), nil
}

// Sync flushes the live log to disk.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}

// Close closes the live log.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
