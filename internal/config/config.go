// Package config handles configuration loading, validation, and management for keymapd.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Device selects which keyboard the daemon binds to.
	Device DeviceConfig `toml:"device" json:"device" yaml:"device"`

	// ChangeLog controls edit staging behavior.
	ChangeLog ChangeLogConfig `toml:"changelog" json:"changelog" yaml:"changelog"`

	// Storage configuration for commit history and snapshots.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// WAL (write-intent journal) configuration.
	WAL WALConfig `toml:"wal" json:"wal" yaml:"wal"`

	// IPC configuration for the daemon socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics exposition configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// DeviceConfig identifies and tunes the device channel.
type DeviceConfig struct {
	// VendorID is the USB vendor ID to match, e.g. "0x3297".
	VendorID string `toml:"vendor_id" json:"vendor_id" yaml:"vendor_id"`

	// ProductID is the USB product ID to match, e.g. "0x4976".
	// Empty matches any product from the vendor.
	ProductID string `toml:"product_id" json:"product_id" yaml:"product_id"`

	// Mock replaces the hidraw transport with an in-memory device.
	Mock bool `toml:"mock" json:"mock" yaml:"mock"`

	// ExchangeTimeoutMs bounds a single request/response round trip.
	ExchangeTimeoutMs int `toml:"exchange_timeout_ms" json:"exchange_timeout_ms" yaml:"exchange_timeout_ms"`

	// RetryAttempts is the number of retries for a failed exchange.
	RetryAttempts int `toml:"retry_attempts" json:"retry_attempts" yaml:"retry_attempts"`
}

// ChangeLogConfig controls how edits are staged.
type ChangeLogConfig struct {
	// Instant applies each queued change immediately instead of
	// journaling it for an explicit commit.
	Instant bool `toml:"instant" json:"instant" yaml:"instant"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Path is the path to the sqlite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// WALConfig holds write-intent journal configuration.
type WALConfig struct {
	// Enabled determines whether the intent journal is kept.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the path to the journal file.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// IPCConfig holds daemon socket configuration.
type IPCConfig struct {
	// SocketPath is the unix socket the daemon listens on.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// RequestTimeoutSec bounds a single client request.
	RequestTimeoutSec int `toml:"request_timeout_sec" json:"request_timeout_sec" yaml:"request_timeout_sec"`

	// MaxConnections caps concurrently connected clients.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when Output includes "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the log file size before rotation.
	MaxSizeMB int64 `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
}

// MetricsConfig holds metrics exposition configuration.
type MetricsConfig struct {
	// Enabled turns the HTTP exposition endpoint on.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ListenAddr is the address the metrics endpoint binds to.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// KeymapdDir returns the daemon's state directory.
func KeymapdDir() string {
	if dir := os.Getenv("KEYMAPD_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keymapd")
}

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(KeymapdDir(), "config.toml")
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := KeymapdDir()
	return &Config{
		Version: Version,
		Device: DeviceConfig{
			VendorID:          "",
			ProductID:         "",
			Mock:              false,
			ExchangeTimeoutMs: 500,
			RetryAttempts:     2,
		},
		ChangeLog: ChangeLogConfig{
			Instant: false,
		},
		Storage: StorageConfig{
			Path:          filepath.Join(dir, "keymapd.db"),
			BusyTimeoutMs: 5000,
		},
		WAL: WALConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "keymapd.wal"),
		},
		IPC: IPCConfig{
			SocketPath:        filepath.Join(dir, "daemon.sock"),
			RequestTimeoutSec: 30,
			MaxConnections:    16,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			Output:    "stderr",
			FilePath:  filepath.Join(dir, "keymapd.log"),
			MaxSizeMB: 50,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9310",
		},
	}
}

// Load reads configuration from the specified path. An empty path
// loads the default location; a missing file at the default location
// yields the defaults. The format is chosen by file extension with
// TOML as the primary.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg := DefaultConfig()
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides applies KEYMAPD_* environment variables on top of
// the loaded values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("KEYMAPD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KEYMAPD_SOCKET"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("KEYMAPD_DB"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("KEYMAPD_VENDOR_ID"); v != "" {
		c.Device.VendorID = v
	}
	if v := os.Getenv("KEYMAPD_PRODUCT_ID"); v != "" {
		c.Device.ProductID = v
	}
	if v := os.Getenv("KEYMAPD_MOCK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Device.Mock = b
		}
	}
	if v := os.Getenv("KEYMAPD_INSTANT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ChangeLog.Instant = b
		}
	}
}

// EnsureDirectories creates the directories the configured paths live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.Path),
		filepath.Dir(c.IPC.SocketPath),
	}
	if c.WAL.Enabled {
		dirs = append(dirs, filepath.Dir(c.WAL.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// ParseUSBID parses a "0x1234" or "1234" hex USB vendor/product ID.
// An empty string yields (0, false, nil): no filter.
func ParseUSBID(s string) (uint16, bool, error) {
	if s == "" {
		return 0, false, nil
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, false, fmt.Errorf("parse usb id %q: %w", s, err)
	}
	return uint16(v), true, nil
}
