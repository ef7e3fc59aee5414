// Package config handles configuration loading, validation, and management for autocheckout.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Backend types.
const (
	BackendPerforce = "perforce"
	BackendWritable = "writable"
)

// History retention bounds, in days.
const (
	DefaultRetentionDays = 90
	MaxRetentionDays     = 3650
)

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// AutoCheckout holds the feature gate and its reporting options.
	AutoCheckout AutoCheckoutConfig `toml:"auto_checkout" json:"auto_checkout" yaml:"auto_checkout"`

	// Backend selects and configures the version-control client.
	Backend BackendConfig `toml:"backend" json:"backend" yaml:"backend"`

	// Paths controls path normalization.
	Paths PathsConfig `toml:"paths" json:"paths" yaml:"paths"`

	// History configures the sqlite checkout history.
	History HistoryConfig `toml:"history" json:"history" yaml:"history"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for the host notification socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// AutoCheckoutConfig is the feature gate. It is read once at startup.
type AutoCheckoutConfig struct {
	// Enabled turns checkout-on-save on. When false the daemon never
	// subscribes to host notifications.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// NotifyOnFailure sends a desktop notification for failed checkouts.
	NotifyOnFailure bool `toml:"notify_on_failure" json:"notify_on_failure" yaml:"notify_on_failure"`
}

// BackendConfig configures the checkout backend.
type BackendConfig struct {
	// Type is "perforce" or "writable".
	Type string `toml:"type" json:"type" yaml:"type"`

	// P4Binary is the p4 executable (name or path).
	P4Binary string `toml:"p4_binary" json:"p4_binary" yaml:"p4_binary"`

	// P4Port, P4User and P4Client are passed through as global p4 flags
	// when set. Empty values defer to the user's P4CONFIG/environment.
	P4Port   string `toml:"p4_port" json:"p4_port" yaml:"p4_port"`
	P4User   string `toml:"p4_user" json:"p4_user" yaml:"p4_user"`
	P4Client string `toml:"p4_client" json:"p4_client" yaml:"p4_client"`

	// TimeoutMs bounds a single open-for-edit call. 0 disables the bound.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`
}

// PathsConfig controls DocumentPath normalization.
type PathsConfig struct {
	// CaseInsensitive folds case before comparing paths.
	CaseInsensitive bool `toml:"case_insensitive" json:"case_insensitive" yaml:"case_insensitive"`
}

// HistoryConfig configures the checkout history database.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`

	// RetentionDays drops attempts older than this at startup and on
	// `history prune`. 0 keeps everything.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stderr", "stdout", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file used when Output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the rotation threshold.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// IPCConfig holds configuration for the host notification socket.
type IPCConfig struct {
	// SocketPath is the unix socket the daemon listens on.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// MaxConnections caps concurrently connected hosts.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// TimeoutSec is the client request timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dataDir := PlatformDataDir()

	return &Config{
		Version: Version,
		AutoCheckout: AutoCheckoutConfig{
			Enabled:         true,
			NotifyOnFailure: false,
		},
		Backend: BackendConfig{
			Type:      BackendPerforce,
			P4Binary:  "p4",
			TimeoutMs: 10000,
		},
		Paths: PathsConfig{
			CaseInsensitive: runtime.GOOS == "windows",
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          filepath.Join(dataDir, "history.db"),
			RetentionDays: DefaultRetentionDays,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dataDir, "autocheckout.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
		IPC: IPCConfig{
			SocketPath:     filepath.Join(PlatformRuntimeDir(), "autocheckout.sock"),
			MaxConnections: 16,
			TimeoutSec:     30,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if v := os.Getenv("AUTOCHECKOUT_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// BackendTimeout returns the per-call backend timeout.
func (c *Config) BackendTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Backend.TimeoutMs) * time.Millisecond
}

// HistoryRetention returns how long history is kept, or 0 for forever.
func (c *Config) HistoryRetention() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.History.RetentionDays) * 24 * time.Hour
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.IPC.SocketPath),
	}
	if c.History.Enabled {
		dirs = append(dirs, filepath.Dir(c.History.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with AUTOCHECKOUT_.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("AUTOCHECKOUT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AutoCheckout.Enabled = b
		}
	}
	if v := os.Getenv("AUTOCHECKOUT_BACKEND"); v != "" {
		c.Backend.Type = strings.ToLower(v)
	}
	if v := os.Getenv("AUTOCHECKOUT_P4_BINARY"); v != "" {
		c.Backend.P4Binary = v
	}
	if v := os.Getenv("AUTOCHECKOUT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Backend.TimeoutMs = n
		}
	}
	if v := os.Getenv("AUTOCHECKOUT_HISTORY_PATH"); v != "" {
		c.History.Path = v
	}
	if v := os.Getenv("AUTOCHECKOUT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.History.RetentionDays = n
		}
	}
	if v := os.Getenv("AUTOCHECKOUT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AUTOCHECKOUT_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:      c.Version,
		AutoCheckout: c.AutoCheckout,
		Backend:      c.Backend,
		Paths:        c.Paths,
		History:      c.History,
		Logging:      c.Logging,
		IPC:          c.IPC,
	}
}
