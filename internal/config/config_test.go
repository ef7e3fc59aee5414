package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.True(t, cfg.AutoCheckout.Enabled, "feature is on by default")
	assert.Equal(t, BackendPerforce, cfg.Backend.Type)
	assert.Equal(t, "p4", cfg.Backend.P4Binary)
	assert.Equal(t, 10*time.Second, cfg.BackendTimeout())
	assert.Equal(t, DefaultRetentionDays*24*time.Hour, cfg.HistoryRetention())
	assert.True(t, strings.HasSuffix(cfg.IPC.SocketPath, "autocheckout.sock"))
	assert.NoError(t, cfg.Validate())
}

func TestConfigPath(t *testing.T) {
	t.Setenv("AUTOCHECKOUT_CONFIG", "")
	path := ConfigPath()
	assert.True(t, strings.HasSuffix(path, "config.toml"), path)
	assert.Contains(t, path, "autocheckout")

	t.Setenv("AUTOCHECKOUT_CONFIG", "/etc/ac.toml")
	assert.Equal(t, "/etc/ac.toml", ConfigPath())
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Backend, cfg.Backend)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `
[auto_checkout]
enabled = false

[backend]
type = "writable"
timeout_ms = 250
`,
		},
		{
			name:    "json",
			file:    "config.json",
			content: `{"auto_checkout": {"enabled": false}, "backend": {"type": "writable", "timeout_ms": 250}}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `
auto_checkout:
  enabled: false
backend:
  type: writable
  timeout_ms: 250
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.False(t, cfg.AutoCheckout.Enabled)
			assert.Equal(t, BackendWritable, cfg.Backend.Type)
			assert.Equal(t, 250*time.Millisecond, cfg.BackendTimeout())
			// Unset keys keep their defaults.
			assert.Equal(t, "info", cfg.Logging.Level)
		})
	}
}

func TestLoadInvalidSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[backend\ntype="), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUTOCHECKOUT_ENABLED", "false")
	t.Setenv("AUTOCHECKOUT_BACKEND", "WRITABLE")
	t.Setenv("AUTOCHECKOUT_TIMEOUT_MS", "42")
	t.Setenv("AUTOCHECKOUT_SOCKET_PATH", "/tmp/x.sock")
	t.Setenv("AUTOCHECKOUT_RETENTION_DAYS", "7")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.False(t, cfg.AutoCheckout.Enabled)
	assert.Equal(t, BackendWritable, cfg.Backend.Type)
	assert.Equal(t, 42*time.Millisecond, cfg.BackendTimeout())
	assert.Equal(t, "/tmp/x.sock", cfg.IPC.SocketPath)
	assert.Equal(t, 7, cfg.History.RetentionDays)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"default config is valid", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Backend.Type = "svn" }, "backend"},
		{"perforce needs binary", func(c *Config) { c.Backend.P4Binary = "" }, "backend"},
		{"writable ignores binary", func(c *Config) {
			c.Backend.Type = BackendWritable
			c.Backend.P4Binary = ""
		}, ""},
		{"negative timeout", func(c *Config) { c.Backend.TimeoutMs = -1 }, "backend"},
		{"zero timeout disables bound", func(c *Config) { c.Backend.TimeoutMs = 0 }, ""},
		{"history path required", func(c *Config) { c.History.Path = "" }, "history"},
		{"history disabled", func(c *Config) {
			c.History.Enabled = false
			c.History.Path = ""
		}, ""},
		{"negative retention", func(c *Config) { c.History.RetentionDays = -1 }, "history"},
		{"retention too long", func(c *Config) { c.History.RetentionDays = MaxRetentionDays + 1 }, "history"},
		{"zero retention keeps everything", func(c *Config) { c.History.RetentionDays = 0 }, ""},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging"},
		{"upper-case log level", func(c *Config) { c.Logging.Level = "DEBUG" }, ""},
		{"file output needs path", func(c *Config) {
			c.Logging.Output = "file"
			c.Logging.FilePath = ""
		}, "logging"},
		{"socket required", func(c *Config) { c.IPC.SocketPath = "" }, "ipc"},
		{"future version", func(c *Config) { c.Version = Version + 1 }, "version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := DefaultConfig()
	cfg.Backend.P4Client = "alice-ws"
	cfg.AutoCheckout.NotifyOnFailure = true

	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alice-ws", loaded.Backend.P4Client)
	assert.True(t, loaded.AutoCheckout.NotifyOnFailure)
}

func TestLoaderWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"info\"\n"), 0600))

	loader := NewLoader(path)
	loader.debounce = 10 * time.Millisecond
	_, err := loader.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	require.NoError(t, loader.Watch())
	defer loader.Close()

	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"debug\"\n"), 0600))

	select {
	case c := <-changed:
		assert.Equal(t, "debug", c.Logging.Level)
		assert.Equal(t, "debug", loader.Config().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
