package config

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	logLevels   = []any{"debug", "info", "warn", "warning", "error"}
	logFormats  = []any{"text", "json"}
	logOutputs  = []any{"stderr", "stdout", "file", "both"}
	backendKeys = []any{BackendPerforce, BackendWritable}
)

// ValidateConfig performs validation of the whole configuration.
// The returned error is a validation.Errors keyed by section.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return validation.Errors{
		"version": validation.Validate(c.Version, validation.Min(1), validation.Max(Version)),
		"backend": validateBackend(&c.Backend),
		"history": validateHistory(&c.History),
		"logging": validateLogging(&c.Logging),
		"ipc":     validateIPC(&c.IPC),
	}.Filter()
}

func validateBackend(b *BackendConfig) error {
	return validation.ValidateStruct(b,
		validation.Field(&b.Type, validation.Required, validation.In(backendKeys...)),
		validation.Field(&b.P4Binary,
			validation.When(b.Type == BackendPerforce, validation.Required)),
		validation.Field(&b.TimeoutMs, validation.Min(0)),
	)
}

func validateHistory(h *HistoryConfig) error {
	return validation.ValidateStruct(h,
		validation.Field(&h.Path, validation.When(h.Enabled, validation.Required)),
		validation.Field(&h.RetentionDays, validation.Min(0), validation.Max(MaxRetentionDays)),
	)
}

func validateLogging(l *LoggingConfig) error {
	output := strings.ToLower(l.Output)
	return validation.ValidateStruct(l,
		validation.Field(&l.Level, validation.Required, validation.By(lowerIn(logLevels))),
		validation.Field(&l.Format, validation.By(lowerIn(logFormats))),
		validation.Field(&l.Output, validation.By(lowerIn(logOutputs))),
		validation.Field(&l.FilePath,
			validation.When(output == "file" || output == "both", validation.Required)),
		validation.Field(&l.MaxSizeMB, validation.Min(0)),
		validation.Field(&l.MaxBackups, validation.Min(0)),
	)
}

func validateIPC(i *IPCConfig) error {
	return validation.ValidateStruct(i,
		validation.Field(&i.SocketPath, validation.Required),
		validation.Field(&i.MaxConnections, validation.Min(1)),
		validation.Field(&i.TimeoutSec, validation.Min(1)),
	)
}

// lowerIn is validation.In applied case-insensitively. Empty values pass.
func lowerIn(allowed []any) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		s = strings.ToLower(s)
		for _, a := range allowed {
			if a == s {
				return nil
			}
		}
		return fmt.Errorf("must be one of %v", allowed)
	}
}
