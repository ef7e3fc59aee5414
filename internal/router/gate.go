package router

import "log/slog"

// Source is a host adapter that can deliver notifications to a Listener.
type Source interface {
	Subscribe(l Listener)
}

// Install subscribes l to src when enabled is true. When the feature is
// off nothing is subscribed, so notifications never reach the listener.
// The flag is read once; changing it requires a restart.
func Install(enabled bool, src Source, l Listener, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}
	if !enabled {
		logger.Info("auto checkout disabled, not subscribing to save notifications")
		return false
	}
	src.Subscribe(l)
	logger.Info("auto checkout enabled")
	return true
}
