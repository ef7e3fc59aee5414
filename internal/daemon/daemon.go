// Package daemon wires configuration, the checkout pipeline and the IPC
// server into the running autocheckout service.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"autocheckout/internal/checkout"
	"autocheckout/internal/config"
	"autocheckout/internal/host"
	"autocheckout/internal/ipc"
	"autocheckout/internal/logging"
	"autocheckout/internal/metrics"
	"autocheckout/internal/report"
	"autocheckout/internal/router"
	"autocheckout/internal/store"
)

// Options overrides parts of the pipeline that are normally built from
// configuration.
type Options struct {
	Version string
	Logger  *slog.Logger

	// Backend replaces the configured backend when set.
	Backend checkout.Backend

	// Notifier replaces the D-Bus notifier when notify_on_failure is set.
	Notifier report.Notifier
}

// Daemon is the assembled checkout-on-save service.
type Daemon struct {
	cfg     *config.Config
	version string
	logger  *slog.Logger

	store      *store.Store
	notifier   report.Notifier
	ownsNotify bool
	notify     *report.NotifyReporter

	backend    checkout.Backend
	metrics    *metrics.CheckoutMetrics
	dispatcher *checkout.Dispatcher
	router     *router.Router
	adapter    *host.Adapter
	handler    *ipc.DaemonHandler
	server     *ipc.Server
	subscribed bool
}

// NewBackend builds the checkout backend selected by cfg.
func NewBackend(cfg config.BackendConfig) (checkout.Backend, error) {
	switch cfg.Type {
	case config.BackendPerforce:
		return checkout.NewPerforceBackend(checkout.PerforceConfig{
			Binary: cfg.P4Binary,
			Port:   cfg.P4Port,
			User:   cfg.P4User,
			Client: cfg.P4Client,
		}), nil
	case config.BackendWritable:
		return checkout.NewWritableBackend(), nil
	default:
		return nil, fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
}

// New assembles the pipeline. Nothing listens until Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	d := &Daemon{
		cfg:     cfg,
		version: version,
		logger:  logger,
		backend: opts.Backend,
	}

	if d.backend == nil {
		b, err := NewBackend(cfg.Backend)
		if err != nil {
			return nil, err
		}
		d.backend = b
	}

	d.metrics = metrics.NewCheckoutMetrics(metrics.NewRegistry("autocheckout"), d.backend.Name())
	reporters := report.Multi{
		report.NewLogReporter(logger.With("component", "checkout")),
		d.metrics,
	}

	if cfg.History.Enabled {
		s, err := store.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		d.store = s
		pruneHistory(s, cfg.HistoryRetention(), logger)
		reporters = append(reporters, report.NewHistoryReporter(s, d.backend.Name(), logger))
	}

	if cfg.AutoCheckout.NotifyOnFailure {
		d.notifier = opts.Notifier
		if d.notifier == nil {
			n, err := report.NewDBusNotifier("autocheckout")
			if err != nil {
				logger.Warn("desktop notifications unavailable", "error", err)
			} else {
				d.notifier = n
				d.ownsNotify = true
			}
		}
		if d.notifier != nil {
			d.notify = report.NewNotifyReporter(d.notifier, logger)
			reporters = append(reporters, d.notify)
		}
	}

	d.dispatcher = checkout.NewDispatcher(d.backend, reporters, checkout.Options{
		Timeout:  cfg.BackendTimeout(),
		CaseFold: cfg.Paths.CaseInsensitive,
		Logger:   logger.With("component", "dispatcher"),
	})
	d.router = router.New(d.dispatcher, logger.With("component", "router"))
	d.adapter = host.NewAdapter(logger.With("component", "host"))

	enabled := cfg.AutoCheckout.Enabled
	d.subscribed = router.Install(enabled, d.adapter, d.router, logger)

	handlerCfg := ipc.DaemonHandlerConfig{
		Version:       version,
		Backend:       d.backend.Name(),
		Enabled:       enabled,
		Notifications: d.adapter,
		Metrics:       d.metrics,
		CaseFold:      cfg.Paths.CaseInsensitive,
		Logger:        logger.With("component", "ipc"),
	}
	if d.store != nil {
		handlerCfg.History = d.store
	}
	d.handler = ipc.NewDaemonHandler(handlerCfg)

	serverCfg := ipc.DefaultServerConfig(config.PlatformRuntimeDir())
	serverCfg.SocketPath = cfg.IPC.SocketPath
	serverCfg.Version = version
	serverCfg.Enabled = enabled
	serverCfg.MaxConnections = cfg.IPC.MaxConnections
	serverCfg.Logger = logger.With("component", "ipc")
	d.server = ipc.NewServer(serverCfg, d.handler)
	d.handler.SetServer(d.server)

	return d, nil
}

// pruneHistory drops attempts older than keep. Failures only cost disk.
func pruneHistory(s *store.Store, keep time.Duration, logger *slog.Logger) {
	if keep <= 0 {
		return
	}
	n, err := s.Prune(context.Background(), time.Now().Add(-keep))
	if err != nil {
		logger.Warn("prune history failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("pruned checkout history", "rows", n, "retention", keep)
	}
}

// Start begins accepting host connections.
func (d *Daemon) Start() error {
	if err := d.server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	d.logger.Info("autocheckout started",
		"version", d.version,
		"backend", d.backend.Name(),
		"enabled", d.cfg.AutoCheckout.Enabled,
		"history", d.store != nil,
	)
	return nil
}

// Stop shuts the server down and releases the sinks.
func (d *Daemon) Stop() error {
	var firstErr error
	if err := d.server.Stop(); err != nil {
		firstErr = err
	}
	if d.notify != nil {
		d.notify.Close()
	}
	if c, ok := d.notifier.(interface{ Close() error }); ok && d.ownsNotify {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Apply picks up the settings that may change while running: the log
// level and the backend timeout. The feature gate is never re-read.
func (d *Daemon) Apply(cfg *config.Config, log *logging.Logger) {
	if log != nil {
		if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
			log.SetLevel(level)
		}
	}
	d.dispatcher.SetTimeout(cfg.BackendTimeout())
	if cfg.AutoCheckout.Enabled != d.cfg.AutoCheckout.Enabled {
		d.logger.Warn("auto_checkout.enabled changed, restart to apply")
	}
	d.logger.Info("configuration reloaded", "timeout", cfg.BackendTimeout())
}

// Edit runs a manual batch for paths, in order. Relative paths are taken
// from the working directory.
func (d *Daemon) Edit(ctx context.Context, paths []string) checkout.Summary {
	batch := d.dispatcher.Begin(checkout.EventManual)
	for _, p := range paths {
		batch.Submit(ctx, p)
	}
	return batch.Close()
}

// Subscribed reports whether the feature gate installed the router.
func (d *Daemon) Subscribed() bool {
	return d.subscribed
}

// SocketPath returns the socket the server listens on.
func (d *Daemon) SocketPath() string {
	return d.server.SocketPath()
}

// Metrics returns the checkout metrics.
func (d *Daemon) Metrics() *metrics.CheckoutMetrics {
	return d.metrics
}

// Store returns the history store, or nil when history is disabled.
func (d *Daemon) Store() *store.Store {
	return d.store
}
