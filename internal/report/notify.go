package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"autocheckout/internal/checkout"
)

const (
	notificationsBusName = "org.freedesktop.Notifications"
	notificationsPath    = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod         = notificationsBusName + ".Notify"

	notifyTimeout = 2 * time.Second
	notifyQueue   = 32
)

// Notifier shows a desktop notification.
type Notifier interface {
	Notify(ctx context.Context, summary, body string) error
}

// DBusNotifier sends freedesktop notifications over the session bus.
type DBusNotifier struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	appName string
}

// NewDBusNotifier connects to the session bus.
func NewDBusNotifier(appName string) (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	return &DBusNotifier{
		conn:    conn,
		obj:     conn.Object(notificationsBusName, notificationsPath),
		appName: appName,
	}, nil
}

// Notify implements Notifier.
func (n *DBusNotifier) Notify(ctx context.Context, summary, body string) error {
	call := n.obj.CallWithContext(ctx, notifyMethod, 0,
		n.appName,
		uint32(0), // replaces_id
		"dialog-warning",
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{"urgency": dbus.MakeVariant(byte(1))},
		int32(-1),
	)
	return call.Err
}

// Close closes the bus connection.
func (n *DBusNotifier) Close() error {
	return n.conn.Close()
}

// NotifyReporter raises a desktop notification for each failed checkout.
// Notifications are delivered from a background goroutine; when the queue
// is full further failures are dropped rather than delaying the batch.
type NotifyReporter struct {
	notifier Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan checkout.Result
	wg     sync.WaitGroup
}

// NewNotifyReporter starts a NotifyReporter. Call Close to stop it.
func NewNotifyReporter(n Notifier, logger *slog.Logger) *NotifyReporter {
	if logger == nil {
		logger = slog.Default()
	}
	r := &NotifyReporter{
		notifier: n,
		logger:   logger,
		queue:    make(chan checkout.Result, notifyQueue),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// CheckingOut implements checkout.Reporter.
func (r *NotifyReporter) CheckingOut(context.Context, checkout.Request) {}

// Completed implements checkout.Reporter.
func (r *NotifyReporter) Completed(_ context.Context, res checkout.Result) {
	if res.Status != checkout.Failed {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- res:
	default:
		r.logger.Debug("notification queue full, dropping", "path", res.Path)
	}
}

func (r *NotifyReporter) run() {
	defer r.wg.Done()
	for res := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		err := r.notifier.Notify(ctx, "Checkout failed", fmt.Sprintf("%s\n%s", res.Path, res.Reason))
		cancel()
		if err != nil {
			r.logger.Debug("desktop notification failed", "error", err)
		}
	}
}

// Close drains pending notifications and stops the worker.
func (r *NotifyReporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}
