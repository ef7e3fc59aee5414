package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"autocheckout/internal/checkout"
	"autocheckout/internal/ipc"
	"autocheckout/internal/router"
)

// Adapter delivers IPC notifications to a router.Listener. It implements
// router.Source and ipc.NotificationHandler.
//
// Notifications are handled one at a time, each to completion, so a
// listener sees the same ordering a single host event thread would give it.
type Adapter struct {
	mu       sync.Mutex
	listener router.Listener
	logger   *slog.Logger
}

var (
	_ router.Source           = (*Adapter)(nil)
	_ ipc.NotificationHandler = (*Adapter)(nil)
)

// NewAdapter creates an adapter with no listener.
func NewAdapter(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{logger: logger}
}

// Subscribe implements router.Source.
func (a *Adapter) Subscribe(l router.Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listener = l
}

// Subscribed reports whether a listener is installed.
func (a *Adapter) Subscribed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listener != nil
}

// HandleNotification implements ipc.NotificationHandler.
func (a *Adapter) HandleNotification(ctx context.Context, msgType ipc.MessageType, payload []byte) (*ipc.NotifyResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listener == nil {
		a.logger.Debug("notification ignored, auto checkout disabled", "type", msgType)
		return &ipc.NotifyResponse{Disabled: true, Kind: msgType.String()}, nil
	}

	snap, err := DecodeSnapshot(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ipc.ErrBadRequest, err)
	}
	ws, err := snap.Workspace()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ipc.ErrBadRequest, err)
	}

	var summary checkout.Summary
	switch msgType {
	case ipc.MsgBeforeSave:
		if snap.DocumentID == "" {
			return nil, fmt.Errorf("%w: before_save requires document_id", ipc.ErrBadRequest)
		}
		summary = a.listener.OnBeforeSingleDocumentSave(ctx, ws, snap.DocumentID)
	case ipc.MsgSaveAll:
		summary = a.listener.OnSaveAllRequested(ctx, ws)
	case ipc.MsgSaveSelection:
		summary = a.listener.OnSaveSelectionRequested(ctx, ws)
	default:
		return nil, fmt.Errorf("%w: %s is not a notification", ipc.ErrBadRequest, msgType)
	}

	return NotifyResponse(summary), nil
}

// NotifyResponse converts a batch summary into its wire form.
func NotifyResponse(s checkout.Summary) *ipc.NotifyResponse {
	resp := &ipc.NotifyResponse{
		EventID:         s.Event.ID,
		Kind:            string(s.Event.Kind),
		Succeeded:       s.Succeeded,
		AlreadyEditable: s.AlreadyEditable,
		Failed:          s.Failed,
		Duplicates:      s.Duplicates,
		Results:         make([]ipc.CheckoutInfo, 0, len(s.Results)),
	}
	for _, r := range s.Results {
		resp.Results = append(resp.Results, ipc.CheckoutInfo{
			Path:       r.Path,
			Status:     r.Status.String(),
			Reason:     r.Reason,
			DurationMs: r.Duration.Milliseconds(),
		})
	}
	return resp
}
