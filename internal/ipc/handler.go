package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"autocheckout/internal/checkout"
	"autocheckout/internal/store"
)

// ErrBadRequest marks a notification payload the daemon refused to handle.
var ErrBadRequest = errors.New("bad request")

// NotificationHandler handles host save notifications.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, msgType MessageType, payload []byte) (*NotifyResponse, error)
}

// HistorySource answers history queries. *store.Store implements it.
type HistorySource interface {
	Query(ctx context.Context, f store.Filter) ([]store.Record, error)
	StatusCounts(ctx context.Context) ([]store.StatusCount, error)
	Schema(ctx context.Context) (store.SchemaStatus, error)
}

// MetricsSource exposes checkout metrics. *metrics.CheckoutMetrics
// implements it through its registry.
type MetricsSource interface {
	Snapshot() map[string]float64
	WritePrometheus(w io.Writer) error
}

// DaemonHandler implements the Handler interface for the autocheckout daemon
type DaemonHandler struct {
	mu        sync.RWMutex
	version   string
	backend   string
	enabled   bool
	startedAt time.Time
	logger    *slog.Logger

	notifications NotificationHandler
	history       HistorySource
	metrics       MetricsSource
	caseFold      bool
	server        *Server
}

// DaemonHandlerConfig configures the daemon handler
type DaemonHandlerConfig struct {
	Version       string
	Backend       string
	Enabled       bool
	Notifications NotificationHandler
	// History is nil when history is disabled.
	History HistorySource
	// Metrics is optional.
	Metrics MetricsSource
	// CaseFold matches history paths ignoring case.
	CaseFold bool
	Logger   *slog.Logger
}

// NewDaemonHandler creates a new daemon handler
func NewDaemonHandler(cfg DaemonHandlerConfig) *DaemonHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DaemonHandler{
		version:       cfg.Version,
		backend:       cfg.Backend,
		enabled:       cfg.Enabled,
		startedAt:     time.Now(),
		logger:        logger,
		notifications: cfg.Notifications,
		history:       cfg.History,
		metrics:       cfg.Metrics,
		caseFold:      cfg.CaseFold,
	}
}

// SetServer attaches the server whose connection stats are reported by status.
func (h *DaemonHandler) SetServer(s *Server) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.server = s
}

// HandleMessage processes an IPC message
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	switch t := msg.Header.Type; {
	case t.IsNotification():
		return h.handleNotification(ctx, client, msg)

	case t == MsgStatusRequest:
		return h.handleStatus(ctx, client, msg)

	case t == MsgHistory:
		return h.handleHistory(ctx, client, msg)

	case t == MsgMetrics:
		return h.handleMetrics(ctx, client, msg)

	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unknown message type: %s", msg.Header.Type)), nil
	}
}

// handleNotification hands a host notification to the notification handler
func (h *DaemonHandler) handleNotification(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	if h.notifications == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "notifications not configured"), nil
	}

	resp, err := h.notifications.HandleNotification(ctx, msg.Header.Type, msg.Payload)
	if err != nil {
		if errors.Is(err, ErrBadRequest) {
			return NewErrorMessageDetails(msg.Header.RequestID, ErrInvalidRequest, "invalid notification", err.Error()), nil
		}
		return nil, err
	}

	return NewResponse(MsgNotifyAck, msg.Header.RequestID, resp)
}

// handleStatus handles status requests
func (h *DaemonHandler) handleStatus(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	h.mu.RLock()
	server := h.server
	h.mu.RUnlock()

	resp := &StatusResponse{
		Version:   h.version,
		Uptime:    time.Since(h.startedAt),
		StartedAt: h.startedAt,
		Enabled:   h.enabled,
		Backend:   h.backend,
	}
	if server != nil {
		resp.Clients = server.ClientCount()
		resp.Handled = server.Handled()
	}

	if h.history != nil {
		resp.History.Enabled = true
		counts, err := h.history.StatusCounts(ctx)
		if err != nil {
			h.logger.Warn("status: history counts unavailable", "error", err)
		} else {
			resp.History.Counts = make(map[string]int64, len(counts))
			for _, c := range counts {
				resp.History.Counts[c.Status] = c.Count
			}
		}
		if schema, err := h.history.Schema(ctx); err != nil {
			h.logger.Warn("status: history schema unavailable", "error", err)
		} else {
			resp.History.SchemaVersion = schema.Version
			resp.History.SchemaLatest = schema.Latest
		}
	}

	if h.metrics != nil {
		resp.Metrics = h.metrics.Snapshot()
	}

	return NewResponse(MsgStatusResponse, msg.Header.RequestID, resp)
}

// handleMetrics returns metrics in Prometheus text format
func (h *DaemonHandler) handleMetrics(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	if h.metrics == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "metrics not configured"), nil
	}

	var b strings.Builder
	if err := h.metrics.WritePrometheus(&b); err != nil {
		return nil, err
	}
	return NewResponse(MsgMetricsResp, msg.Header.RequestID, &MetricsResponse{Text: b.String()})
}

// handleHistory handles checkout history queries
func (h *DaemonHandler) handleHistory(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req HistoryRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
		}
	}

	if req.Status != "" {
		if _, ok := checkout.ParseStatus(req.Status); !ok {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "unknown status "+req.Status), nil
		}
	}

	if h.history == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "history is disabled"), nil
	}

	records, err := h.history.Query(ctx, store.Filter{
		Path:     req.Path,
		FoldCase: h.caseFold,
		Status:   req.Status,
		Limit:    req.Limit,
	})
	if err != nil {
		return nil, err
	}

	resp := &HistoryResponse{Entries: make([]HistoryEntry, 0, len(records))}
	for _, r := range records {
		resp.Entries = append(resp.Entries, HistoryEntryFromRecord(r))
	}
	return NewResponse(MsgHistoryResp, msg.Header.RequestID, resp)
}

// HistoryEntryFromRecord converts a stored record to its wire form.
func HistoryEntryFromRecord(r store.Record) HistoryEntry {
	return HistoryEntry{
		EventID:    r.EventID,
		EventKind:  r.EventKind,
		Backend:    r.Backend,
		Path:       r.Path,
		Status:     r.Status,
		Reason:     r.Reason,
		StartedAt:  r.Started(),
		DurationMs: r.Duration().Milliseconds(),
	}
}
