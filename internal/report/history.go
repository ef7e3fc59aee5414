package report

import (
	"context"
	"log/slog"

	"autocheckout/internal/checkout"
	"autocheckout/internal/store"
)

// Recorder persists checkout records. *store.Store implements it.
type Recorder interface {
	Insert(ctx context.Context, r *store.Record) (int64, error)
}

// HistoryReporter writes every completed attempt to the history store.
type HistoryReporter struct {
	recorder Recorder
	backend  string
	logger   *slog.Logger
}

// NewHistoryReporter creates a HistoryReporter tagging records with backend.
func NewHistoryReporter(rec Recorder, backend string, logger *slog.Logger) *HistoryReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryReporter{recorder: rec, backend: backend, logger: logger}
}

// CheckingOut implements checkout.Reporter.
func (h *HistoryReporter) CheckingOut(context.Context, checkout.Request) {}

// Completed implements checkout.Reporter.
func (h *HistoryReporter) Completed(ctx context.Context, res checkout.Result) {
	rec := RecordFromResult(res, h.backend)
	// The host may have given up on the reply; the attempt still happened.
	if _, err := h.recorder.Insert(context.WithoutCancel(ctx), &rec); err != nil {
		h.logger.Error("failed to record checkout history", "path", res.Path, "error", err)
	}
}

// RecordFromResult converts a checkout result into a history record.
func RecordFromResult(res checkout.Result, backend string) store.Record {
	return store.Record{
		EventID:    res.Event.ID,
		EventKind:  string(res.Event.Kind),
		Backend:    backend,
		Path:       res.Path,
		Status:     res.Status.String(),
		Reason:     res.Reason,
		Output:     res.Output,
		StartedNs:  res.Started.UnixNano(),
		DurationNs: int64(res.Duration),
	}
}
