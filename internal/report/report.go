// Package report delivers checkout progress and outcomes to the user.
//
// Reporters run on the notification path, so they must not block for long
// and must never fail the batch: sink errors are logged and dropped.
package report

import (
	"context"
	"log/slog"

	"autocheckout/internal/checkout"
)

// LogReporter writes "checking out" and failure lines to a slog logger.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a LogReporter.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

// CheckingOut implements checkout.Reporter.
func (r *LogReporter) CheckingOut(ctx context.Context, req checkout.Request) {
	r.logger.InfoContext(ctx, "checking out "+req.Path,
		"path", req.Path,
		"event_id", req.Event.ID)
}

// Completed implements checkout.Reporter.
func (r *LogReporter) Completed(ctx context.Context, res checkout.Result) {
	attrs := []any{
		"path", res.Path,
		"status", res.Status.String(),
		"event_id", res.Event.ID,
		"duration", res.Duration,
	}
	switch res.Status {
	case checkout.Failed:
		r.logger.WarnContext(ctx, "failed to check out "+res.Path+": "+res.Reason, attrs...)
	default:
		r.logger.DebugContext(ctx, "checked out "+res.Path, attrs...)
	}
}

// Multi fans out to several reporters in order.
type Multi []checkout.Reporter

// CheckingOut implements checkout.Reporter.
func (m Multi) CheckingOut(ctx context.Context, req checkout.Request) {
	for _, r := range m {
		r.CheckingOut(ctx, req)
	}
}

// Completed implements checkout.Reporter.
func (m Multi) Completed(ctx context.Context, res checkout.Result) {
	for _, r := range m {
		r.Completed(ctx, res)
	}
}
