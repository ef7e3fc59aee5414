package checkout

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Options configures a Dispatcher.
type Options struct {
	// Timeout bounds each backend call; zero means no bound.
	Timeout time.Duration

	// CaseFold folds case when deduplicating paths.
	CaseFold bool

	Logger *slog.Logger
}

// Dispatcher is the single entry point for checkout requests.
type Dispatcher struct {
	backend  Backend
	reporter Reporter
	caseFold bool
	logger   *slog.Logger

	// timeout is stored in nanoseconds so a config reload can update it.
	timeout atomic.Int64
}

// NewDispatcher creates a dispatcher forwarding to backend and reporting
// to reporter. A nil reporter discards reports.
func NewDispatcher(backend Backend, reporter Reporter, opts Options) *Dispatcher {
	if reporter == nil {
		reporter = nopReporter{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		backend:  backend,
		reporter: reporter,
		caseFold: opts.CaseFold,
		logger:   logger,
	}
	d.SetTimeout(opts.Timeout)
	return d
}

// SetTimeout changes the per-call backend timeout for batches opened afterwards.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	d.timeout.Store(int64(timeout))
}

// Backend returns the backend requests are forwarded to.
func (d *Dispatcher) Backend() Backend {
	return d.backend
}

// Begin opens a batch for one host notification. An empty event ID is
// replaced with a fresh UUID.
func (d *Dispatcher) Begin(kind EventKind) *Batch {
	return d.BeginEvent(Event{Kind: kind})
}

// BeginEvent opens a batch for an event whose ID the caller chose.
func (d *Dispatcher) BeginEvent(ev Event) *Batch {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	return &Batch{
		d:       d,
		event:   ev,
		timeout: time.Duration(d.timeout.Load()),
		seen:    make(map[string]struct{}),
		logger:  d.logger.With(slog.String("event_id", ev.ID), slog.String("event", string(ev.Kind))),
	}
}

// Batch is the set of submissions produced by one host notification.
// A Batch is used from a single goroutine.
type Batch struct {
	d       *Dispatcher
	event   Event
	timeout time.Duration
	seen    map[string]struct{}
	results []Result
	dupes   int
	logger  *slog.Logger
}

// Event returns the event this batch belongs to.
func (b *Batch) Event() Event {
	return b.event
}

// Logger returns a logger tagged with the batch's event.
func (b *Batch) Logger() *slog.Logger {
	return b.logger
}

// Submit forwards path to the backend unless this batch already did.
// It reports whether a backend call was made.
func (b *Batch) Submit(ctx context.Context, path string) bool {
	norm, err := Normalize(path)
	if err != nil {
		b.logger.Warn("cannot normalize path", "path", path, "error", err)
		return false
	}

	key := Key(norm, b.d.caseFold)
	if _, ok := b.seen[key]; ok {
		b.dupes++
		b.logger.Debug("duplicate path in batch", "path", norm)
		return false
	}
	b.seen[key] = struct{}{}

	req := Request{Path: norm, Event: b.event}
	b.d.reporter.CheckingOut(ctx, req)

	res := b.call(ctx, norm)
	res.Event = b.event
	b.results = append(b.results, res)
	b.d.reporter.Completed(ctx, res)
	return true
}

// call runs the backend with the batch timeout applied.
func (b *Batch) call(ctx context.Context, path string) Result {
	callCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	started := time.Now()
	res := b.d.backend.OpenForEdit(callCtx, path)
	if res.Path == "" {
		res.Path = path
	}
	if res.Started.IsZero() {
		res.Started = started
	}
	if res.Duration == 0 {
		res.Duration = time.Since(started)
	}

	if res.Status == Failed && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		res.Reason = ReasonTimeout
	}
	return res
}

// Close ends the batch and returns its summary.
func (b *Batch) Close() Summary {
	s := Summary{
		Event:      b.event,
		Duplicates: b.dupes,
		Results:    b.results,
	}
	for _, r := range b.results {
		switch r.Status {
		case Succeeded:
			s.Succeeded++
		case AlreadyEditable:
			s.AlreadyEditable++
		case Failed:
			s.Failed++
		}
	}
	b.logger.Debug("batch closed",
		"submitted", len(b.results),
		"failed", s.Failed,
		"duplicates", s.Duplicates)
	return s
}

// Summary describes a closed batch.
type Summary struct {
	Event           Event
	Succeeded       int
	AlreadyEditable int
	Failed          int
	Duplicates      int
	Results         []Result
}

// Submitted is the number of backend calls the batch made.
func (s Summary) Submitted() int {
	return len(s.Results)
}

// Paths returns the forwarded paths in order.
func (s Summary) Paths() []string {
	paths := make([]string, len(s.Results))
	for i, r := range s.Results {
		paths[i] = r.Path
	}
	return paths
}

type nopReporter struct{}

func (nopReporter) CheckingOut(context.Context, Request) {}
func (nopReporter) Completed(context.Context, Result)    {}
