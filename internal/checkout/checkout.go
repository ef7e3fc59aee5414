// Package checkout opens files for edit in a version-control backend.
//
// All checkout traffic goes through a Dispatcher. Each host notification
// opens one Batch; a Batch forwards every distinct path to the Backend
// exactly once, in submission order, and reports each outcome. Backend
// failures are recorded, never returned: a failed checkout must not stop
// the host from saving.
package checkout

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

// Status is the outcome of a single open-for-edit attempt.
type Status int

const (
	// Succeeded means the file is now open for edit.
	Succeeded Status = iota
	// AlreadyEditable means the file was open for edit (or writable) before the call.
	AlreadyEditable
	// Failed means the backend could not open the file; see Result.Reason.
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case AlreadyEditable:
		return "already_editable"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "succeeded":
		return Succeeded, true
	case "already_editable":
		return AlreadyEditable, true
	case "failed":
		return Failed, true
	}
	return Failed, false
}

// ReasonTimeout is the Reason of a call cut short by the dispatcher timeout.
const ReasonTimeout = "timeout"

// EventKind names the host notification that triggered a batch.
type EventKind string

const (
	EventBeforeSave    EventKind = "before_save"
	EventSaveAll       EventKind = "save_all"
	EventSaveSelection EventKind = "save_selection"
	EventManual        EventKind = "manual"
)

// Event identifies the host notification a request belongs to.
type Event struct {
	ID   string
	Kind EventKind
}

// Request is a single path submitted to a batch.
type Request struct {
	Path  string
	Event Event
}

// Result is what a Backend reports for one path.
type Result struct {
	Path     string
	Status   Status
	Reason   string
	Output   string
	Event    Event
	Started  time.Time
	Duration time.Duration
}

// Backend is a version-control client able to open a file for edit.
// OpenForEdit must be safe to call for a file that is already open and
// report AlreadyEditable rather than Failed in that case.
type Backend interface {
	Name() string
	OpenForEdit(ctx context.Context, path string) Result
}

// Reporter receives progress and outcomes for user visibility.
// Implementations must not block for long; they run on the event path.
type Reporter interface {
	CheckingOut(ctx context.Context, req Request)
	Completed(ctx context.Context, res Result)
}

// Normalize turns p into an absolute, cleaned DocumentPath.
func Normalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// Key returns the comparison form of an already-normalized path.
// Separators are unified and, when caseFold is set, case is folded.
func Key(path string, caseFold bool) string {
	key := filepath.ToSlash(path)
	if caseFold {
		key = strings.ToLower(key)
	}
	return key
}
