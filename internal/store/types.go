// Package store provides SQLite-based checkout history storage.
package store

import "time"

// Record is one checkout attempt as stored in the history database.
type Record struct {
	ID         int64
	EventID    string
	EventKind  string
	Backend    string
	Path       string
	Status     string
	Reason     string
	Output     string
	StartedNs  int64
	DurationNs int64
}

// Started returns the attempt start time.
func (r Record) Started() time.Time {
	return time.Unix(0, r.StartedNs)
}

// Duration returns how long the backend call took.
func (r Record) Duration() time.Duration {
	return time.Duration(r.DurationNs)
}

// StatusCount is the number of attempts with a given status.
type StatusCount struct {
	Status string
	Count  int64
}

// Filter narrows a history query. Zero fields match everything.
type Filter struct {
	Path string
	// FoldCase matches Path ignoring ASCII case.
	FoldCase bool

	Status  string
	EventID string
	Since   time.Time
	Limit   int
}
