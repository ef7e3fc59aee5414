// Package router turns host save notifications into checkout batches.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"autocheckout/internal/checkout"
	"autocheckout/internal/project"
)

// ErrDocumentNotFound is returned by Workspace.Resolve for an unknown document.
var ErrDocumentNotFound = errors.New("document not found")

// ResolutionError wraps a failure to turn a host item into a path.
type ResolutionError struct {
	Item string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Item, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Solution is the top-level container of projects.
type Solution struct {
	Path  string
	Saved bool
	Tree  *project.Tree
}

// Document is an open document as reported by the host.
type Document struct {
	ID    string
	Path  string
	Saved bool
}

// SelectionKind classifies a selected item.
type SelectionKind string

const (
	SelectProject  SelectionKind = "project"
	SelectDocument SelectionKind = "document"
	SelectOther    SelectionKind = "other"
)

// SelectionItem is one entry of the host's current selection.
type SelectionItem struct {
	Kind     SelectionKind
	Project  project.NodeID
	Document string
}

// Workspace is the read-only view of host state needed to resolve a
// notification. It is valid for one notification only.
type Workspace interface {
	Solution() Solution
	// Documents returns the open documents in host order.
	Documents() []Document
	// Resolve maps a document ID to its path or fails with ErrDocumentNotFound.
	Resolve(documentID string) (string, error)
	Selection() []SelectionItem
}

// Listener receives host save notifications. Every method handles the
// notification to completion and returns the batch summary; checkout and
// resolution failures are reported, never returned.
type Listener interface {
	OnBeforeSingleDocumentSave(ctx context.Context, ws Workspace, documentID string) checkout.Summary
	OnSaveAllRequested(ctx context.Context, ws Workspace) checkout.Summary
	OnSaveSelectionRequested(ctx context.Context, ws Workspace) checkout.Summary
}

// Router implements Listener on top of a checkout.Dispatcher.
type Router struct {
	dispatcher *checkout.Dispatcher
	walker     project.Walker
	logger     *slog.Logger
}

var _ Listener = (*Router)(nil)

// New creates a Router.
func New(d *checkout.Dispatcher, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{dispatcher: d, logger: logger}
}

// OnBeforeSingleDocumentSave checks out the single document about to be saved.
func (r *Router) OnBeforeSingleDocumentSave(ctx context.Context, ws Workspace, documentID string) checkout.Summary {
	batch := r.dispatcher.Begin(checkout.EventBeforeSave)
	path, err := ws.Resolve(documentID)
	if err != nil {
		r.resolutionFailed(batch, "document "+documentID, err)
		return batch.Close()
	}
	batch.Submit(ctx, path)
	return batch.Close()
}

// OnSaveAllRequested checks out the solution, every unsaved open document
// and every unsaved artifact in the project tree, in that order.
func (r *Router) OnSaveAllRequested(ctx context.Context, ws Workspace) checkout.Summary {
	batch := r.dispatcher.Begin(checkout.EventSaveAll)

	sol := ws.Solution()
	if !sol.Saved && sol.Path != "" {
		batch.Submit(ctx, sol.Path)
	}

	for _, doc := range ws.Documents() {
		if !doc.Saved {
			batch.Submit(ctx, doc.Path)
		}
	}

	if sol.Tree != nil {
		for _, root := range sol.Tree.Roots() {
			paths, err := r.walker.Walk(sol.Tree, root)
			if err != nil {
				batch.Logger().Error("project tree is malformed, skipping affected sub-tree",
					"project", root, "error", err)
			}
			for _, p := range paths {
				batch.Submit(ctx, p)
			}
		}
	}

	return batch.Close()
}

// OnSaveSelectionRequested checks out the paths behind the current selection.
// An empty selection falls back to the solution itself.
func (r *Router) OnSaveSelectionRequested(ctx context.Context, ws Workspace) checkout.Summary {
	batch := r.dispatcher.Begin(checkout.EventSaveSelection)
	sol := ws.Solution()

	items := ws.Selection()
	if len(items) == 0 {
		r.submitSolution(ctx, batch, sol)
		return batch.Close()
	}

	for _, it := range items {
		switch it.Kind {
		case SelectProject:
			node, ok := r.projectNode(sol, it.Project)
			if !ok {
				r.resolutionFailed(batch, "project "+string(it.Project), ErrDocumentNotFound)
				continue
			}
			batch.Submit(ctx, node.Path)
		case SelectDocument:
			path, err := ws.Resolve(it.Document)
			if err != nil {
				r.resolutionFailed(batch, "document "+it.Document, err)
				continue
			}
			batch.Submit(ctx, path)
		default:
			r.submitSolution(ctx, batch, sol)
		}
	}
	return batch.Close()
}

func (r *Router) submitSolution(ctx context.Context, batch *checkout.Batch, sol Solution) {
	if sol.Path == "" {
		batch.Logger().Warn("no solution path to fall back to")
		return
	}
	batch.Submit(ctx, sol.Path)
}

func (r *Router) projectNode(sol Solution, id project.NodeID) (*project.Node, bool) {
	if sol.Tree == nil || id == "" {
		return nil, false
	}
	return sol.Tree.Node(id)
}

func (r *Router) resolutionFailed(batch *checkout.Batch, item string, err error) {
	batch.Logger().Warn("skipping item", "error", &ResolutionError{Item: item, Err: err})
}
