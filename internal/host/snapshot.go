// Package host adapts editor plugin notifications to the save event router.
//
// A plugin sends one Snapshot per notification describing the host's
// workspace at that moment: the solution, its project tree, the open
// documents and the current selection. The snapshot is validated, turned
// into a router.Workspace and discarded after the notification.
package host

import (
	"fmt"
	"path/filepath"

	"autocheckout/internal/project"
	"autocheckout/internal/router"
)

// Snapshot is the wire form of the host workspace.
type Snapshot struct {
	// Root resolves relative paths; empty means all paths are absolute.
	Root       string          `json:"root,omitempty"`
	DocumentID string          `json:"document_id,omitempty"`
	Solution   SolutionInfo    `json:"solution"`
	Projects   []project.Node  `json:"projects,omitempty"`
	Documents  []DocumentInfo  `json:"documents,omitempty"`
	Selection  []SelectionInfo `json:"selection,omitempty"`
}

// SolutionInfo describes the top-level container.
type SolutionInfo struct {
	Path     string           `json:"path"`
	Saved    bool             `json:"saved"`
	Projects []project.NodeID `json:"projects,omitempty"`
}

// DocumentInfo describes an open document.
type DocumentInfo struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Saved bool   `json:"saved"`
}

// SelectionInfo describes one selected item.
type SelectionInfo struct {
	Kind     router.SelectionKind `json:"kind"`
	Project  project.NodeID       `json:"project,omitempty"`
	Document string               `json:"document,omitempty"`
}

// Workspace is a Snapshot resolved into a router.Workspace.
type Workspace struct {
	solution  router.Solution
	documents []router.Document
	byID      map[string]string
	selection []router.SelectionItem
}

var _ router.Workspace = (*Workspace)(nil)

// Workspace resolves relative paths and builds the project tree.
func (s *Snapshot) Workspace() (*Workspace, error) {
	abs := func(p string) (string, error) {
		if p == "" || filepath.IsAbs(p) {
			return p, nil
		}
		if s.Root == "" {
			return "", fmt.Errorf("relative path %q without a root", p)
		}
		return filepath.Join(s.Root, p), nil
	}

	solPath, err := abs(s.Solution.Path)
	if err != nil {
		return nil, err
	}

	tree, err := s.tree(abs)
	if err != nil {
		return nil, err
	}

	ws := &Workspace{
		solution: router.Solution{Path: solPath, Saved: s.Solution.Saved, Tree: tree},
		byID:     make(map[string]string, len(s.Documents)),
	}

	for _, d := range s.Documents {
		p, err := abs(d.Path)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", d.ID, err)
		}
		if _, dup := ws.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate document id %q", d.ID)
		}
		ws.byID[d.ID] = p
		ws.documents = append(ws.documents, router.Document{ID: d.ID, Path: p, Saved: d.Saved})
	}

	for _, sel := range s.Selection {
		ws.selection = append(ws.selection, router.SelectionItem{
			Kind:     sel.Kind,
			Project:  sel.Project,
			Document: sel.Document,
		})
	}
	return ws, nil
}

// tree adds top-level projects in solution order, then the rest.
func (s *Snapshot) tree(abs func(string) (string, error)) (*project.Tree, error) {
	byID := make(map[project.NodeID]project.Node, len(s.Projects))
	order := make([]project.NodeID, 0, len(s.Projects))
	for _, n := range s.Projects {
		if _, dup := byID[n.ID]; dup {
			return nil, fmt.Errorf("%w: %s", project.ErrDuplicateNode, n.ID)
		}
		p, err := abs(n.Path)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", n.ID, err)
		}
		n.Path = p
		items := make([]project.Item, len(n.Items))
		for i, it := range n.Items {
			files := make([]string, len(it.Files))
			for j, f := range it.Files {
				if files[j], err = abs(f); err != nil {
					return nil, fmt.Errorf("project %s: %w", n.ID, err)
				}
			}
			it.Files = files
			items[i] = it
		}
		n.Items = items
		byID[n.ID] = n
		order = append(order, n.ID)
	}

	tree := project.NewTree()
	top := make(map[project.NodeID]bool, len(s.Solution.Projects))
	for _, id := range s.Solution.Projects {
		n, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("solution lists unknown project %q", id)
		}
		if top[id] {
			continue
		}
		top[id] = true
		if err := tree.Add(n, true); err != nil {
			return nil, err
		}
	}
	for _, id := range order {
		if top[id] {
			continue
		}
		if err := tree.Add(byID[id], false); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// Solution implements router.Workspace.
func (w *Workspace) Solution() router.Solution {
	return w.solution
}

// Documents implements router.Workspace.
func (w *Workspace) Documents() []router.Document {
	return w.documents
}

// Resolve implements router.Workspace.
func (w *Workspace) Resolve(documentID string) (string, error) {
	p, ok := w.byID[documentID]
	if !ok || p == "" {
		return "", router.ErrDocumentNotFound
	}
	return p, nil
}

// Selection implements router.Workspace.
func (w *Workspace) Selection() []router.SelectionItem {
	return w.selection
}
