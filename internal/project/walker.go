package project

import (
	"errors"
	"fmt"
	"strings"
)

// StructuralKind classifies a malformed tree.
type StructuralKind int

const (
	// Cycle means a sub-project references one of its ancestors.
	Cycle StructuralKind = iota
	// Dangling means a sub-project references a node not in the tree.
	Dangling
)

func (k StructuralKind) String() string {
	switch k {
	case Cycle:
		return "cycle"
	case Dangling:
		return "dangling reference"
	default:
		return "unknown"
	}
}

// StructuralError reports a sub-tree the walker refused to enter.
type StructuralError struct {
	Kind StructuralKind
	// Node is the offending reference target.
	Node NodeID
	// Trail is the recursion stack at the point of detection, root first.
	Trail []NodeID
}

func (e *StructuralError) Error() string {
	trail := make([]string, len(e.Trail))
	for i, id := range e.Trail {
		trail[i] = string(id)
	}
	return fmt.Sprintf("project tree %s at %s (via %s)", e.Kind, e.Node, strings.Join(trail, " > "))
}

// Walker enumerates the paths of unsaved artifacts in a project tree.
// A Walker holds no state between calls.
type Walker struct{}

// Walk traverses the tree from root depth-first, pre-order, and returns
// the paths to check out:
//
//   - an unsaved node yields its own path before its children;
//   - a sub-project item is walked recursively at its position;
//   - an unsaved file entry yields all of its files in declared order.
//
// Saved nodes and entries yield nothing, but the children of a saved node
// are still visited. Each node is visited at most once per call. Cycles and
// dangling references are returned as *StructuralError values joined into
// the error; the paths gathered from the rest of the tree are still
// returned.
func (Walker) Walk(t *Tree, root NodeID) ([]string, error) {
	w := walk{
		tree:    t,
		visited: make(map[NodeID]bool),
		onStack: make(map[NodeID]bool),
	}
	w.node(root)
	return w.paths, errors.Join(w.errs...)
}

type walk struct {
	tree    *Tree
	visited map[NodeID]bool
	onStack map[NodeID]bool
	stack   []NodeID
	paths   []string
	errs    []error
}

func (w *walk) node(id NodeID) {
	switch {
	case w.onStack[id]:
		w.fail(Cycle, id)
		return
	case w.visited[id]:
		return
	}

	n, ok := w.tree.Node(id)
	if !ok {
		w.fail(Dangling, id)
		return
	}

	w.visited[id] = true
	w.onStack[id] = true
	w.stack = append(w.stack, id)
	defer func() {
		w.stack = w.stack[:len(w.stack)-1]
		w.onStack[id] = false
	}()

	if !n.Saved {
		w.paths = append(w.paths, n.Path)
	}
	for _, it := range n.Items {
		if it.IsSubProject() {
			w.node(it.SubProject)
			continue
		}
		if !it.Saved {
			w.paths = append(w.paths, it.Files...)
		}
	}
}

func (w *walk) fail(kind StructuralKind, id NodeID) {
	w.errs = append(w.errs, &StructuralError{
		Kind:  kind,
		Node:  id,
		Trail: append([]NodeID(nil), w.stack...),
	})
}
