// Package project models the host's solution tree and enumerates the
// unsaved files in it.
//
// Nodes are stored in an arena keyed by NodeID rather than linked by
// pointer, so a malformed host tree with shared or cyclic references can be
// represented and traversed safely.
package project

import (
	"errors"
	"fmt"
)

// NodeID identifies a project node within a Tree.
type NodeID string

// Item is one child of a Node: either a reference to a nested sub-project
// or a file entry mapping to one or more on-disk files.
type Item struct {
	// SubProject is set when the item is a nested project.
	SubProject NodeID `json:"sub_project,omitempty"`

	Saved bool     `json:"saved"`
	Files []string `json:"files,omitempty"`
}

// IsSubProject reports whether the item references a nested project.
func (it Item) IsSubProject() bool {
	return it.SubProject != ""
}

// Node is a project or sub-project.
type Node struct {
	ID    NodeID `json:"id"`
	Path  string `json:"path"`
	Saved bool   `json:"saved"`
	Items []Item `json:"items,omitempty"`
}

// ErrDuplicateNode is returned by Add for an ID already in the tree.
var ErrDuplicateNode = errors.New("duplicate project node")

// Tree is an arena of project nodes with an ordered list of top-level roots.
type Tree struct {
	nodes map[NodeID]*Node
	roots []NodeID
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{nodes: make(map[NodeID]*Node)}
}

// Add inserts n. Top-level nodes are also appended to the root order.
func (t *Tree) Add(n Node, topLevel bool) error {
	if n.ID == "" {
		return fmt.Errorf("project node %q: empty id", n.Path)
	}
	if _, ok := t.nodes[n.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
	}
	node := n
	t.nodes[n.ID] = &node
	if topLevel {
		t.roots = append(t.roots, n.ID)
	}
	return nil
}

// Node returns the node with the given ID.
func (t *Tree) Node(id NodeID) (*Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Roots returns the top-level node IDs in host order.
func (t *Tree) Roots() []NodeID {
	return append([]NodeID(nil), t.roots...)
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	return len(t.nodes)
}
