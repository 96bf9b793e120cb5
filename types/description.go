package types

import "sort"

// Description is a node in the tree describing what a run will execute:
// a synthetic root, one node per suite, and one leaf per test function.
// Providers build the tree before execution; the core only reads it, so
// nodes are safe to share once built.
type Description struct {
	Name     string // Display name; for leaves this equals Unit.DisplayName()
	Unit     TestUnit
	Parallel ParallelMode // Scheduling capability; meaningful on suite nodes
	Children []*Description
}

// NewRootDescription returns an empty root container for a run.
func NewRootDescription() *Description {
	return &Description{Name: "root"}
}

// NewSuiteDescription returns a container node for the named suite.
func NewSuiteDescription(suite string) *Description {
	return &Description{Name: suite, Unit: SuiteUnit(suite)}
}

// NewTestDescription returns a leaf node for one test function.
func NewTestDescription(suite, test string) *Description {
	u := FunctionUnit(suite, test)
	return &Description{Name: u.DisplayName(), Unit: u}
}

// IsLeaf reports whether the node describes a single runnable test
// function rather than a grouping.
func (d *Description) IsLeaf() bool {
	return len(d.Children) == 0 && d.Unit.Test != ""
}

// AddChild appends a child node.
func (d *Description) AddChild(child *Description) {
	d.Children = append(d.Children, child)
}

// SortChildren orders children lexicographically by display name, then
// recursively sorts their children. Traversal order over a sorted tree
// is deterministic for a fixed set of nodes.
func (d *Description) SortChildren() {
	sort.Slice(d.Children, func(i, j int) bool {
		return d.Children[i].Name < d.Children[j].Name
	})
	for _, child := range d.Children {
		child.SortChildren()
	}
}

// Walk traverses the tree depth-first, calling visitor for each node.
// Returning false from the visitor prunes that node's subtree.
func (d *Description) Walk(visitor func(*Description) bool) {
	if !visitor(d) {
		return
	}
	for _, child := range d.Children {
		child.Walk(visitor)
	}
}

// Leaves returns every leaf in traversal order.
func (d *Description) Leaves() []*Description {
	var leaves []*Description
	d.Walk(func(n *Description) bool {
		if n.IsLeaf() {
			leaves = append(leaves, n)
		}
		return true
	})
	return leaves
}

// CountLeaves returns the number of runnable test functions under the node.
func (d *Description) CountLeaves() int {
	count := 0
	d.Walk(func(n *Description) bool {
		if n.IsLeaf() {
			count++
		}
		return true
	})
	return count
}

// Suites returns the names of all suite-level children in traversal order.
func (d *Description) Suites() []string {
	var suites []string
	seen := make(map[string]bool)
	d.Walk(func(n *Description) bool {
		if n.Unit.Suite != "" && !seen[n.Unit.Suite] {
			seen[n.Unit.Suite] = true
			suites = append(suites, n.Unit.Suite)
		}
		return true
	})
	return suites
}
