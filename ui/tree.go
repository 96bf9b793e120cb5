// Package ui holds the box-drawing vocabulary shared by everything that
// renders result hierarchies: the console formatter and the text summary
// sink build their tree prefixes from the same constants so summaries
// line up no matter where they are printed.
package ui

import "strings"

const (
	TreeBranch     = "├── " // Connector for an entry with siblings below it
	TreeLastBranch = "└── " // Connector for the last entry of its level
	TreeVertical   = "│"    // Bare vertical rule

	// Continuation fills placed under a connector when an entry spans
	// multiple lines.
	TreeContinue = "│   " // Under TreeBranch: the rule continues
	TreeIndent   = "    " // Under TreeLastBranch: nothing to continue
)

// BuildTreePrefix returns the prefix for a node at the given depth.
// depth counts levels below the root; isLast marks the node as the final
// child of its parent; parentIsLast records, per ancestor level, whether
// that ancestor was the last child of its own parent, which decides
// whether its column still needs a vertical rule.
func BuildTreePrefix(depth int, isLast bool, parentIsLast []bool) string {
	if depth == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < depth-1; i++ {
		if i < len(parentIsLast) && parentIsLast[i] {
			b.WriteString(TreeIndent)
		} else {
			b.WriteString(TreeContinue)
		}
	}
	if isLast {
		b.WriteString(TreeLastBranch)
	} else {
		b.WriteString(TreeBranch)
	}
	return b.String()
}
