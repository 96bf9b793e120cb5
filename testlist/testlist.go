// Package testlist expands the positional test arguments of a run:
// plain specs pass through while @file references are replaced by the
// whitespace-separated specs the named file contains.
package testlist

import (
	"fmt"
	"os"
	"strings"
)

// ArgFilePrefix marks a positional argument as a file of specs.
const ArgFilePrefix = "@"

// Expand resolves @argfile references in order. Tokens read from a file
// are spliced in place of the reference; every other argument passes
// through untouched. Files do not nest: a token inside a file that
// starts with @ is treated as a literal spec.
func Expand(args []string) ([]string, error) {
	specs := make([]string, 0, len(args))
	for _, arg := range args {
		if !strings.HasPrefix(arg, ArgFilePrefix) {
			specs = append(specs, arg)
			continue
		}
		path := strings.TrimPrefix(arg, ArgFilePrefix)
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load args from arg file %s: %w", arg, err)
		}
		specs = append(specs, strings.Fields(string(content))...)
	}
	return specs, nil
}
