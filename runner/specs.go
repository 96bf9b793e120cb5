package runner

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrun/capture"
	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// methodSpecPattern matches "Suite#Test" specs: exactly one separator
// with non-empty text on both sides.
var methodSpecPattern = regexp.MustCompile(`^([^#]+)#([^#]+)$`)

// ParseSpec converts one raw spec string into a test unit. A spec is
// either a suite name or "Suite#Test" for a single test function.
func ParseSpec(raw string) (types.TestUnit, error) {
	spec := strings.TrimSpace(raw)
	if spec == "" {
		return types.TestUnit{}, fmt.Errorf("empty test spec")
	}
	if m := methodSpecPattern.FindStringSubmatch(spec); m != nil {
		return types.FunctionUnit(m[1], m[2]), nil
	}
	if strings.Contains(spec, "#") {
		return types.TestUnit{}, fmt.Errorf("malformed test spec %q", raw)
	}
	return types.SuiteUnit(spec), nil
}

// ResolvedUnit pairs a unit with its resolved description tree.
type ResolvedUnit struct {
	Unit types.TestUnit
	Desc *types.Description
}

// Serial reports whether the unit must hold its suite's mutual-exclusion
// domain, given the run-wide default scheduling policy.
func (u *ResolvedUnit) Serial(defaultParallel bool) bool {
	switch u.Desc.Parallel {
	case types.ParallelSerial:
		return true
	case types.ParallelAlways:
		return false
	default:
		return !defaultParallel
	}
}

// Resolver turns raw spec strings into deduplicated, resolved units.
type Resolver struct {
	log      log.Logger
	provider Provider
}

// NewResolver creates a resolver against the given provider.
func NewResolver(logger log.Logger, provider Provider) *Resolver {
	return &Resolver{
		log:      logger.New("component", "resolver"),
		provider: provider,
	}
}

// Resolve parses, deduplicates and resolves the given specs. Specs are
// processed in order, the first occurrence of a duplicate wins, and the
// returned units list every suite unit before any single-function unit,
// each set in first-seen order. Suites the provider reports as not
// runnable are skipped silently. Any malformed spec, unknown name or
// broken registration is fatal: an error is returned before anything
// runs, with a diagnostic on the error channel the way build tools
// expect it.
func (r *Resolver) Resolve(specs []string) ([]*ResolvedUnit, error) {
	seen := make(map[string]bool)
	var suites, functions []*ResolvedUnit
	for _, raw := range specs {
		unit, err := ParseSpec(raw)
		if err != nil {
			return nil, err
		}
		key := unit.DisplayName()
		if seen[key] {
			r.log.Debug("Ignoring duplicate test spec", "spec", raw)
			continue
		}
		seen[key] = true

		desc, err := r.provider.Describe(unit)
		if errors.Is(err, ErrNotRunnable) {
			r.log.Debug("Skipping spec that is not a runnable test", "spec", raw, "reason", err)
			continue
		}
		if err != nil {
			fmt.Fprintf(capture.Err, "FATAL: Error during test discovery for %s: %s\n", raw, err)
			return nil, fmt.Errorf("test discovery for %s: %w", raw, err)
		}
		resolved := &ResolvedUnit{Unit: unit, Desc: desc}
		if unit.IsSuite() {
			suites = append(suites, resolved)
		} else {
			functions = append(functions, resolved)
		}
	}
	units := append(suites, functions...)
	r.log.Debug("Resolved test specs", "specs", len(specs), "units", len(units))
	return units, nil
}

// SortUnits orders units lexicographically by display name. Shard
// membership and submission order both derive from this fixed global
// order, so they are stable regardless of how specs were discovered.
func SortUnits(units []*ResolvedUnit) {
	sort.Slice(units, func(i, j int) bool {
		return units[i].Unit.DisplayName() < units[j].Unit.DisplayName()
	})
}
