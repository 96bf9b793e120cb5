package runner

import (
	"context"
	"errors"

	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// ErrNotRunnable marks a loaded suite that cannot be scheduled: it is a
// registered abstract base, or it declares no way to run. Providers wrap
// this sentinel so the resolver can skip such specs silently instead of
// failing the run.
var ErrNotRunnable = errors.New("not a runnable test suite")

// Filter decides which test functions of a resolved unit actually run.
// Implementations must be safe for concurrent use; the scheduler
// evaluates filters from worker goroutines.
type Filter interface {
	// ShouldRun reports whether the described node runs. Grouping nodes
	// always pass; only leaves carry a decision.
	ShouldRun(desc *types.Description) bool
	// Describe returns a short human-readable description of the filter.
	Describe() string
}

// Request asks a provider to execute one scheduled unit.
type Request struct {
	Unit types.TestUnit
	// Desc is the unit's resolved description. The resolver fills it in
	// so providers do not re-resolve on execution.
	Desc *types.Description
	// Filter limits which test functions run. Nil runs everything.
	Filter Filter
	// Retry is the per-test-function retry policy.
	Retry RetryPolicy
}

// Provider abstracts the test framework the runner executes against.
// The shipped implementation is the suite registry; tests substitute
// their own.
type Provider interface {
	// Describe resolves a unit into its description tree: a suite node
	// with one leaf per test function the unit covers, children sorted
	// by display name. Resolution loads suite metadata but never runs
	// suite code. Unknown names and broken registrations surface as
	// typed errors.
	Describe(unit types.TestUnit) (*types.Description, error)

	// Execute runs the unit's test functions in description order,
	// firing TestStarted/TestFailed/TestSkipped/TestFinished on the
	// listener for each function that passes the request's filter.
	// Every TestStarted is paired with exactly one TestFinished. The
	// returned result aggregates the unit's outcomes; a non-nil error
	// means the unit could not run at all (setup or resolution failure)
	// and no test events were fired for it.
	Execute(ctx context.Context, req Request, listener Listener) (*types.UnitResult, error)
}
