package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/op-testrun/runner"
	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// panicError marks a test failure caused by a panic rather than a
// returned error, so it reports as an error status instead of a plain
// failure.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("test panicked: %v", e.value)
}

// Describe resolves a unit into its description tree. The suite is
// loaded (never set up), checked for runnability, and expanded into one
// leaf per test function the unit covers, sorted by display name.
func (r *Registry) Describe(unit types.TestUnit) (*types.Description, error) {
	s, err := r.Load(unit.Suite)
	if err != nil {
		return nil, err
	}
	if !s.Runnable() {
		return nil, fmt.Errorf("suite %s is abstract or declares no tests, runner or case: %w", unit.Suite, runner.ErrNotRunnable)
	}

	desc := types.NewSuiteDescription(s.Name)
	desc.Parallel = s.Parallel

	names := s.testNames()
	if unit.IsSuite() {
		for _, name := range names {
			desc.AddChild(types.NewTestDescription(s.Name, name))
		}
		desc.SortChildren()
		return desc, nil
	}

	for _, name := range names {
		if name == unit.Test {
			desc.AddChild(types.NewTestDescription(s.Name, name))
			return desc, nil
		}
	}
	return nil, &NotFoundError{Name: unit.DisplayName()}
}

// Execute runs the unit's test functions in description order, firing
// lifecycle events on the listener. Functions the request's filter
// rejects fire no events at all. A setup failure is a unit-level error:
// no test runs and the scheduler charges the run one failure for it.
func (r *Registry) Execute(ctx context.Context, req runner.Request, listener runner.Listener) (*types.UnitResult, error) {
	start := time.Now()

	desc := req.Desc
	if desc == nil {
		var err error
		desc, err = r.Describe(req.Unit)
		if err != nil {
			return nil, err
		}
	}
	s, err := r.Load(req.Unit.Suite)
	if err != nil {
		return nil, err
	}

	leaves := make([]*types.Description, 0, len(desc.Children))
	for _, leaf := range desc.Leaves() {
		if req.Filter != nil && !req.Filter.ShouldRun(leaf) {
			continue
		}
		leaves = append(leaves, leaf)
	}

	result := &types.UnitResult{
		Unit:   req.Unit,
		Status: types.TestStatusPass,
	}
	if len(leaves) == 0 {
		r.log.Debug("Unit has no tests to run", "unit", req.Unit.DisplayName())
		result.Duration = time.Since(start)
		return result, nil
	}

	if s.Setup != nil {
		if err := runSetup(ctx, s); err != nil {
			return nil, fmt.Errorf("suite %s setup failed: %w", s.Name, err)
		}
	}

	skipped := 0
	for _, leaf := range leaves {
		if ctx.Err() != nil {
			r.log.Warn("Context cancelled; stopping unit early", "unit", req.Unit.DisplayName())
			result.Status = types.TestStatusError
			result.Error = ctx.Err()
			break
		}
		tr := r.runOne(ctx, s, leaf, req.Retry, listener)
		result.Tests = append(result.Tests, tr)
		switch tr.Status {
		case types.TestStatusFail, types.TestStatusError:
			result.Status = types.TestStatusFail
		case types.TestStatusSkip:
			skipped++
		}
	}
	if result.Status == types.TestStatusPass && skipped == len(result.Tests) {
		result.Status = types.TestStatusSkip
	}
	result.Duration = time.Since(start)
	return result, nil
}

// runOne executes a single test function with retries, firing its
// lifecycle events. Only the final attempt's outcome is reported.
func (r *Registry) runOne(ctx context.Context, s *Suite, leaf *types.Description, retry runner.RetryPolicy, listener runner.Listener) *types.TestResult {
	started := time.Now()
	if err := listener.TestStarted(leaf); err != nil {
		r.log.Error("Listener rejected test start", "test", leaf.Name, "error", err)
	}

	var lastT *T
	attempts, err := retry.Do(ctx, func() error {
		t := newT(leaf.Unit)
		lastT = t
		return invokeTest(ctx, s, leaf.Unit.Test, t)
	})

	tr := &types.TestResult{
		Unit:     leaf.Unit,
		Duration: time.Since(started),
		Attempts: attempts,
	}
	switch {
	case err == nil && lastT.Skipped():
		tr.Status = types.TestStatusSkip
		r.log.Debug("Test skipped", "test", leaf.Name, "reason", lastT.SkipReason())
		if lerr := listener.TestSkipped(leaf); lerr != nil {
			r.log.Error("Listener rejected test skip", "test", leaf.Name, "error", lerr)
		}
	case err == nil:
		tr.Status = types.TestStatusPass
	default:
		tr.Status = types.TestStatusFail
		var pe *panicError
		if errors.As(err, &pe) {
			tr.Status = types.TestStatusError
		}
		tr.Error = err
		if lerr := listener.TestFailed(&types.Failure{Unit: leaf.Unit, Error: err}); lerr != nil {
			r.log.Error("Listener rejected test failure", "test", leaf.Name, "error", lerr)
		}
	}

	if lerr := listener.TestFinished(tr); lerr != nil {
		r.log.Error("Listener rejected test finish", "test", leaf.Name, "error", lerr)
	}
	return tr
}

// runSetup invokes the suite's setup hook, converting panics to errors.
func runSetup(ctx context.Context, s *Suite) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("setup panicked: %v", rec)
		}
	}()
	return s.Setup(ctx)
}

// invokeTest runs one named test function, converting panics to errors.
func invokeTest(ctx context.Context, s *Suite, name string, t *T) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec}
		}
	}()

	if s.Runner != nil {
		return s.Runner.RunTest(ctx, name, t)
	}
	for _, test := range s.Tests {
		if test.Name == name {
			return test.Func(ctx, t)
		}
	}
	if s.Case != nil && name == CaseTestName {
		return s.Case.RunCase(ctx, t)
	}
	return fmt.Errorf("suite %s has no test named %s", s.Name, name)
}
