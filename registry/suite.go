package registry

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/ethereum-optimism/infra/op-testrun/capture"
	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// Suite is a named collection of test functions registered with the
// framework. A suite is runnable when it is concrete (not marked as an
// abstract base for embedding) and exposes at least one way to run:
// declared test functions, a custom runner, or a legacy whole-case
// implementation.
type Suite struct {
	// Name uniquely identifies the suite; specs address it by this name.
	Name string
	// Abstract marks a registered template that only exists to be shared
	// by other suites. Abstract suites are never runnable.
	Abstract bool
	// Parallel declares the suite's scheduling capability.
	Parallel types.ParallelMode
	// Setup runs once before the first test of a scheduled unit. A Setup
	// error fails the whole unit without running any test.
	Setup func(ctx context.Context) error
	// Tests are the suite's declared test functions, in declaration order.
	Tests []Test
	// Runner, when set, replaces declared tests with a custom runner that
	// names and executes its own functions.
	Runner Runner
	// Case, when set (and no Tests or Runner), runs the suite as a single
	// self-contained legacy case.
	Case Case
}

// Test is one named test function of a suite.
type Test struct {
	Name string
	Func func(ctx context.Context, t *T) error
}

// Runner lets a suite take over naming and executing its own test
// functions.
type Runner interface {
	// Tests returns the function names the runner will execute.
	Tests() []string
	// RunTest executes one named function.
	RunTest(ctx context.Context, name string, t *T) error
}

// Case is a legacy whole-suite test: it runs as a single reported test
// function named "Case".
type Case interface {
	RunCase(ctx context.Context, t *T) error
}

// CaseTestName is the display name legacy cases run under.
const CaseTestName = "Case"

// Runnable reports whether the suite can be scheduled at all.
func (s *Suite) Runnable() bool {
	if s == nil || s.Abstract || s.Name == "" {
		return false
	}
	return s.Runner != nil || s.Case != nil || len(s.Tests) > 0
}

// testNames returns the names of every test function the suite exposes,
// in execution order.
func (s *Suite) testNames() []string {
	if s.Runner != nil {
		return s.Runner.Tests()
	}
	if len(s.Tests) > 0 {
		names := make([]string, len(s.Tests))
		for i, t := range s.Tests {
			names[i] = t.Name
		}
		return names
	}
	if s.Case != nil {
		return []string{CaseTestName}
	}
	return nil
}

// validate rejects suites the registry cannot address unambiguously.
func (s *Suite) validate() error {
	if s.Name == "" {
		return fmt.Errorf("suite name cannot be empty")
	}
	seen := make(map[string]bool)
	for _, name := range s.testNames() {
		if name == "" {
			return fmt.Errorf("suite %s declares a test with an empty name", s.Name)
		}
		if seen[name] {
			return fmt.Errorf("suite %s declares test %s more than once", s.Name, name)
		}
		seen[name] = true
	}
	return nil
}

// T is the handle test functions receive. Its writers point at the
// run's global output channels, so captured units transparently write
// into their suite's capture files.
type T struct {
	name string
	out  io.Writer
	err  io.Writer

	mu      sync.Mutex
	skipped bool
	skipMsg string
}

func newT(unit types.TestUnit) *T {
	return &T{
		name: unit.DisplayName(),
		out:  capture.Out,
		err:  capture.Err,
	}
}

// Name returns the full display name of the running test.
func (t *T) Name() string {
	return t.name
}

// Stdout returns the test's standard output writer.
func (t *T) Stdout() io.Writer {
	return t.out
}

// Stderr returns the test's standard error writer.
func (t *T) Stderr() io.Writer {
	return t.err
}

// Logf writes a formatted line to the test's standard output.
func (t *T) Logf(format string, args ...any) {
	fmt.Fprintf(t.out, format+"\n", args...)
}

// Skip marks the test as skipped. The function should return promptly
// after calling Skip; a nil error from a skipped test reports as a skip,
// not a pass.
func (t *T) Skip(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped = true
	t.skipMsg = msg
}

// Skipf is Skip with formatting.
func (t *T) Skipf(format string, args ...any) {
	t.Skip(fmt.Sprintf(format, args...))
}

// Skipped reports whether the test marked itself skipped.
func (t *T) Skipped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skipped
}

// SkipReason returns the message passed to Skip.
func (t *T) SkipReason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.skipMsg
}
