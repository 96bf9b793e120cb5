// Package types contains shared types used across the test-run framework
package types

import (
	"fmt"
	"strings"
	"time"
)

// TestStatus represents the possible states of a test execution
type TestStatus string

const (
	TestStatusPass  TestStatus = "pass"
	TestStatusFail  TestStatus = "fail"
	TestStatusSkip  TestStatus = "skip"
	TestStatusError TestStatus = "error"
)

// ParallelMode declares how a suite's units may be scheduled relative to
// other units of the same suite.
type ParallelMode string

// String implements the Stringer interface for ParallelMode
func (m ParallelMode) String() string {
	return string(m)
}

const (
	// ParallelDefault defers to the run-wide default concurrency policy.
	ParallelDefault ParallelMode = "default"
	// ParallelSerial forces units of the suite into its mutual-exclusion
	// domain: no two of them ever run at the same time.
	ParallelSerial ParallelMode = "serial"
	// ParallelAlways opts the suite into the worker pool unconditionally.
	ParallelAlways ParallelMode = "parallel"
)

// TestUnit identifies a single schedulable unit of work: either a whole
// suite or one named test function of a suite. The zero Test string means
// the whole suite. TestUnit is an immutable value; copies are cheap and
// safe to share between goroutines.
type TestUnit struct {
	Suite string
	Test  string
}

// SuiteUnit returns a unit covering every test function of the named suite.
func SuiteUnit(suite string) TestUnit {
	return TestUnit{Suite: suite}
}

// FunctionUnit returns a unit covering exactly one test function.
func FunctionUnit(suite, test string) TestUnit {
	return TestUnit{Suite: suite, Test: test}
}

// IsSuite reports whether the unit covers a whole suite.
func (u TestUnit) IsSuite() bool {
	return u.Test == ""
}

// DisplayName returns the canonical display name used for sorting,
// sharding and reporting: "Suite" for suite units, "Suite/Test" for
// single-function units.
func (u TestUnit) DisplayName() string {
	if u.Test == "" {
		return u.Suite
	}
	return u.Suite + "/" + u.Test
}

// String implements the Stringer interface for TestUnit
func (u TestUnit) String() string {
	return u.DisplayName()
}

// TestResult captures the outcome of a single test function run
type TestResult struct {
	Unit     TestUnit
	Status   TestStatus
	Error    error
	Duration time.Duration
	Attempts int // Total executions including retries; 1 for a clean pass
}

// Failure describes one reported test failure: the failed function and
// the error that final attempt produced.
type Failure struct {
	Unit  TestUnit
	Error error
}

// String implements the Stringer interface for Failure
func (f Failure) String() string {
	if f.Error == nil {
		return f.Unit.DisplayName()
	}
	return fmt.Sprintf("%s: %v", f.Unit.DisplayName(), f.Error)
}

// SplitTestPath splits a display name of the form "Suite/Test" back into
// its components. Names without a separator are whole-suite names.
func SplitTestPath(name string) (suite, test string) {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}
