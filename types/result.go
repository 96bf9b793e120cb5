package types

import (
	"time"
)

// UnitResult aggregates the outcome of one scheduled unit: every test
// function the unit executed plus the unit-level error, if any. A unit
// that failed to even start (setup or initialization error) carries
// Status TestStatusError and no per-test results.
type UnitResult struct {
	Unit     TestUnit
	Status   TestStatus
	Error    error
	Duration time.Duration
	Tests    []*TestResult
}

// FailureCount returns the number of failures the unit contributes to the
// run total: failed or errored test functions, or one for a unit-level
// error that prevented any test from reporting.
func (r *UnitResult) FailureCount() int {
	count := 0
	for _, t := range r.Tests {
		if t.Status == TestStatusFail || t.Status == TestStatusError {
			count++
		}
	}
	if count == 0 && r.Status == TestStatusError {
		return 1
	}
	return count
}

// RunStats holds the aggregate tallies of a run
type RunStats struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
	Errored int
}

// PassRate returns the percentage of executed tests that passed.
func (s RunStats) PassRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Total) * 100
}

// RunResult is the additive, monotonic aggregate of a whole run. It is
// only ever appended to; nothing resets or removes recorded outcomes.
type RunResult struct {
	RunID     string
	Status    TestStatus
	Stats     RunStats
	Units     []*UnitResult
	Failures  []*Failure
	Duration  time.Duration
	Timestamp time.Time
	WasRun    bool // False when the run aborted before completing every scheduled unit
	ExitCode  int  // Recorded exit status: the failure count
}

// NewRunResult returns an empty result stamped with the run identifier.
func NewRunResult(runID string) *RunResult {
	return &RunResult{
		RunID:     runID,
		Status:    TestStatusPass,
		Timestamp: time.Now(),
	}
}

// AddUnit folds one unit's outcome into the run aggregate.
func (r *RunResult) AddUnit(ur *UnitResult) {
	r.Units = append(r.Units, ur)
	for _, t := range ur.Tests {
		r.Stats.Total++
		switch t.Status {
		case TestStatusPass:
			r.Stats.Passed++
		case TestStatusFail:
			r.Stats.Failed++
			r.Failures = append(r.Failures, &Failure{Unit: t.Unit, Error: t.Error})
		case TestStatusSkip:
			r.Stats.Skipped++
		case TestStatusError:
			r.Stats.Errored++
			r.Failures = append(r.Failures, &Failure{Unit: t.Unit, Error: t.Error})
		}
	}
	if ur.Status == TestStatusError && len(ur.Tests) == 0 {
		r.Stats.Total++
		r.Stats.Errored++
		r.Failures = append(r.Failures, &Failure{Unit: ur.Unit, Error: ur.Error})
	}
	if ur.Status == TestStatusFail || ur.Status == TestStatusError {
		r.Status = TestStatusFail
	}
}

// AddFailure records a synthetic failure that is not attached to any
// executed unit, such as the marker emitted when a run terminates
// abnormally.
func (r *RunResult) AddFailure(f *Failure) {
	r.Failures = append(r.Failures, f)
	r.Stats.Total++
	r.Stats.Errored++
	r.Status = TestStatusFail
}

// FailureCount returns the total number of failures the run accumulated.
// This is the value the process exits with.
func (r *RunResult) FailureCount() int {
	return len(r.Failures)
}

// Finish stamps the result with its duration and final exit status.
func (r *RunResult) Finish(started time.Time) {
	r.Duration = time.Since(started)
	r.ExitCode = r.FailureCount()
	r.WasRun = true
}
