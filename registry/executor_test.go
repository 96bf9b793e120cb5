package registry

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testrun/capture"
	"github.com/ethereum-optimism/infra/op-testrun/runner"
	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// eventLog records the serialized listener event stream.
type eventLog struct {
	runner.BaseListener

	mu     sync.Mutex
	events []string
}

func (l *eventLog) TestStarted(desc *types.Description) error {
	return l.record("started " + desc.Name)
}

func (l *eventLog) TestFailed(failure *types.Failure) error {
	return l.record(fmt.Sprintf("failed %s: %v", failure.Unit.DisplayName(), failure.Error))
}

func (l *eventLog) TestSkipped(desc *types.Description) error {
	return l.record("skipped " + desc.Name)
}

func (l *eventLog) TestFinished(result *types.TestResult) error {
	return l.record("finished " + result.Unit.DisplayName())
}

func (l *eventLog) record(event string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// execute registers the suite, resolves the unit and runs it.
func execute(t *testing.T, s *Suite, unit types.TestUnit, req runner.Request) (*types.UnitResult, *eventLog, error) {
	t.Helper()
	r := newTestRegistry()
	require.NoError(t, r.Register(s))

	desc, err := r.Describe(unit)
	require.NoError(t, err)
	req.Unit = unit
	req.Desc = desc

	events := &eventLog{}
	result, err := r.Execute(context.Background(), req, events)
	return result, events, err
}

func TestExecute_EventOrderPerTest(t *testing.T) {
	s := &Suite{Name: "Orderly", Tests: []Test{passingTest("TestB"), passingTest("TestA")}}
	result, events, err := execute(t, s, types.SuiteUnit("Orderly"), runner.Request{})
	require.NoError(t, err)

	assert.Equal(t, types.TestStatusPass, result.Status)
	require.Len(t, result.Tests, 2)
	assert.Equal(t, []string{
		"started Orderly/TestA",
		"finished Orderly/TestA",
		"started Orderly/TestB",
		"finished Orderly/TestB",
	}, events.all())
}

func TestExecute_FailureFiresFailedBetweenStartAndFinish(t *testing.T) {
	s := &Suite{Name: "OneBad", Tests: []Test{
		passingTest("TestGood"),
		{Name: "TestBad", Func: func(context.Context, *T) error { return fmt.Errorf("assertion mismatch") }},
	}}
	result, events, err := execute(t, s, types.SuiteUnit("OneBad"), runner.Request{})
	require.NoError(t, err)

	assert.Equal(t, types.TestStatusFail, result.Status)
	assert.Equal(t, 1, result.FailureCount())
	assert.Equal(t, []string{
		"started OneBad/TestBad",
		"failed OneBad/TestBad: assertion mismatch",
		"finished OneBad/TestBad",
		"started OneBad/TestGood",
		"finished OneBad/TestGood",
	}, events.all())
}

func TestExecute_RetriesSuppressIntermediateFailures(t *testing.T) {
	var calls int
	s := &Suite{Name: "Flaky", Tests: []Test{
		{Name: "TestFlaky", Func: func(context.Context, *T) error {
			calls++
			if calls < 3 {
				return fmt.Errorf("transient %d", calls)
			}
			return nil
		}},
	}}

	req := runner.Request{Retry: runner.RetryPolicy{Budget: 2}}
	result, events, err := execute(t, s, types.SuiteUnit("Flaky"), req)
	require.NoError(t, err)

	assert.Equal(t, types.TestStatusPass, result.Status)
	require.Len(t, result.Tests, 1)
	assert.Equal(t, 3, result.Tests[0].Attempts)
	assert.Equal(t, 3, calls)

	// One started, one finished, no failed: intermediate attempts are
	// invisible to listeners.
	assert.Equal(t, []string{
		"started Flaky/TestFlaky",
		"finished Flaky/TestFlaky",
	}, events.all())
}

func TestExecute_RetryBudgetExhaustedReportsFinalError(t *testing.T) {
	var calls int
	s := &Suite{Name: "Hopeless", Tests: []Test{
		{Name: "TestDoomed", Func: func(context.Context, *T) error {
			calls++
			return fmt.Errorf("attempt %d", calls)
		}},
	}}

	req := runner.Request{Retry: runner.RetryPolicy{Budget: 2}}
	result, events, err := execute(t, s, types.SuiteUnit("Hopeless"), req)
	require.NoError(t, err)

	require.Len(t, result.Tests, 1)
	assert.Equal(t, types.TestStatusFail, result.Tests[0].Status)
	assert.Equal(t, 3, result.Tests[0].Attempts)
	// Only the final attempt's error surfaces.
	assert.Equal(t, []string{
		"started Hopeless/TestDoomed",
		"failed Hopeless/TestDoomed: attempt 3",
		"finished Hopeless/TestDoomed",
	}, events.all())
}

func TestExecute_SkippedTest(t *testing.T) {
	s := &Suite{Name: "Picky", Tests: []Test{
		{Name: "TestSkipped", Func: func(ctx context.Context, t *T) error {
			t.Skipf("needs %s", "external network")
			return nil
		}},
		passingTest("TestRun"),
	}}

	result, events, err := execute(t, s, types.SuiteUnit("Picky"), runner.Request{})
	require.NoError(t, err)

	assert.Equal(t, types.TestStatusPass, result.Status)
	require.Len(t, result.Tests, 2)
	byName := map[string]*types.TestResult{}
	for _, tr := range result.Tests {
		byName[tr.Unit.Test] = tr
	}
	assert.Equal(t, types.TestStatusSkip, byName["TestSkipped"].Status)
	assert.Equal(t, types.TestStatusPass, byName["TestRun"].Status)

	assert.Contains(t, events.all(), "skipped Picky/TestSkipped")
}

func TestExecute_AllSkippedUnitReportsSkip(t *testing.T) {
	skip := func(ctx context.Context, t *T) error {
		t.Skip("not applicable here")
		return nil
	}
	s := &Suite{Name: "AllSkipped", Tests: []Test{
		{Name: "TestA", Func: skip},
		{Name: "TestB", Func: skip},
	}}

	result, _, err := execute(t, s, types.SuiteUnit("AllSkipped"), runner.Request{})
	require.NoError(t, err)
	assert.Equal(t, types.TestStatusSkip, result.Status)
	assert.Zero(t, result.FailureCount())
}

func TestExecute_PanicReportsErrorStatus(t *testing.T) {
	s := &Suite{Name: "Volatile", Tests: []Test{
		{Name: "TestPanics", Func: func(context.Context, *T) error {
			panic("index out of range")
		}},
	}}

	result, events, err := execute(t, s, types.SuiteUnit("Volatile"), runner.Request{})
	require.NoError(t, err)

	require.Len(t, result.Tests, 1)
	assert.Equal(t, types.TestStatusError, result.Tests[0].Status)
	assert.ErrorContains(t, result.Tests[0].Error, "test panicked: index out of range")
	assert.Equal(t, types.TestStatusFail, result.Status)
	assert.Contains(t, events.all()[1], "failed Volatile/TestPanics")
}

func TestExecute_SetupFailureIsUnitError(t *testing.T) {
	ran := false
	s := &Suite{
		Name:  "BadSetup",
		Setup: func(context.Context) error { return fmt.Errorf("database unreachable") },
		Tests: []Test{{Name: "TestNever", Func: func(context.Context, *T) error {
			ran = true
			return nil
		}}},
	}

	result, events, err := execute(t, s, types.SuiteUnit("BadSetup"), runner.Request{})
	require.ErrorContains(t, err, "suite BadSetup setup failed: database unreachable")
	assert.Nil(t, result)
	assert.False(t, ran, "no test may run after a setup failure")
	assert.Empty(t, events.all(), "a unit that never started fires no test events")
}

func TestExecute_SetupPanicIsUnitError(t *testing.T) {
	s := &Suite{
		Name:  "PanicSetup",
		Setup: func(context.Context) error { panic("nil deref") },
		Tests: []Test{passingTest("TestNever")},
	}

	_, _, err := execute(t, s, types.SuiteUnit("PanicSetup"), runner.Request{})
	require.ErrorContains(t, err, "setup panicked: nil deref")
}

func TestExecute_SetupRunsOncePerUnit(t *testing.T) {
	setups := 0
	s := &Suite{
		Name:  "Counted",
		Setup: func(context.Context) error { setups++; return nil },
		Tests: []Test{passingTest("TestA"), passingTest("TestB"), passingTest("TestC")},
	}

	result, _, err := execute(t, s, types.SuiteUnit("Counted"), runner.Request{})
	require.NoError(t, err)
	assert.Len(t, result.Tests, 3)
	assert.Equal(t, 1, setups)
}

// selectFilter passes only leaves whose names are listed.
type selectFilter struct {
	allow map[string]bool
}

func (f selectFilter) ShouldRun(desc *types.Description) bool {
	if !desc.IsLeaf() {
		return true
	}
	return f.allow[desc.Unit.Test]
}

func (f selectFilter) Describe() string { return "static selection" }

func TestExecute_FilteredTestsFireNoEvents(t *testing.T) {
	executed := map[string]bool{}
	mk := func(name string) Test {
		return Test{Name: name, Func: func(context.Context, *T) error {
			executed[name] = true
			return nil
		}}
	}
	s := &Suite{Name: "Sharded", Tests: []Test{mk("TestA"), mk("TestB"), mk("TestC")}}

	req := runner.Request{Filter: selectFilter{allow: map[string]bool{"TestB": true}}}
	result, events, err := execute(t, s, types.SuiteUnit("Sharded"), req)
	require.NoError(t, err)

	require.Len(t, result.Tests, 1)
	assert.Equal(t, "TestB", result.Tests[0].Unit.Test)
	assert.Equal(t, map[string]bool{"TestB": true}, executed)
	assert.Equal(t, []string{"started Sharded/TestB", "finished Sharded/TestB"}, events.all())
}

func TestExecute_SetupSkippedWhenFilterRejectsEverything(t *testing.T) {
	setups := 0
	s := &Suite{
		Name:  "Sidelined",
		Setup: func(context.Context) error { setups++; return nil },
		Tests: []Test{passingTest("TestA")},
	}

	req := runner.Request{Filter: selectFilter{allow: map[string]bool{}}}
	result, events, err := execute(t, s, types.SuiteUnit("Sidelined"), req)
	require.NoError(t, err)

	assert.Equal(t, types.TestStatusPass, result.Status)
	assert.Empty(t, result.Tests)
	assert.Empty(t, events.all())
	assert.Zero(t, setups, "setup must not run for a fully filtered unit")
}

func TestExecute_LegacyCase(t *testing.T) {
	ran := false
	s := &Suite{Name: "OldStyle", Case: caseFunc(func(ctx context.Context, t *T) error {
		ran = true
		return nil
	})}

	result, events, err := execute(t, s, types.SuiteUnit("OldStyle"), runner.Request{})
	require.NoError(t, err)

	assert.True(t, ran)
	require.Len(t, result.Tests, 1)
	assert.Equal(t, CaseTestName, result.Tests[0].Unit.Test)
	assert.Equal(t, []string{
		"started OldStyle/" + CaseTestName,
		"finished OldStyle/" + CaseTestName,
	}, events.all())
}

func TestExecute_CustomRunner(t *testing.T) {
	var ran []string
	s := &Suite{Name: "SelfRun", Runner: staticRunner{
		names: []string{"TestOne", "TestTwo"},
		run: func(ctx context.Context, name string, t *T) error {
			ran = append(ran, name)
			if name == "TestTwo" {
				return fmt.Errorf("two is broken")
			}
			return nil
		},
	}}

	result, _, err := execute(t, s, types.SuiteUnit("SelfRun"), runner.Request{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"TestOne", "TestTwo"}, ran)
	assert.Equal(t, types.TestStatusFail, result.Status)
	assert.Equal(t, 1, result.FailureCount())
}

func TestExecute_SingleFunctionUnit(t *testing.T) {
	executed := map[string]bool{}
	mk := func(name string) Test {
		return Test{Name: name, Func: func(context.Context, *T) error {
			executed[name] = true
			return nil
		}}
	}
	s := &Suite{Name: "Narrow", Tests: []Test{mk("TestA"), mk("TestB")}}

	result, _, err := execute(t, s, types.FunctionUnit("Narrow", "TestB"), runner.Request{})
	require.NoError(t, err)

	assert.Equal(t, map[string]bool{"TestB": true}, executed)
	require.Len(t, result.Tests, 1)
	assert.Equal(t, "Narrow/TestB", result.Tests[0].Unit.DisplayName())
}

func TestExecute_ContextCancelledMidUnit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Suite{Name: "Interrupted", Tests: []Test{
		{Name: "TestA", Func: func(context.Context, *T) error {
			cancel()
			return nil
		}},
		passingTest("TestB"),
	}}

	r := newTestRegistry()
	require.NoError(t, r.Register(s))
	desc, err := r.Describe(types.SuiteUnit("Interrupted"))
	require.NoError(t, err)

	result, err := r.Execute(ctx, runner.Request{Unit: types.SuiteUnit("Interrupted"), Desc: desc}, &eventLog{})
	require.NoError(t, err)

	assert.Equal(t, types.TestStatusError, result.Status)
	assert.ErrorIs(t, result.Error, context.Canceled)
	assert.Len(t, result.Tests, 1, "the unit stops dispatching once its context dies")
}

func TestT_WritersTargetGlobalChannels(t *testing.T) {
	var stdout, stderr bytes.Buffer
	prevOut := capture.Out.Swap(&stdout)
	prevErr := capture.Err.Swap(&stderr)
	defer func() {
		capture.Out.Swap(prevOut)
		capture.Err.Swap(prevErr)
	}()

	s := &Suite{Name: "Chatty", Tests: []Test{
		{Name: "TestWrites", Func: func(ctx context.Context, t *T) error {
			t.Logf("hello from %s", t.Name())
			fmt.Fprint(t.Stderr(), "warning line")
			return nil
		}},
	}}

	_, _, err := execute(t, s, types.SuiteUnit("Chatty"), runner.Request{})
	require.NoError(t, err)

	assert.Equal(t, "hello from Chatty/TestWrites\n", stdout.String())
	assert.Equal(t, "warning line", stderr.String())
}

func TestT_SkipState(t *testing.T) {
	tt := newT(types.FunctionUnit("S", "TestA"))
	assert.False(t, tt.Skipped())
	assert.Empty(t, tt.SkipReason())

	tt.Skipf("missing %s", "fixture")
	assert.True(t, tt.Skipped())
	assert.Equal(t, "missing fixture", tt.SkipReason())
	assert.Equal(t, "S/TestA", tt.Name())
}
