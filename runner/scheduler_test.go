package runner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-testrun/types"
)

func resolveUnits(t *testing.T, provider Provider, specs ...string) []*ResolvedUnit {
	t.Helper()
	units, err := NewResolver(testLogger(), provider).Resolve(specs)
	require.NoError(t, err)
	return units
}

func TestNewScheduler_Validation(t *testing.T) {
	provider := newFakeProvider()
	assert.Panics(t, func() { NewScheduler(testLogger(), nil, 1, false, nil) })
	assert.Panics(t, func() { NewScheduler(testLogger(), provider, 0, false, nil) })
	assert.NotPanics(t, func() { NewScheduler(testLogger(), provider, 1, false, nil) })
}

func TestScheduler_SingleWorkerRunsInSubmissionOrder(t *testing.T) {
	provider := newFakeProvider()
	provider.addSuite("Charlie", types.ParallelDefault, "TestC")
	provider.addSuite("Alpha", types.ParallelDefault, "TestA")
	provider.addSuite("Bravo", types.ParallelDefault, "TestB")

	units := resolveUnits(t, provider, "Charlie", "Alpha", "Bravo")
	s := NewScheduler(testLogger(), provider, 1, false, NewAbortController())

	results, err := s.Run(context.Background(), units, Request{}, &recordingListener{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, []string{"Charlie", "Alpha", "Bravo"}, provider.executed())
}

func TestScheduler_SameSuiteSerialUnitsNeverOverlap(t *testing.T) {
	provider := newFakeProvider()
	provider.addSuite("Exclusive", types.ParallelSerial, "TestA", "TestB", "TestC")
	provider.delay = 20 * time.Millisecond

	units := resolveUnits(t, provider,
		"Exclusive#TestA", "Exclusive#TestB", "Exclusive#TestC")
	s := NewScheduler(testLogger(), provider, 4, true, NewAbortController())

	results, err := s.Run(context.Background(), units, Request{}, &recordingListener{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 1, provider.maxOverlap("Exclusive"),
		"serial units of one suite must hold its mutual-exclusion domain")
}

func TestScheduler_ParallelUnitsOverlap(t *testing.T) {
	provider := newFakeProvider()
	provider.addSuite("Concurrent", types.ParallelAlways, "TestA", "TestB", "TestC")
	barrier := &sync.WaitGroup{}
	barrier.Add(3)
	provider.barrier = barrier

	units := resolveUnits(t, provider,
		"Concurrent#TestA", "Concurrent#TestB", "Concurrent#TestC")
	s := NewScheduler(testLogger(), provider, 4, false, NewAbortController())

	results, err := s.Run(context.Background(), units, Request{}, &recordingListener{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, 3, provider.maxOverlap("Concurrent"),
		"parallel units must all be in flight at once")
}

func TestScheduler_DefaultModeFollowsRunPolicy(t *testing.T) {
	provider := newFakeProvider()
	provider.addSuite("Undeclared", types.ParallelDefault, "TestA", "TestB")
	barrier := &sync.WaitGroup{}
	barrier.Add(2)
	provider.barrier = barrier

	units := resolveUnits(t, provider, "Undeclared#TestA", "Undeclared#TestB")
	s := NewScheduler(testLogger(), provider, 2, true, NewAbortController())

	_, err := s.Run(context.Background(), units, Request{}, &recordingListener{})
	require.NoError(t, err)
	assert.Equal(t, 2, provider.maxOverlap("Undeclared"))
}

func TestScheduler_FailFastStopsDispatchOnly(t *testing.T) {
	provider := newFakeProvider()
	provider.addSuite("First", types.ParallelDefault, "TestA")
	provider.addSuite("Second", types.ParallelDefault, "TestB").
		failOnce("TestB", fmt.Errorf("broken"))
	provider.addSuite("Third", types.ParallelDefault, "TestC")

	units := resolveUnits(t, provider, "First", "Second", "Third")

	ctrl := NewAbortController()
	inner := &recordingListener{}
	listener := NewFailFastListener(testLogger(), inner, ctrl, true)
	s := NewScheduler(testLogger(), provider, 1, false, ctrl)

	results, err := s.Run(context.Background(), units, Request{}, listener)
	require.NoError(t, err)

	// The failing unit finishes and reports; the unit after it is never
	// dispatched.
	require.Len(t, results, 2)
	assert.True(t, ctrl.Aborted())
	assert.Equal(t, []string{"First", "Second"}, provider.executed())
	assert.Equal(t, 1, listener.Failures())
}

func TestScheduler_PanicIsContainedToUnit(t *testing.T) {
	provider := newFakeProvider()
	provider.addSuite("Doomed", types.ParallelDefault, "TestA").panicOnExecute = true
	provider.addSuite("Healthy", types.ParallelDefault, "TestB")

	units := resolveUnits(t, provider, "Doomed", "Healthy")
	s := NewScheduler(testLogger(), provider, 2, false, NewAbortController())

	results, err := s.Run(context.Background(), units, Request{}, &recordingListener{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	byName := make(map[string]*types.UnitResult)
	for _, r := range results {
		byName[r.Unit.DisplayName()] = r
	}
	require.Contains(t, byName, "Doomed")
	require.Contains(t, byName, "Healthy")

	assert.Equal(t, types.TestStatusError, byName["Doomed"].Status)
	require.Error(t, byName["Doomed"].Error)
	assert.Contains(t, byName["Doomed"].Error.Error(), "panicked")
	assert.Equal(t, 1, byName["Doomed"].FailureCount())

	assert.Equal(t, types.TestStatusPass, byName["Healthy"].Status)
}

func TestScheduler_ExecuteErrorYieldsErroredUnit(t *testing.T) {
	provider := newFakeProvider()
	provider.addSuite("Broken", types.ParallelDefault, "TestA").
		executeErr = fmt.Errorf("setup exploded")

	units := resolveUnits(t, provider, "Broken")
	s := NewScheduler(testLogger(), provider, 1, false, NewAbortController())

	results, err := s.Run(context.Background(), units, Request{}, &recordingListener{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, types.TestStatusError, results[0].Status)
	assert.ErrorContains(t, results[0].Error, "setup exploded")
	assert.Empty(t, results[0].Tests)
	assert.Equal(t, 1, results[0].FailureCount())
}

func TestScheduler_NoUnits(t *testing.T) {
	s := NewScheduler(testLogger(), newFakeProvider(), 2, false, NewAbortController())
	results, err := s.Run(context.Background(), nil, Request{}, &recordingListener{})
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestScheduler_CancelledContext(t *testing.T) {
	provider := newFakeProvider()
	provider.addSuite("AlphaSuite", types.ParallelDefault, "TestA")
	units := resolveUnits(t, provider, "AlphaSuite")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScheduler(testLogger(), provider, 1, false, NewAbortController())
	results, err := s.Run(ctx, units, Request{}, &recordingListener{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	assert.Empty(t, provider.executed())
}

func TestScheduler_RequestTemplateAppliedToEveryUnit(t *testing.T) {
	provider := newFakeProvider()
	provider.addSuite("AlphaSuite", types.ParallelDefault, "TestA").
		failOnce("TestA", fmt.Errorf("transient"))
	provider.addSuite("BetaSuite", types.ParallelDefault, "TestB").
		failOnce("TestB", fmt.Errorf("transient"))

	units := resolveUnits(t, provider, "AlphaSuite", "BetaSuite")
	s := NewScheduler(testLogger(), provider, 1, false, NewAbortController())

	template := Request{Retry: RetryPolicy{Budget: 1}}
	results, err := s.Run(context.Background(), units, template, &recordingListener{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, r := range results {
		assert.Equal(t, types.TestStatusPass, r.Status, "unit %s", r.Unit.DisplayName())
		require.Len(t, r.Tests, 1)
		assert.Equal(t, 2, r.Tests[0].Attempts)
	}
}
