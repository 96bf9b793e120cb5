package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// TestRunner defines the interface for executing a set of test specs.
type TestRunner interface {
	Run(ctx context.Context) (*types.RunResult, error)
}

// Config holds configuration for creating a new runner
type Config struct {
	Provider Provider
	Specs    []string
	Log      log.Logger
	// Listeners receive lifecycle events: the capture manager, console
	// listeners and report sinks all plug in here.
	Listeners []Listener
	// Concurrency is the resolved worker count, at least 1.
	Concurrency int
	// DefaultParallel decides the scheduling mode of suites that do not
	// declare one.
	DefaultParallel bool
	// FailFast aborts the run at the first failure.
	FailFast bool
	// Retries is the per-test-function retry budget.
	Retries int
	// Shard, when set, limits the run to one deterministic slice of the
	// scheduled test functions.
	Shard *ShardSpec
}

// ShardSpec selects shard Index out of Count.
type ShardSpec struct {
	Index int
	Count int
}

// String formats the spec in the M/N form it was parsed from.
func (s *ShardSpec) String() string {
	return fmt.Sprintf("%d/%d", s.Index, s.Count)
}

// ParseShardSpec parses "M/N" with 0 <= M < N.
func ParseShardSpec(raw string) (*ShardSpec, error) {
	var index, count int
	if n, err := fmt.Sscanf(raw, "%d/%d", &index, &count); err != nil || n != 2 {
		return nil, fmt.Errorf("test shard must be in the form M/N, got %q", raw)
	}
	if count <= 0 || index < 0 || index >= count {
		return nil, fmt.Errorf("test shard requires 0 <= M < N, got %q", raw)
	}
	return &ShardSpec{Index: index, Count: count}, nil
}

// runner implements TestRunner.
type runner struct {
	cfg   Config
	log   log.Logger
	runID string
}

// NewTestRunner creates a new test runner instance
func NewTestRunner(cfg Config) (TestRunner, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries cannot be negative, got %d", cfg.Retries)
	}

	cfg.Log.Debug("NewTestRunner()", "specs", len(cfg.Specs), "concurrency", cfg.Concurrency,
		"defaultParallel", cfg.DefaultParallel, "failFast", cfg.FailFast, "retries", cfg.Retries)

	return &runner{
		cfg: cfg,
		log: cfg.Log,
	}, nil
}

// Run resolves the configured specs and executes them. The returned
// result is complete even when the run aborted early or crashed: the
// final listener flush always happens, and a crash surfaces as one
// synthetic failure in the aggregate plus a non-nil error.
func (r *runner) Run(ctx context.Context) (runResult *types.RunResult, err error) {
	r.runID = uuid.New().String()
	defer func() { r.runID = "" }()
	start := time.Now()
	r.log.Debug("Starting test run", "run_id", r.runID)

	resolver := NewResolver(r.log, r.cfg.Provider)
	units, err := resolver.Resolve(r.cfg.Specs)
	if err != nil {
		return nil, err
	}

	template := Request{Retry: RetryPolicy{
		Budget: r.cfg.Retries,
		OnRetry: func(attempt int, retryErr error) {
			r.log.Info("Retrying failed test", "attempt", attempt, "error", retryErr)
		},
	}}
	if r.cfg.Shard != nil {
		filter, ferr := NewShardFilter(r.cfg.Shard.Index, r.cfg.Shard.Count)
		if ferr != nil {
			return nil, ferr
		}
		// Shard membership derives from the sorted display-name order, not
		// resolution order, so every shard of a run partitions the same
		// sequence no matter how its spec list was assembled. One serial
		// pass over the sorted trees pins every decision before workers
		// can race on them.
		SortUnits(units)
		filter.Prime(descriptions(units))
		template.Filter = filter
		r.log.Info("Sharding enabled", "shard", filter.Describe(), "tests", filter.Evaluated())
	}

	root := types.NewRootDescription()
	for _, u := range units {
		root.AddChild(u.Desc)
	}

	ctrl := NewAbortController()
	listener := NewFailFastListener(r.log, NewMultiListener(r.log, r.cfg.Listeners...), ctrl, r.cfg.FailFast)

	result := types.NewRunResult(r.runID)

	// Last-resort guard: if the run path unwinds without completing, a
	// synthetic failure marks the crash and listeners still flush, so
	// partial captures and reports are not silently lost. On normal
	// completion the guard does nothing.
	completed := false
	defer func() {
		if completed {
			return
		}
		cause := "run exited before completion"
		if rec := recover(); rec != nil {
			cause = fmt.Sprintf("%v", rec)
		}
		r.log.Error("Run terminated abnormally", "run_id", result.RunID, "cause", cause)
		result.AddFailure(&types.Failure{
			Unit:  types.SuiteUnit("abnormal-exit"),
			Error: fmt.Errorf("abnormal exit - test run crashed: %s", cause),
		})
		result.Finish(start)
		result.WasRun = false
		_ = listener.RunFinished(result)
		runResult = result
		err = fmt.Errorf("test run terminated abnormally: %s", cause)
	}()

	if err := listener.RunStarted(root); err != nil {
		r.log.Error("Run start notification failed", "error", err)
	}

	scheduler := NewScheduler(r.log, r.cfg.Provider, r.cfg.Concurrency, r.cfg.DefaultParallel, ctrl)
	unitResults, runErr := scheduler.Run(ctx, units, template, listener)
	for _, ur := range unitResults {
		result.AddUnit(ur)
	}

	result.Finish(start)
	if ctrl.Aborted() {
		result.WasRun = false
		r.log.Warn("Run aborted early", "failures", result.FailureCount())
	}

	if err := listener.RunFinished(result); err != nil {
		r.log.Error("Run finish notification failed", "error", err)
	}
	completed = true

	if runErr != nil {
		return result, runErr
	}
	r.log.Info("Test run complete", "run_id", result.RunID, "total", result.Stats.Total,
		"passed", result.Stats.Passed, "failed", result.Stats.Failed,
		"skipped", result.Stats.Skipped, "errored", result.Stats.Errored,
		"duration", result.Duration)
	return result, nil
}

// descriptions projects the resolved units onto their description trees.
func descriptions(units []*ResolvedUnit) []*types.Description {
	descs := make([]*types.Description, len(units))
	for i, u := range units {
		descs[i] = u.Desc
	}
	return descs
}
