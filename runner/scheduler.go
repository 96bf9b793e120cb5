package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// unitWork is one scheduled unit plus its effective scheduling mode.
type unitWork struct {
	req    Request
	serial bool
}

// unitWorkResult carries a finished unit back to the collector.
type unitWorkResult struct {
	unit   types.TestUnit
	result *types.UnitResult
	err    error
}

// Scheduler runs resolved units across a bounded worker pool. Units
// whose effective mode is parallel are dispatched with no ordering
// guarantee between them. Units whose effective mode is serial hold
// their suite's mutual-exclusion domain while they execute: no two
// serial units of the same suite ever overlap, while serial units of
// different suites may still overlap with anything else. With a single
// worker the pool degenerates to strict submission-order execution.
type Scheduler struct {
	log             log.Logger
	provider        Provider
	concurrency     int
	defaultParallel bool
	ctrl            *AbortController
	tracer          trace.Tracer

	lockMu     sync.Mutex
	suiteLocks map[string]*sync.Mutex
}

// NewScheduler creates a scheduler with the given worker count. The
// count must already be resolved; zero or negative panics.
func NewScheduler(logger log.Logger, provider Provider, concurrency int, defaultParallel bool, ctrl *AbortController) *Scheduler {
	if provider == nil {
		panic("provider cannot be nil")
	}
	if concurrency < 1 {
		panic("concurrency must be at least 1")
	}
	if ctrl == nil {
		ctrl = NewAbortController()
	}
	return &Scheduler{
		log:             logger.New("component", "scheduler"),
		provider:        provider,
		concurrency:     concurrency,
		defaultParallel: defaultParallel,
		ctrl:            ctrl,
		tracer:          otel.Tracer("test runner"),
		suiteLocks:      make(map[string]*sync.Mutex),
	}
}

// Run executes the units, honoring each one's scheduling mode, the
// request template's filter and retry policy, and the abort controller.
// It returns one result per executed unit; units never dispatched
// because of an abort produce no result.
func (s *Scheduler) Run(ctx context.Context, units []*ResolvedUnit, template Request, listener Listener) ([]*types.UnitResult, error) {
	if len(units) == 0 {
		s.log.Debug("No units to execute")
		return nil, nil
	}

	work := make([]unitWork, 0, len(units))
	for _, u := range units {
		req := template
		req.Unit = u.Unit
		req.Desc = u.Desc
		work = append(work, unitWork{req: req, serial: u.Serial(s.defaultParallel)})
	}

	if s.concurrency == 1 {
		return s.runSerial(ctx, work, listener)
	}
	return s.runParallel(ctx, work, listener)
}

// runSerial executes units one at a time in submission order. The abort
// check happens between units, so with fail-fast a unit after the first
// failure is never dispatched.
func (s *Scheduler) runSerial(ctx context.Context, work []unitWork, listener Listener) ([]*types.UnitResult, error) {
	results := make([]*types.UnitResult, 0, len(work))
	for _, w := range work {
		if s.ctrl.Aborted() {
			s.log.Info("Run aborted; skipping remaining units", "remaining", len(work)-len(results))
			break
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		results = append(results, s.executeUnit(ctx, w, listener))
	}
	return results, nil
}

// runParallel dispatches units across the worker pool.
func (s *Scheduler) runParallel(ctx context.Context, work []unitWork, listener Listener) ([]*types.UnitResult, error) {
	start := time.Now()
	s.log.Info("Starting parallel execution", "units", len(work), "concurrency", s.concurrency)

	// Conservative buffering; the pool is the throughput bound, not the
	// channels.
	bufferSize := min(s.concurrency*2, 100)
	workChan := make(chan unitWork, bufferSize)
	resultChan := make(chan unitWorkResult, bufferSize)

	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go s.worker(ctx, &wg, workChan, resultChan, listener)
	}

	// Feed the pool, stopping at the first abort so not-yet-dispatched
	// units never start. In-flight units keep draining into resultChan.
	go func() {
		defer close(workChan)
		for _, w := range work {
			if s.ctrl.Aborted() {
				s.log.Info("Run aborted; no further units will be dispatched")
				return
			}
			select {
			case workChan <- w:
			case <-ctx.Done():
				s.log.Debug("Context cancelled while dispatching units")
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]*types.UnitResult, 0, len(work))
	for wr := range resultChan {
		if wr.err != nil {
			s.log.Error("Unit execution failed", "unit", wr.unit.DisplayName(), "error", wr.err)
			results = append(results, &types.UnitResult{
				Unit:   wr.unit,
				Status: types.TestStatusError,
				Error:  wr.err,
			})
			continue
		}
		results = append(results, wr.result)
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	s.log.Info("Parallel execution completed", "duration", time.Since(start), "executed", len(results), "scheduled", len(work))
	return results, nil
}

// worker processes units off the work channel until it closes or the
// context is cancelled.
func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, workChan <-chan unitWork, resultChan chan<- unitWorkResult, listener Listener) {
	defer wg.Done()

	for {
		select {
		case w, ok := <-workChan:
			if !ok {
				return
			}
			result := s.executeUnit(ctx, w, listener)
			select {
			case resultChan <- unitWorkResult{unit: w.req.Unit, result: result}:
			case <-ctx.Done():
				s.log.Debug("Context cancelled while reporting unit result", "unit", w.req.Unit.DisplayName())
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// executeUnit runs one unit, holding its suite's serial domain when the
// unit is serial, converting provider errors and panics into an errored
// unit result so a broken unit counts one failure instead of taking the
// scheduler down.
func (s *Scheduler) executeUnit(ctx context.Context, w unitWork, listener Listener) (result *types.UnitResult) {
	name := w.req.Unit.DisplayName()
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("Unit panicked", "unit", name, "panic", rec)
			result = &types.UnitResult{
				Unit:   w.req.Unit,
				Status: types.TestStatusError,
				Error:  fmt.Errorf("unit %s panicked: %v", name, rec),
			}
		}
	}()

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("unit %s", name))
	defer span.End()

	if w.serial {
		lock := s.suiteLock(w.req.Unit.Suite)
		lock.Lock()
		defer lock.Unlock()
	}

	s.log.Debug("Executing unit", "unit", name, "serial", w.serial)
	res, err := s.provider.Execute(ctx, w.req, listener)
	if err != nil {
		s.log.Error("Unit could not run", "unit", name, "error", err)
		return &types.UnitResult{
			Unit:   w.req.Unit,
			Status: types.TestStatusError,
			Error:  err,
		}
	}
	return res
}

// suiteLock returns the mutual-exclusion domain of a suite, creating it
// on first use.
func (s *Scheduler) suiteLock(suite string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.suiteLocks[suite]
	if !ok {
		lock = &sync.Mutex{}
		s.suiteLocks[suite] = lock
	}
	return lock
}
