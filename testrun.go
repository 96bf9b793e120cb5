package testrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testrun/capture"
	"github.com/ethereum-optimism/infra/op-testrun/exitcodes"
	"github.com/ethereum-optimism/infra/op-testrun/registry"
	"github.com/ethereum-optimism/infra/op-testrun/reporting"
	"github.com/ethereum-optimism/infra/op-testrun/runner"
	"github.com/ethereum-optimism/infra/op-testrun/service"
	"github.com/ethereum-optimism/infra/op-testrun/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// testRun implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &testRun{}

// testRun is the console test runner service. It owns exactly one run of
// the configured specs: resolve, execute, print the summary, and report
// the failure count through the exit status.
type testRun struct {
	ctx       context.Context
	config    *Config
	version   string
	runner    runner.TestRunner
	captures  *capture.Manager
	formatter ResultFormatter
	reporter  MetricsReporter
	monitor   *service.Service
	result    *types.RunResult

	running atomic.Bool
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New assembles the service: the listener chain dictated by the config,
// the runner over the process-wide suite registry, and the optional
// monitoring servers. No suite code runs until Start.
func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*testRun, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating testrun with config",
		"specs", len(config.Specs),
		"failFast", config.FailFast,
		"threads", config.Threads,
		"retries", config.Retries,
		"xmlReport", config.XMLReport,
		"suppressOutput", config.SuppressOutput)

	// Progress and summary output goes to the real stdout, grabbed before
	// any capture swaps the global channels.
	consoleOut := capture.Out.Current()

	var listeners []runner.Listener
	var captures *capture.Manager
	if config.CaptureEnabled() {
		if err := os.MkdirAll(config.OutDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", config.OutDir, err)
		}
		// The capture manager must precede the report listeners so streams
		// are swapped before any of them observe a test event.
		captures = capture.NewManager(config.Log, config.OutDir)
		listeners = append(listeners, captures)

		if config.XMLReport {
			listeners = append(listeners, reporting.NewXMLReportListener(config.Log, config.OutDir, captures))
		}
		listeners = append(listeners, reporting.NewSinkListener(config.Log,
			reporting.NewTextSummarySink(config.OutDir, true)))
	}
	if config.PerTestTimer {
		listeners = append(listeners, reporting.NewClassTimerListener(consoleOut))
	} else {
		listeners = append(listeners, reporting.NewConsoleListener(consoleOut))
	}

	testRunner, err := runner.NewTestRunner(runner.Config{
		Provider:        registry.Default(),
		Specs:           config.Specs,
		Log:             config.Log,
		Listeners:       listeners,
		Concurrency:     config.Threads,
		DefaultParallel: config.DefaultParallel,
		FailFast:        config.FailFast,
		Retries:         config.Retries,
		Shard:           config.Shard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create test runner: %w", err)
	}
	config.Log.Info("testrun.New: created test runner", "listeners", len(listeners))

	n := &testRun{
		ctx:              ctx,
		config:           config,
		version:          version,
		runner:           testRunner,
		captures:         captures,
		formatter:        NewConsoleResultFormatter(config.Log, consoleOut),
		reporter:         NewDefaultMetricsReporter(),
		shutdownCallback: shutdownCallback,
	}
	if config.Monitoring {
		n.monitor = service.New(config.Log, version)
	}
	return n, nil
}

// Start runs the configured test specs once and reports the outcome.
// Start implements the cliapp.Lifecycle interface.
func (n *testRun) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			n.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	n.ctx = ctx
	n.running.Store(true)
	n.config.Log.Info("Starting op-testrun", "version", n.version, "specs", len(n.config.Specs))

	if n.monitor != nil {
		n.monitor.Start(ctx)
	}

	err := n.runTests(ctx)
	if err != nil {
		// For runtime errors (like panics or configuration issues), return exit code 2
		n.config.Log.Error("Runtime error running tests", "error", err)
		return cli.Exit(err.Error(), exitcodes.RuntimeErr)
	}

	n.config.Log.Info("Tests completed, exiting")

	// A run with failures exits with the failure count itself.
	if failures := n.result.FailureCount(); failures > 0 {
		n.config.Log.Warn("Test run completed with failures", "failures", failures)
		return NewTestFailureError(failures,
			fmt.Sprintf("%d of %d tests failed", failures, n.result.Stats.Total))
	}

	// All tests passed; signal application shutdown.
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.shutdownCallback(nil)
	}()
	return nil
}

// runTests runs the configured specs and processes the result.
func (n *testRun) runTests(ctx context.Context) error {
	n.config.Log.Info("Running tests...", "specs", len(n.config.Specs))
	result, err := n.runner.Run(ctx)
	if result != nil {
		// Even an abnormally terminated run has a complete aggregate; print
		// and report it before surfacing the error.
		n.result = result
		n.printResults(result)
	}
	if err != nil {
		// This is a runtime error (not a test failure)
		n.config.Log.Error("Runtime error running tests", "error", err)
		return NewRuntimeError(err)
	}
	n.config.Log.Info("Test run completed", "run_id", result.RunID, "status", result.Status)
	return nil
}

// printResults renders the summary table and emits run metrics.
func (n *testRun) printResults(result *types.RunResult) {
	if err := n.formatter.FormatResults(result); err != nil {
		n.config.Log.Error("Failed to format results", "error", err)
	}
	n.reporter.ReportResults(result)
}

// Result returns the aggregate of the completed run. Harness callers
// inspect the recorded exit status here instead of the process exit.
func (n *testRun) Result() *types.RunResult {
	return n.result
}

// Stop stops the op-testrun service.
// Stop implements the cliapp.Lifecycle interface.
func (n *testRun) Stop(ctx context.Context) error {
	n.config.Log.Info("Stopping op-testrun")

	// Check if we're already stopped
	if !n.running.Load() {
		n.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	n.running.Store(false)

	if n.monitor != nil {
		n.monitor.Shutdown()
	}

	n.config.Log.Info("op-testrun stopped successfully")
	return nil
}

// Stopped returns true if the op-testrun service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (n *testRun) Stopped() bool {
	return !n.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving to the next test.
func (n *testRun) WaitForShutdown(ctx context.Context) error {
	n.config.Log.Debug("Waiting for all goroutines to terminate")

	// Create a channel that will be closed when the WaitGroup is done
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	// Wait for either WaitGroup completion or context expiration
	select {
	case <-done:
		n.config.Log.Debug("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		n.config.Log.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
