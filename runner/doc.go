// Package runner executes resolved test specs against a provider in a
// structured, observable way.
//
// The main components are:
//   - Resolver: Parses spec strings and resolves them into executable units
//   - ShardFilter: Deterministically restricts a run to one slice of the tests
//   - Scheduler: Dispatches units across a bounded worker pool, honoring
//     per-suite serial domains and fail-fast aborts
//   - RetryPolicy: Re-attempts failing test functions up to a budget
//   - Listener/MultiListener: Carry lifecycle events to capture and reporting
//   - TestRunner: Ties resolution, sharding, scheduling and reporting into
//     one run whose failure count becomes the process exit status
//
// These components work together so a build tool can invoke one binary per
// test target and trust the exit code, the captured output files and the
// generated reports.
package runner
