// Package exitcodes defines the standard exit codes used by op-testrun.
package exitcodes

// Exit code constants used by op-testrun
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when every selected test passes
// * RuntimeErr (2): Used for usage errors, invalid specs or other failures
//   that prevent tests from running at all
//
// A run that executes tests and sees failures exits with the aggregate
// failure count itself, so callers can read the number of failures
// straight from the exit status. Failure counts are not clamped; a run
// with two failures exits 2 even though that collides with RuntimeErr,
// which is why RuntimeErr is only reported before any test executes.
const (
	Success    = 0 // All tests pass
	RuntimeErr = 2 // Usage or runtime errors before tests execute
)
