package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-testrun/runner"
	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// statusChar returns a character representing the test status
func statusChar(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓"
	case types.TestStatusFail:
		return "✗"
	case types.TestStatusSkip:
		return "⊝"
	case types.TestStatusError:
		return "⚠"
	default:
		return "?"
	}
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// ConsoleListener is the default progress reporter: one marker per test
// while the run executes, then the failure digest and tally once the run
// completes. Construct it with the real stdout, taken before any capture
// swaps the global channels, so progress stays visible while test output
// is being redirected.
type ConsoleListener struct {
	runner.BaseListener

	mu sync.Mutex
	w  io.Writer
}

// NewConsoleListener creates a ConsoleListener writing to w.
func NewConsoleListener(w io.Writer) *ConsoleListener {
	return &ConsoleListener{w: w}
}

func (c *ConsoleListener) TestStarted(desc *types.Description) error {
	return c.write(".")
}

func (c *ConsoleListener) TestFailed(failure *types.Failure) error {
	return c.write("F")
}

func (c *ConsoleListener) TestSkipped(desc *types.Description) error {
	return c.write("S")
}

func (c *ConsoleListener) RunFinished(result *types.RunResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	b.WriteString("\n")
	fmt.Fprintf(&b, "Time: %.3fs\n", result.Duration.Seconds())
	b.WriteString(FormatFailures(result.Failures))
	b.WriteString(formatTally(result))
	_, err := io.WriteString(c.w, b.String())
	return err
}

func (c *ConsoleListener) write(marker string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.w, marker)
	return err
}

// ClassTimerListener replaces ConsoleListener when per-test timing is
// requested. It prints a header line whenever the running suite changes
// and one timed line per finished test. With multiple workers the suite
// headers follow the serialized event order, so a suite can appear more
// than once when its tests interleave with another suite's.
type ClassTimerListener struct {
	runner.BaseListener

	mu        sync.Mutex
	w         io.Writer
	lastSuite string
}

// NewClassTimerListener creates a ClassTimerListener writing to w.
func NewClassTimerListener(w io.Writer) *ClassTimerListener {
	return &ClassTimerListener{w: w}
}

func (c *ClassTimerListener) TestStarted(desc *types.Description) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if desc.Unit.Suite == c.lastSuite {
		return nil
	}
	c.lastSuite = desc.Unit.Suite
	_, err := fmt.Fprintln(c.w, desc.Unit.Suite)
	return err
}

func (c *ClassTimerListener) TestFinished(result *types.TestResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	line := fmt.Sprintf("  %s %s (%s)", statusChar(result.Status), result.Unit.Test, formatDuration(result.Duration))
	if result.Attempts > 1 {
		line += fmt.Sprintf(" [%d attempts]", result.Attempts)
	}
	_, err := fmt.Fprintln(c.w, line)
	return err
}

func (c *ClassTimerListener) RunFinished(result *types.RunResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	fmt.Fprintf(&b, "\nTime: %.3fs\n", result.Duration.Seconds())
	b.WriteString(FormatFailures(result.Failures))
	b.WriteString(formatTally(result))
	_, err := io.WriteString(c.w, b.String())
	return err
}

// FormatFailures renders the numbered failure digest printed when a run
// finishes with failures. An empty failure list renders nothing.
func FormatFailures(failures []*types.Failure) string {
	if len(failures) == 0 {
		return ""
	}
	var b strings.Builder
	if len(failures) == 1 {
		b.WriteString("There was 1 failure:\n")
	} else {
		fmt.Fprintf(&b, "There were %d failures:\n", len(failures))
	}
	for i, f := range failures {
		fmt.Fprintf(&b, "%d) %s\n", i+1, f.Unit.DisplayName())
		if f.Error != nil {
			fmt.Fprintf(&b, "   %v\n", f.Error)
		}
	}
	return b.String()
}

// formatTally renders the closing line of a run: the classic OK line on
// success, the failure tally otherwise.
func formatTally(result *types.RunResult) string {
	stats := result.Stats
	if result.FailureCount() == 0 {
		if stats.Skipped > 0 {
			return fmt.Sprintf("OK (%d tests, %d skipped)\n", stats.Total, stats.Skipped)
		}
		return fmt.Sprintf("OK (%d tests)\n", stats.Total)
	}
	return fmt.Sprintf("FAILURES!!! Tests run: %d, Failures: %d\n", stats.Total, result.FailureCount())
}
