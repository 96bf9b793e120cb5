package testrun

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// Helper function to convert bool to int
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// getResultString returns a colored string representing the test result
func getResultString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "✓ pass"
	case types.TestStatusSkip:
		return "- skip"
	case types.TestStatusError:
		return "⚠ error"
	default:
		return "✗ fail"
	}
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

// extractKeyErrorMessage extracts the most pertinent part of the error message for display
func extractKeyErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	// Panics carry the interesting detail right after the marker.
	if idx := strings.Index(errStr, "panic:"); idx != -1 {
		end := len(errStr)
		if newLine := strings.Index(errStr[idx:], "\n"); newLine != -1 {
			end = idx + newLine
		}
		return errStr[idx:end]
	}

	// If we can't find a specific pattern, limit to the first line or 80 chars
	if idx := strings.Index(errStr, "\n"); idx != -1 {
		errStr = errStr[:idx]
	}
	if len(errStr) > 80 {
		return errStr[:70] + "..."
	}

	return errStr
}
