package testrun

import (
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-testrun/types"
	"github.com/ethereum-optimism/infra/op-testrun/ui"
)

// ResultFormatter is responsible for formatting and displaying test results.
type ResultFormatter interface {
	FormatResults(result *types.RunResult) error
}

// ConsoleResultFormatter implements the ResultFormatter interface. It
// renders the run summary table on the writer it was constructed with,
// which should be the real stdout grabbed before any capture swap.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter writing
// to out. A nil writer falls back to os.Stdout.
func NewConsoleResultFormatter(logger log.Logger, out io.Writer) *ConsoleResultFormatter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleResultFormatter{
		logger: logger,
		out:    out,
	}
}

// FormatResults formats and displays the test results.
func (f *ConsoleResultFormatter) FormatResults(result *types.RunResult) error {
	f.logger.Info("Printing results...")
	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetTitle(fmt.Sprintf("Test Run Results (%s)", formatDuration(result.Duration)))

	// Configure columns
	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Tests", "Passed", "Failed", "Skipped", "Status", "Error",
	})

	// Set column configurations for better readability
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Tests", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Skipped", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	// Print units and their test functions
	for _, unit := range result.Units {
		stats := unitStats(unit)

		// Unit row - show test counts but no "1" in Tests column
		t.AppendRow(table.Row{
			unitRowType(unit.Unit),
			unit.Unit.DisplayName(),
			formatDuration(unit.Duration),
			"-", // Don't count the unit as a test
			stats.Passed,
			stats.Failed,
			stats.Skipped,
			getResultString(unit.Status),
			extractKeyErrorMessage(unit.Error),
		})

		// Print test functions in this unit
		for i, test := range unit.Tests {
			prefix := ui.BuildTreePrefix(1, i == len(unit.Tests)-1, nil)

			t.AppendRow(table.Row{
				"",
				fmt.Sprintf("%s%s", prefix, test.Unit.Test),
				formatDuration(test.Duration),
				"1", // Count actual test
				boolToInt(test.Status == types.TestStatusPass),
				boolToInt(test.Status == types.TestStatusFail),
				boolToInt(test.Status == types.TestStatusSkip),
				getResultString(test.Status),
				extractKeyErrorMessage(test.Error),
			})
		}

		t.AppendSeparator()
	}

	// Update the table style setting based on result status
	if result.Status == types.TestStatusPass && result.Stats.Total > 0 && result.Stats.Total == result.Stats.Skipped {
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	} else if result.Status == types.TestStatusPass {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	// Add summary footer
	t.AppendFooter(table.Row{
		"TOTAL",
		"",
		formatDuration(result.Duration),
		result.Stats.Total, // Show total number of actual tests
		result.Stats.Passed,
		result.Stats.Failed,
		result.Stats.Skipped,
		getResultString(result.Status),
		"",
	})

	t.Render()

	return nil
}

// unitRowType labels a summary row by the kind of unit that produced it.
func unitRowType(unit types.TestUnit) string {
	if unit.IsSuite() {
		return "Suite"
	}
	return "Test"
}

// unitStats tallies one unit's per-test outcomes for its summary row.
func unitStats(unit *types.UnitResult) types.RunStats {
	var stats types.RunStats
	for _, test := range unit.Tests {
		stats.Total++
		switch test.Status {
		case types.TestStatusPass:
			stats.Passed++
		case types.TestStatusFail:
			stats.Failed++
		case types.TestStatusSkip:
			stats.Skipped++
		case types.TestStatusError:
			stats.Errored++
		}
	}
	return stats
}
