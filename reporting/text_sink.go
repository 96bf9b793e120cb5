package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrun/runner"
	"github.com/ethereum-optimism/infra/op-testrun/types"
	"github.com/ethereum-optimism/infra/op-testrun/ui"
)

// ResultSink is an interface for different ways of consuming unit
// results. Sinks receive every unit of a run in completion order, then a
// single Complete call to materialize their artifact.
type ResultSink interface {
	Consume(result *types.UnitResult, runID string) error
	Complete(runID string) error
}

// SinkListener bridges the run lifecycle onto ResultSinks: when the run
// finishes it replays every unit result into each sink and completes it.
// Feeding happens at run end rather than per event so sinks observe the
// final aggregate, including units that errored without starting.
type SinkListener struct {
	runner.BaseListener

	log   log.Logger
	sinks []ResultSink
}

// NewSinkListener creates a SinkListener over the given sinks.
func NewSinkListener(logger log.Logger, sinks ...ResultSink) *SinkListener {
	return &SinkListener{
		log:   logger.New("component", "reporting"),
		sinks: sinks,
	}
}

func (s *SinkListener) RunFinished(result *types.RunResult) error {
	for _, sink := range s.sinks {
		for _, unit := range result.Units {
			if err := sink.Consume(unit, result.RunID); err != nil {
				return fmt.Errorf("error in sink: %w", err)
			}
		}
		if err := sink.Complete(result.RunID); err != nil {
			return fmt.Errorf("error completing sink: %w", err)
		}
	}
	s.log.Debug("Report sinks completed", "runID", result.RunID, "sinks", len(s.sinks))
	return nil
}

// TextSummarySink writes a plain-text summary of a run to
// <baseDir>/testrun-<runID>/summary.log.
type TextSummarySink struct {
	baseDir        string
	includeDetails bool
	unitResults    map[string][]*types.UnitResult
}

// NewTextSummarySink creates a new text summary sink rooted at baseDir.
// With includeDetails each failed test also prints its error.
func NewTextSummarySink(baseDir string, includeDetails bool) *TextSummarySink {
	return &TextSummarySink{
		baseDir:        baseDir,
		includeDetails: includeDetails,
		unitResults:    make(map[string][]*types.UnitResult),
	}
}

// Consume collects unit results for later text summary generation
func (s *TextSummarySink) Consume(result *types.UnitResult, runID string) error {
	s.unitResults[runID] = append(s.unitResults[runID], result)
	return nil
}

// Complete generates the text summary file
func (s *TextSummarySink) Complete(runID string) error {
	results := s.unitResults[runID]

	outputDir := filepath.Join(s.baseDir, "testrun-"+runID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}

	content := s.format(runID, results)

	summaryFile := filepath.Join(outputDir, "summary.log")
	if err := os.WriteFile(summaryFile, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}

func (s *TextSummarySink) format(runID string, results []*types.UnitResult) string {
	stats, failures := tally(results)

	var b strings.Builder
	b.WriteString("Test Run Summary\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	fmt.Fprintf(&b, "Run ID: %s\n", runID)
	fmt.Fprintf(&b, "Total Tests: %d\n", stats.Total)
	fmt.Fprintf(&b, "Passed: %d\n", stats.Passed)
	fmt.Fprintf(&b, "Failed: %d\n", stats.Failed)
	fmt.Fprintf(&b, "Skipped: %d\n", stats.Skipped)
	fmt.Fprintf(&b, "Errored: %d\n", stats.Errored)
	fmt.Fprintf(&b, "Pass Rate: %.1f%%\n", stats.PassRate())
	b.WriteString("\n")

	b.WriteString("Test Hierarchy:\n")
	b.WriteString(strings.Repeat("-", 30) + "\n")
	for _, unit := range results {
		fmt.Fprintf(&b, "%s %s (%s)\n", statusChar(unit.Status), unit.Unit.DisplayName(), formatDuration(unit.Duration))
		if unit.Error != nil && len(unit.Tests) == 0 {
			fmt.Fprintf(&b, "%s%v\n", ui.TreeLastBranch, unit.Error)
		}
		for i, test := range unit.Tests {
			last := i == len(unit.Tests)-1
			prefix := ui.BuildTreePrefix(1, last, nil)
			fmt.Fprintf(&b, "%s%s %s (%s)\n", prefix, statusChar(test.Status), test.Unit.Test, formatDuration(test.Duration))
			if s.includeDetails && test.Error != nil {
				continueLine := ui.TreeContinue
				if last {
					continueLine = ui.TreeIndent
				}
				fmt.Fprintf(&b, "%s%v\n", continueLine, test.Error)
			}
		}
	}
	b.WriteString("\n")

	if len(failures) > 0 {
		b.WriteString(FormatFailures(failures))
	}
	return b.String()
}

// tally folds unit results into run statistics, mirroring how the run
// aggregate counts them.
func tally(results []*types.UnitResult) (types.RunStats, []*types.Failure) {
	var stats types.RunStats
	var failures []*types.Failure
	for _, unit := range results {
		for _, test := range unit.Tests {
			stats.Total++
			switch test.Status {
			case types.TestStatusPass:
				stats.Passed++
			case types.TestStatusFail:
				stats.Failed++
				failures = append(failures, &types.Failure{Unit: test.Unit, Error: test.Error})
			case types.TestStatusSkip:
				stats.Skipped++
			case types.TestStatusError:
				stats.Errored++
				failures = append(failures, &types.Failure{Unit: test.Unit, Error: test.Error})
			}
		}
		if unit.Status == types.TestStatusError && len(unit.Tests) == 0 {
			stats.Total++
			stats.Errored++
			failures = append(failures, &types.Failure{Unit: unit.Unit, Error: unit.Error})
		}
	}
	return stats, failures
}
