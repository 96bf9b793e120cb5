package testrun

import (
	"github.com/ethereum-optimism/infra/op-testrun/metrics"
	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// MetricsReporter is responsible for reporting metrics from test results.
type MetricsReporter interface {
	ReportResults(result *types.RunResult)
}

// DefaultMetricsReporter implements the MetricsReporter interface.
type DefaultMetricsReporter struct{}

// NewDefaultMetricsReporter creates a new DefaultMetricsReporter.
func NewDefaultMetricsReporter() *DefaultMetricsReporter {
	return &DefaultMetricsReporter{}
}

// ReportResults reports the test results to metrics systems. Every
// executed test function is recorded once with its final status, plus
// one retry sample per extra attempt it needed.
func (r *DefaultMetricsReporter) ReportResults(result *types.RunResult) {
	for _, unit := range result.Units {
		for _, test := range unit.Tests {
			metrics.RecordTest(result.RunID, test.Unit, test.Status)
			for attempt := 1; attempt < test.Attempts; attempt++ {
				metrics.RecordRetry(result.RunID, test.Unit)
			}
		}
	}
	metrics.RecordRun(
		result.RunID,
		string(result.Status),
		result.Stats.Total,
		result.Stats.Passed,
		result.Stats.Failed,
		result.Duration,
	)
}
