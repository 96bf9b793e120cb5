package reporting

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrun/capture"
	"github.com/ethereum-optimism/infra/op-testrun/runner"
	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// StreamSource supplies the captured output of a suite once all of its
// tests have finished. The capture manager implements it.
type StreamSource interface {
	ReadOut(suite string) ([]byte, error)
	ReadErr(suite string) ([]byte, error)
}

// XMLReportListener accumulates per-suite outcomes from the event stream
// and writes one Ant-compatible TEST-<suite>.xml file per suite when the
// run finishes. Captured stdout/stderr is embedded per suite with ANSI
// escapes stripped, so reports stay readable in CI viewers.
type XMLReportListener struct {
	runner.BaseListener

	log     log.Logger
	dir     string
	streams StreamSource

	mu     sync.Mutex
	suites map[string]*suiteRecord
}

type suiteRecord struct {
	name     string
	started  time.Time
	duration time.Duration
	failures int
	errors   int
	skipped  int
	cases    []xmlTestCase
}

// NewXMLReportListener creates a listener writing reports under dir,
// reading captured streams from src. A nil src embeds no output.
func NewXMLReportListener(logger log.Logger, dir string, src StreamSource) *XMLReportListener {
	return &XMLReportListener{
		log:     logger.New("component", "xml-report"),
		dir:     dir,
		streams: src,
		suites:  make(map[string]*suiteRecord),
	}
}

func (x *XMLReportListener) TestStarted(desc *types.Description) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.recordLocked(desc.Unit.Suite)
	return nil
}

func (x *XMLReportListener) TestFinished(result *types.TestResult) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	rec := x.recordLocked(result.Unit.Suite)
	rec.duration += result.Duration

	tc := xmlTestCase{
		Name:      result.Unit.Test,
		ClassName: result.Unit.Suite,
		Time:      formatSeconds(result.Duration),
	}
	switch result.Status {
	case types.TestStatusFail:
		rec.failures++
		tc.Failure = newXMLProblem(result.Error)
	case types.TestStatusError:
		rec.errors++
		tc.Error = newXMLProblem(result.Error)
	case types.TestStatusSkip:
		rec.skipped++
		tc.Skipped = &xmlSkipped{}
	}
	rec.cases = append(rec.cases, tc)
	return nil
}

// RunFinished folds unit-level errors into their suite records and then
// writes every report file. Suites whose units all errored before any
// test could start still get a report with a synthetic test case, the
// same way initialization errors surface in Ant reports.
func (x *XMLReportListener) RunFinished(result *types.RunResult) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, unit := range result.Units {
		if unit.Status != types.TestStatusError || len(unit.Tests) > 0 {
			continue
		}
		rec := x.recordLocked(unit.Unit.Suite)
		rec.errors++
		rec.duration += unit.Duration
		rec.cases = append(rec.cases, xmlTestCase{
			Name:      initializationCaseName(unit.Unit),
			ClassName: unit.Unit.Suite,
			Time:      formatSeconds(unit.Duration),
			Error:     newXMLProblem(unit.Error),
		})
	}

	if len(x.suites) == 0 {
		return nil
	}
	if err := os.MkdirAll(x.dir, 0755); err != nil {
		return fmt.Errorf("failed to create report directory %s: %w", x.dir, err)
	}

	names := make([]string, 0, len(x.suites))
	for name := range x.suites {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := x.writeSuite(x.suites[name]); err != nil {
			x.log.Error("Failed to write XML report", "suite", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (x *XMLReportListener) recordLocked(suite string) *suiteRecord {
	rec, ok := x.suites[suite]
	if !ok {
		rec = &suiteRecord{name: suite, started: time.Now()}
		x.suites[suite] = rec
	}
	return rec
}

func (x *XMLReportListener) writeSuite(rec *suiteRecord) error {
	doc := xmlTestSuite{
		Name:      rec.name,
		Tests:     len(rec.cases),
		Failures:  rec.failures,
		Errors:    rec.errors,
		Skipped:   rec.skipped,
		Time:      formatSeconds(rec.duration),
		Timestamp: rec.started.Format("2006-01-02T15:04:05"),
		Hostname:  reportHostname(),
		SystemOut: xmlOutput{Body: x.readStream(rec.name, true)},
		SystemErr: xmlOutput{Body: x.readStream(rec.name, false)},
		Cases:     rec.cases,
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report for %s: %w", rec.name, err)
	}
	path := filepath.Join(x.dir, "TEST-"+capture.SafeFileName(rec.name)+".xml")
	payload := append([]byte(xml.Header), data...)
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}

// readStream fetches one captured stream of a suite. Read errors degrade
// to an empty body; a report without output beats no report.
func (x *XMLReportListener) readStream(suite string, stdout bool) string {
	if x.streams == nil {
		return ""
	}
	var data []byte
	var err error
	if stdout {
		data, err = x.streams.ReadOut(suite)
	} else {
		data, err = x.streams.ReadErr(suite)
	}
	if err != nil {
		x.log.Warn("Captured stream unavailable for report", "suite", suite, "stdout", stdout, "error", err)
		return ""
	}
	return sanitizeXML(stripansi.Strip(string(data)))
}

func initializationCaseName(unit types.TestUnit) string {
	if unit.Test != "" {
		return unit.Test
	}
	return "initializationError"
}

type xmlTestSuite struct {
	XMLName   xml.Name      `xml:"testsuite"`
	Name      string        `xml:"name,attr"`
	Tests     int           `xml:"tests,attr"`
	Failures  int           `xml:"failures,attr"`
	Errors    int           `xml:"errors,attr"`
	Skipped   int           `xml:"skipped,attr"`
	Time      string        `xml:"time,attr"`
	Timestamp string        `xml:"timestamp,attr"`
	Hostname  string        `xml:"hostname,attr"`
	Cases     []xmlTestCase `xml:"testcase"`
	SystemOut xmlOutput     `xml:"system-out"`
	SystemErr xmlOutput     `xml:"system-err"`
}

type xmlTestCase struct {
	Name      string      `xml:"name,attr"`
	ClassName string      `xml:"classname,attr"`
	Time      string      `xml:"time,attr"`
	Failure   *xmlProblem `xml:"failure,omitempty"`
	Error     *xmlProblem `xml:"error,omitempty"`
	Skipped   *xmlSkipped `xml:"skipped,omitempty"`
}

type xmlProblem struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

type xmlSkipped struct{}

type xmlOutput struct {
	Body string `xml:",cdata"`
}

func newXMLProblem(err error) *xmlProblem {
	msg := "test failed"
	if err != nil {
		msg = err.Error()
	}
	return &xmlProblem{
		Message: sanitizeXML(firstLine(msg)),
		Body:    sanitizeXML(msg),
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// sanitizeXML drops the control characters XML 1.0 cannot carry.
func sanitizeXML(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' || (r >= 0x20 && r != 0xFFFE && r != 0xFFFF) {
			return r
		}
		return -1
	}, s)
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

func reportHostname() string {
	host, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return host
}
