package runner

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// Listener receives the lifecycle events of a run. RunStarted fires once
// before any unit executes, with the description of everything scheduled;
// RunFinished fires once with the final aggregate, even when the run
// aborts. Between them, each executed test function produces TestStarted,
// at most one of TestFailed/TestSkipped, then TestFinished.
//
// Listener errors are reported but never stop the run.
type Listener interface {
	RunStarted(desc *types.Description) error
	TestStarted(desc *types.Description) error
	TestFailed(failure *types.Failure) error
	TestSkipped(desc *types.Description) error
	TestFinished(result *types.TestResult) error
	RunFinished(result *types.RunResult) error
}

// BaseListener is a no-op Listener for embedding; implementations
// override the events they care about.
type BaseListener struct{}

func (BaseListener) RunStarted(*types.Description) error  { return nil }
func (BaseListener) TestStarted(*types.Description) error { return nil }
func (BaseListener) TestFailed(*types.Failure) error      { return nil }
func (BaseListener) TestSkipped(*types.Description) error { return nil }
func (BaseListener) TestFinished(*types.TestResult) error { return nil }
func (BaseListener) RunFinished(*types.RunResult) error   { return nil }

// MultiListener fans events out to a set of listeners. Events are
// delivered one at a time under a lock, so downstream listeners see a
// serialized stream even when units execute on multiple workers. A
// failing listener is logged and skipped for that event; it keeps
// receiving later events.
type MultiListener struct {
	log log.Logger

	mu        sync.Mutex
	listeners []Listener
}

// NewMultiListener creates a MultiListener over the given listeners.
func NewMultiListener(logger log.Logger, listeners ...Listener) *MultiListener {
	return &MultiListener{
		log:       logger.New("component", "listener"),
		listeners: listeners,
	}
}

// Add appends another listener. Not safe to call once events are flowing.
func (m *MultiListener) Add(l Listener) {
	m.listeners = append(m.listeners, l)
}

func (m *MultiListener) fire(event string, fn func(Listener) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.listeners {
		if err := fn(l); err != nil {
			m.log.Error("Listener failed", "event", event, "error", err)
		}
	}
	return nil
}

func (m *MultiListener) RunStarted(desc *types.Description) error {
	return m.fire("RunStarted", func(l Listener) error { return l.RunStarted(desc) })
}

func (m *MultiListener) TestStarted(desc *types.Description) error {
	return m.fire("TestStarted", func(l Listener) error { return l.TestStarted(desc) })
}

func (m *MultiListener) TestFailed(failure *types.Failure) error {
	return m.fire("TestFailed", func(l Listener) error { return l.TestFailed(failure) })
}

func (m *MultiListener) TestSkipped(desc *types.Description) error {
	return m.fire("TestSkipped", func(l Listener) error { return l.TestSkipped(desc) })
}

func (m *MultiListener) TestFinished(result *types.TestResult) error {
	return m.fire("TestFinished", func(l Listener) error { return l.TestFinished(result) })
}

func (m *MultiListener) RunFinished(result *types.RunResult) error {
	return m.fire("RunFinished", func(l Listener) error { return l.RunFinished(result) })
}
