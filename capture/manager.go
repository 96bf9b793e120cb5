package capture

import (
	"fmt"
	"io"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// Manager owns every per-suite capture of a run and drives them from the
// run's lifecycle events. Registration happens once, before any unit
// runs: the full description tree is walked and each leaf adds one
// reference to its suite's capture. Units then open the capture and swap
// the global channels on start, and drop their reference on finish. At
// run end every capture is force-closed so reports can read captured
// bytes even when the run aborted early.
type Manager struct {
	log log.Logger
	dir string

	mu       sync.Mutex
	captures map[string]*StreamCapture
	origOut  io.Writer
	origErr  io.Writer
}

// NewManager creates a Manager writing captures under dir.
func NewManager(logger log.Logger, dir string) *Manager {
	return &Manager{
		log:      logger.New("component", "capture"),
		dir:      dir,
		captures: make(map[string]*StreamCapture),
		origOut:  Out.Current(),
		origErr:  Err.Current(),
	}
}

// RunStarted walks the description tree and registers a reference on the
// owning suite's capture for every test function that will run.
func (m *Manager) RunStarted(desc *types.Description) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var regErr error
	desc.Walk(func(n *types.Description) bool {
		if !n.IsLeaf() {
			return true
		}
		c, err := m.captureLocked(n.Unit.Suite)
		if err != nil {
			regErr = err
			return false
		}
		c.Ref()
		return true
	})
	return regErr
}

// TestStarted opens the suite's capture and redirects the global output
// channels into it.
func (m *Manager) TestStarted(desc *types.Description) error {
	m.mu.Lock()
	c := m.captures[desc.Unit.Suite]
	m.mu.Unlock()
	if c == nil {
		return fmt.Errorf("no capture registered for suite %s", desc.Unit.Suite)
	}
	if err := c.Open(); err != nil {
		return err
	}
	Out.Swap(c.OutWriter())
	Err.Swap(c.ErrWriter())
	return nil
}

// TestFailed is part of the listener contract; failures do not change
// capture state.
func (m *Manager) TestFailed(failure *types.Failure) error {
	return nil
}

// TestSkipped is part of the listener contract; skips do not change
// capture state.
func (m *Manager) TestSkipped(desc *types.Description) error {
	return nil
}

// TestFinished restores the global channels and drops the finished
// test's reference on its suite capture.
func (m *Manager) TestFinished(result *types.TestResult) error {
	m.mu.Lock()
	c := m.captures[result.Unit.Suite]
	m.mu.Unlock()
	Out.Swap(m.origOut)
	Err.Swap(m.origErr)
	if c == nil {
		return fmt.Errorf("no capture registered for suite %s", result.Unit.Suite)
	}
	c.Close()
	return nil
}

// RunFinished force-closes every capture. Outstanding references are
// dropped; an aborted run still flushes whatever was captured.
func (m *Manager) RunFinished(result *types.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	Out.Swap(m.origOut)
	Err.Swap(m.origErr)
	for _, c := range m.captures {
		if !c.Closed() {
			m.log.Debug("Disposing capture with outstanding references", "suite", c.Suite())
		}
		c.Dispose()
	}
	return nil
}

// ReadOut returns the captured stdout bytes of a suite.
func (m *Manager) ReadOut(suite string) ([]byte, error) {
	c := m.capture(suite)
	if c == nil {
		return nil, fmt.Errorf("no capture registered for suite %s", suite)
	}
	return c.ReadOut()
}

// ReadErr returns the captured stderr bytes of a suite.
func (m *Manager) ReadErr(suite string) ([]byte, error) {
	c := m.capture(suite)
	if c == nil {
		return nil, fmt.Errorf("no capture registered for suite %s", suite)
	}
	return c.ReadErr()
}

func (m *Manager) capture(suite string) *StreamCapture {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures[suite]
}

func (m *Manager) captureLocked(suite string) (*StreamCapture, error) {
	if c, ok := m.captures[suite]; ok {
		return c, nil
	}
	c, err := NewStreamCapture(suite, m.dir)
	if err != nil {
		return nil, err
	}
	m.captures[suite] = c
	return c, nil
}
