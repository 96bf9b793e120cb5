// Package capture owns the process-wide output channels test functions
// write to and the per-suite stream captures the runner redirects them
// into. The two channels are singleton, mutable resources; redirecting
// them is inherently global, so at most one capture is meaningfully
// active at a time and concurrent captures of different suites are
// best-effort.
package capture

import (
	"io"
	"os"
	"sync"
)

// Swappable is an io.Writer whose target can be atomically replaced.
// Writes always go to the current target.
type Swappable struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSwappable returns a Swappable targeting w.
func NewSwappable(w io.Writer) *Swappable {
	return &Swappable{w: w}
}

// Swap replaces the target and returns the previous one.
func (s *Swappable) Swap(w io.Writer) io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.w
	s.w = w
	return prev
}

// Current returns the target writes currently go to.
func (s *Swappable) Current() io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w
}

// Write implements io.Writer against the current target.
func (s *Swappable) Write(p []byte) (int, error) {
	s.mu.Lock()
	w := s.w
	s.mu.Unlock()
	return w.Write(p)
}

// Out and Err are the global output channels of the run. Test functions
// receive writers backed by these; the capture manager swaps their
// targets while a captured unit executes.
var (
	Out = NewSwappable(os.Stdout)
	Err = NewSwappable(os.Stderr)
)
