package capture

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// StreamCapture buffers one suite's stdout and stderr into a pair of
// files under the output directory. Multiple scheduled units of the same
// suite share a single capture through a use count: each registered unit
// holds one reference, and the backing files are released when the last
// reference is closed. Once closed a capture is read-only; writing or
// reopening it is a programming error and fails loudly.
type StreamCapture struct {
	suite   string
	outPath string
	errPath string

	mu     sync.Mutex
	out    *os.File
	err    *os.File
	uses   int
	closed bool
}

// NewStreamCapture creates a capture for the named suite rooted at dir.
// Parent directories are created eagerly; the files themselves are
// created on first Open.
func NewStreamCapture(suite, dir string) (*StreamCapture, error) {
	base := filepath.Join(dir, SafeFileName(suite))
	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory for %s: %w", suite, err)
	}
	return &StreamCapture{
		suite:   suite,
		outPath: base + ".out.txt",
		errPath: base + ".err.txt",
	}, nil
}

// Suite returns the suite the capture belongs to.
func (c *StreamCapture) Suite() string {
	return c.suite
}

// Ref adds one reference. Every registered unit of the suite must hold
// exactly one reference so the files stay open until its last test
// finishes.
func (c *StreamCapture) Ref() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uses++
}

// Open creates the backing files if they are not open yet. Open is
// idempotent while the capture is live and rejects a capture that has
// already been closed.
func (c *StreamCapture) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("capture for %s is closed", c.suite)
	}
	if c.out != nil {
		return nil
	}
	out, err := os.Create(c.outPath)
	if err != nil {
		return fmt.Errorf("failed to create capture file %s: %w", c.outPath, err)
	}
	errf, err := os.Create(c.errPath)
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to create capture file %s: %w", c.errPath, err)
	}
	c.out = out
	c.err = errf
	return nil
}

// OutWriter returns the stdout sink of the capture.
func (c *StreamCapture) OutWriter() io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || c.out == nil {
			return 0, fmt.Errorf("capture for %s is not open", c.suite)
		}
		return c.out.Write(p)
	})
}

// ErrWriter returns the stderr sink of the capture.
func (c *StreamCapture) ErrWriter() io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || c.err == nil {
			return 0, fmt.Errorf("capture for %s is not open", c.suite)
		}
		return c.err.Write(p)
	})
}

// Close drops one reference. When the count reaches zero the backing
// files are released and the capture becomes read-only. Errors from the
// underlying file closes are swallowed; the bytes already on disk are
// what reporting reads back.
func (c *StreamCapture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uses--
	if c.uses <= 0 {
		c.release()
	}
}

// Dispose forces the capture closed regardless of outstanding
// references. The runner calls this at the end of a run so report
// listeners can always read, even after an abort.
func (c *StreamCapture) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uses = 0
	c.release()
}

// release closes the files and marks the capture closed. Callers hold mu.
func (c *StreamCapture) release() {
	if c.closed {
		return
	}
	if c.out != nil {
		_ = c.out.Close()
	}
	if c.err != nil {
		_ = c.err.Close()
	}
	c.closed = true
}

// Closed reports whether the capture has been released.
func (c *StreamCapture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ReadOut returns the captured stdout bytes. The capture must be closed
// first; reading a live capture would observe a partial file.
func (c *StreamCapture) ReadOut() ([]byte, error) {
	return c.read(c.outPath)
}

// ReadErr returns the captured stderr bytes, with the same closed-only
// contract as ReadOut.
func (c *StreamCapture) ReadErr() ([]byte, error) {
	return c.read(c.errPath)
}

func (c *StreamCapture) read(path string) ([]byte, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		return nil, fmt.Errorf("capture for %s is still open; captured output is only readable after close", c.suite)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		// A capture whose suite never started any test has no file.
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read capture file %s: %w", path, err)
	}
	return data, nil
}

// SafeFileName converts a suite name into a filesystem-safe file stem.
// Report writers use the same mapping so a suite's capture files and its
// report file sort together.
func SafeFileName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return r.Replace(name)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
