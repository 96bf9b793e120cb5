package runner

import (
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testrun/types"
)

// AbortController coordinates stopping a run early. Aborting only stops
// units that have not been dispatched yet; units already executing
// finish naturally and their results still count.
type AbortController struct {
	aborted atomic.Bool
}

// NewAbortController creates a controller in the running state.
func NewAbortController() *AbortController {
	return &AbortController{}
}

// Abort marks the run aborted. Idempotent.
func (c *AbortController) Abort() {
	c.aborted.Store(true)
}

// Aborted reports whether the run has been aborted.
func (c *AbortController) Aborted() bool {
	return c.aborted.Load()
}

// FailFastListener watches the event stream and aborts the run at the
// first reported failure when fail-fast is enabled. It wraps the rest of
// the listener chain so downstream listeners still see every event from
// units that were already in flight when the abort tripped.
type FailFastListener struct {
	Listener
	log      log.Logger
	ctrl     *AbortController
	failFast bool
	failures atomic.Int64
}

// NewFailFastListener wraps inner with failure tracking and, when
// failFast is set, first-failure abort.
func NewFailFastListener(logger log.Logger, inner Listener, ctrl *AbortController, failFast bool) *FailFastListener {
	return &FailFastListener{
		Listener: inner,
		log:      logger.New("component", "failfast"),
		ctrl:     ctrl,
		failFast: failFast,
	}
}

// TestFailed counts the failure, trips the abort on the first one when
// fail-fast is on, and forwards the event.
func (l *FailFastListener) TestFailed(failure *types.Failure) error {
	l.failures.Add(1)
	if l.failFast && !l.ctrl.Aborted() {
		l.log.Warn("Aborting run after first failure", "test", failure.Unit.DisplayName(), "error", failure.Error)
		l.ctrl.Abort()
	}
	return l.Listener.TestFailed(failure)
}

// Failures returns the number of failures observed so far.
func (l *FailFastListener) Failures() int {
	return int(l.failures.Load())
}
