package runner

import (
	"context"
)

// RetryPolicy re-attempts failing test functions. Budget is the number
// of retries granted after the first attempt, so Budget 0 means exactly
// one execution. The policy applies independently to every test
// function, whether its unit covers a whole suite or a single function.
//
// Intermediate failing attempts are suppressed: only the final attempt's
// outcome is reported, and a retry that passes erases the earlier
// failures entirely.
type RetryPolicy struct {
	Budget int
	// OnRetry, when set, observes each failed attempt that will be
	// retried. attempt counts from 1.
	OnRetry func(attempt int, err error)
}

// Attempts returns the maximum number of executions the policy allows.
func (p RetryPolicy) Attempts() int {
	if p.Budget < 0 {
		return 1
	}
	return p.Budget + 1
}

// Do runs fn until it succeeds or the budget is exhausted, returning the
// number of attempts made and the final attempt's error. A cancelled
// context stops further retries; the in-flight attempt's error is
// returned as-is.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) (int, error) {
	attempts := p.Attempts()
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return attempt, nil
		}
		if attempt == attempts || ctx.Err() != nil {
			return attempt, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
	}
	return attempts, err
}
