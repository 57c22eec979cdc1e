package dhis2

import (
	"context"
	"math"
	"time"

	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
)

// RetryPolicy controls re-sending failed requests. The zero value and
// MaxAttempts <= 1 disable retries.
type RetryPolicy struct {
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `json:"multiplier" yaml:"multiplier"`
}

// NoRetry sends each request exactly once.
var NoRetry = RetryPolicy{MaxAttempts: 1}

// Enabled reports whether more than one attempt is allowed.
func (p RetryPolicy) Enabled() bool {
	return p.MaxAttempts > 1
}

// delay returns the wait before the given retry (attempt starts at 1).
func (p RetryPolicy) delay(attempt int) time.Duration {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = 200 * time.Millisecond
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := time.Duration(float64(initial) * math.Pow(mult, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Authentication and not-found errors are never
// retried.
func (p RetryPolicy) do(ctx context.Context, onRetry func(attempt int, err error, wait time.Duration), fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= attempts || !dherrors.IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		wait := p.delay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return err
		}
	}
}
