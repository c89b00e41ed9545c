// Package retry runs an operation under a bounded, fixed-delay retry policy.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Defaults match the per-service submission policy.
const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 2 * time.Second
)

// Policy bounds the number of attempts and the pause between them.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration

	// timer replaces the wall-clock timer in tests.
	timer backoff.Timer
}

// New returns a Policy, substituting defaults for non-positive values.
func New(maxAttempts int, delay time.Duration) Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if delay < 0 {
		delay = DefaultDelay
	}
	return Policy{MaxAttempts: maxAttempts, Delay: delay}
}

// Permanent marks err as not worth retrying; Do returns it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, returns a Permanent error, ctx ends or
// MaxAttempts is reached. op receives the 1-based attempt number. Do returns
// the number of attempts made and the last error.
func (p Policy) Do(ctx context.Context, op func(attempt int) error, notify func(err error, next time.Duration)) (int, error) {
	if p.MaxAttempts <= 0 {
		return 0, fmt.Errorf("retry: max attempts must be positive")
	}
	attempts := 0
	operation := func() error {
		attempts++
		return op(attempts)
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(p.Delay)
	b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	var n backoff.Notify
	if notify != nil {
		n = func(err error, d time.Duration) { notify(err, d) }
	}
	err := backoff.RetryNotifyWithTimer(operation, b, n, p.timer)
	return attempts, err
}
