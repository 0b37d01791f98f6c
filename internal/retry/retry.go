// Package retry bounds the effect of a slow backend by retrying operations
// that failed with a timeout.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

const (
	DefaultMaxRetries = 2
	DefaultDelay      = 3 * time.Second
)

// Policy describes how an operation is retried. The zero value never retries.
type Policy struct {
	MaxRetries int
	Delay      time.Duration

	// Retryable decides whether a failure is worth another attempt.
	// Defaults to IsTimeout.
	Retryable func(error) bool

	// OnRetry is called before waiting for the next attempt.
	OnRetry func(attempt int, err error)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		Delay:      DefaultDelay,
		Retryable:  IsTimeout,
	}
}

// Do runs op, retrying it while it fails with a retryable error and attempts
// remain. op runs at most MaxRetries+1 times. Non-retryable errors propagate
// immediately; after the last attempt the last error propagates.
//
// Retrying is idempotency-agnostic: a create call that timed out on the
// client but completed on the server is sent again.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTimeout
	}

	var zero T
	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= p.MaxRetries || !retryable(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, err
		}

		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}

		if p.Delay > 0 {
			t := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, err
			case <-t.C:
			}
		}
	}
}

// IsTimeout reports whether err is classified as a timeout: an explicit
// timeout error (context deadline, net.Error, or any error exposing
// Timeout() bool) or an error whose message mentions "timeout".
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
