package store

import (
	"context"
	"errors"
	"time"
)

// TransientError marks a storage error as transient (connection hiccup,
// serialization conflict) so WithRetry knows it is worth retrying. A
// repository adapter wraps an error in TransientError when it judges the
// failure retryable; anything else is surfaced immediately.
type TransientError struct{ Cause error }

func (e *TransientError) Error() string { return "store: transient: " + e.Cause.Error() }
func (e *TransientError) Unwrap() error { return e.Cause }

func isTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// WithRetry retries fn up to 3 times with exponential backoff (§7: "storage
// transient errors are retried up to 3 times with exponential backoff
// before surfacing as internal_error"). Non-transient errors are returned
// immediately on first failure.
func WithRetry(ctx context.Context, fn func() error) error {
	const maxAttempts = 3
	backoff := 10 * time.Millisecond
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isTransient(err) || attempt == maxAttempts {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}

// Retry is WithRetry for repository calls that return a value alongside the
// error, which is the shape of every method in the §4.1 repository
// contracts (e.g. Rooms.Create, Memberships.Add). The zero value of T is
// returned if every attempt fails.
func Retry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var out T
	err := WithRetry(ctx, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
