// Package retry is the single place where the pipeline waits: retrying a
// whole source, polling a portal for a state change and waiting for a
// download to land on disk all go through a Policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

var ErrTimeout = errors.New("timed out")

// Policy bounds a retry loop by attempts, by elapsed time, or both. A zero
// Policy runs the function exactly once.
type Policy struct {
	MaxAttempts int
	MaxDuration time.Duration
	Interval    time.Duration
	// Backoff multiplies Interval after every attempt, values <= 1 keep the
	// interval fixed.
	Backoff float64
}

// Fixed is a policy of n attempts with a constant delay between them.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{MaxAttempts: attempts, Interval: delay}
}

// Within is a polling policy bounded only by time.
func Within(timeout, interval time.Duration) Policy {
	return Policy{MaxDuration: timeout, Interval: interval}
}

func (p Policy) allows(nextAttempt int, elapsed time.Duration) bool {
	if p.MaxAttempts <= 0 && p.MaxDuration <= 0 {
		return false
	}
	if p.MaxAttempts > 0 && nextAttempt > p.MaxAttempts {
		return false
	}
	if p.MaxDuration > 0 && elapsed > p.MaxDuration {
		return false
	}
	return true
}

func (p Policy) grow(interval time.Duration) time.Duration {
	if p.Backoff <= 1 {
		return interval
	}
	return time.Duration(float64(interval) * p.Backoff)
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string {
	return e.err.Error()
}

func (e permanentError) Unwrap() error {
	return e.err
}

// Permanent marks an error that must stop the loop immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do calls fn until it succeeds or the policy is exhausted and returns the
// last error. onRetry, when set, is called once for every failed attempt
// that is going to be retried.
func Do(ctx context.Context, p Policy, fn func(attempt int) error, onRetry func(attempt int, err error)) error {
	start := time.Now()
	interval := p.Interval

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		var permanent permanentError
		if errors.As(err, &permanent) {
			return permanent.err
		}
		if !p.allows(attempt+1, time.Since(start)+interval) {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if serr := sleep(ctx, interval); serr != nil {
			return errors.Join(err, serr)
		}
		interval = p.grow(interval)
	}
}

var errNotReady = errors.New("not ready")

// Poll waits until predicate reports true. An error from predicate stops
// the wait at once, running out of policy yields ErrTimeout.
func Poll(ctx context.Context, p Policy, predicate func() (bool, error)) error {
	err := Do(ctx, p, func(int) error {
		ok, err := predicate()
		if err != nil {
			return Permanent(err)
		}
		if !ok {
			return errNotReady
		}
		return nil
	}, nil)
	if errors.Is(err, errNotReady) {
		return ErrTimeout
	}
	return err
}

// InProgressSuffix marks a download that has not finished yet.
const InProgressSuffix = ".crdownload"

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WaitForFile waits for path to exist without its in-progress marker.
func WaitForFile(ctx context.Context, path string, p Policy) error {
	err := Poll(ctx, p, func() (bool, error) {
		return exists(path) && !exists(path+InProgressSuffix), nil
	})
	if err != nil {
		return fmt.Errorf("wait for %s: %w", path, err)
	}
	return nil
}
