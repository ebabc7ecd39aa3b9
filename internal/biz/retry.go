package biz

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy bounds the storage contention retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxJitter   time.Duration

	// Sleep waits between attempts; nil uses a timer that honors ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy is five attempts starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxJitter:   100 * time.Millisecond,
	}
}

// Delay returns the wait before attempt+1, attempt counting from zero.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	jitter := p.MaxJitter
	// jitter below the base keeps consecutive delays strictly increasing
	if jitter > p.BaseDelay {
		jitter = p.BaseDelay
	}
	d := p.BaseDelay << uint(attempt)
	if jitter > 0 {
		d += time.Duration(rand.Int63n(int64(jitter)))
	}
	return d
}

// Retry runs op and retries it while it fails with ErrStorageBusy.
// Any other error, or the last busy error, is returned as is.
func Retry(ctx context.Context, p RetryPolicy, op func(ctx context.Context) error) error {
	_, err := RetryValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RetryValue is Retry for operations that produce a value.
func RetryValue[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var (
		v   T
		err error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		v, err = op(ctx)
		if err == nil || !errors.Is(err, ErrStorageBusy) {
			return v, err
		}
		if attempt == attempts-1 {
			break
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return v, err
		}
	}
	return v, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
