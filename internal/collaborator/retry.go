package collaborator

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryPolicy bounds collaborator retries. MaxRetries counts retry attempts,
// not the initial call, so the total number of calls is MaxRetries+1.
type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool

	// OnRetry, when set, is invoked before sleeping for a retry.
	OnRetry func(err error, attempt int, delay time.Duration)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay returns the backoff delay before retry attempt n (1-indexed).
// Jitter is derived deterministically from the seed so retry timing is
// reproducible for a given request.
func (p RetryPolicy) Delay(attempt int, seed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 1.0
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 {
		d = math.Min(d, float64(p.MaxDelay))
	}
	if p.Jitter {
		d *= 0.5 + jitterUnit(fmt.Sprintf("%s:%d", seed, attempt))
	}
	return time.Duration(d)
}

// jitterUnit maps a seed to [0,1) without package-level random state.
func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u) / float64(^uint64(0))
}

// retryDelay is the wait before retry attempt n: the policy's backoff, or
// the server's Retry-After hint when that asks for longer.
func retryDelay(policy RetryPolicy, attempt int, seed string, lastErr error) time.Duration {
	delay := policy.Delay(attempt, seed)
	var cerr Error
	if errors.As(lastErr, &cerr) {
		if after := cerr.RetryAfter(); after != nil && *after > delay {
			delay = *after
		}
	}
	return delay
}

// callWithRetry invokes fn, retrying retryable collaborator errors with
// backoff until the policy's budget is exhausted or the context ends.
func callWithRetry(ctx context.Context, policy RetryPolicy, seed string, fn func(ctx context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(policy, attempt, seed, lastErr)
			if policy.OnRetry != nil {
				policy.OnRetry(lastErr, attempt, delay)
			}
			select {
			case <-ctx.Done():
				return "", &TransportError{Err: ctx.Err()}
			case <-time.After(delay):
			}
		}
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", err
		}
	}
	return "", lastErr
}
