// Package retry wraps outbound calls in a bounded exponential-backoff policy.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	"go.uber.org/zap"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// RetryAfterer is implemented by errors that carry a server-requested delay.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Policy defines retry behavior with exponential backoff.
type Policy struct {
	MaxAttempts          int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	BackoffMultiplier    float64
	RetryableStatusCodes []int

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a policy allowing maxAttempts calls in total.
func NewPolicy(maxAttempts int) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Policy{
		MaxAttempts:       maxAttempts,
		InitialBackoff:    time.Second,
		MaxBackoff:        60 * time.Second,
		BackoffMultiplier: 2.0,
		RetryableStatusCodes: []int{
			408, // Request Timeout
			429, // Too Many Requests
			500, // Internal Server Error
			502, // Bad Gateway
			503, // Service Unavailable
			504, // Gateway Timeout
		},
	}
}

// ShouldRetry reports whether err, returned by attempt (0-based), is worth another try.
func (p *Policy) ShouldRetry(attempt int, err error) bool {
	if err == nil || attempt+1 >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return p.isRetryableStatusCode(sc.StatusCode())
	}
	return isRetryableError(err)
}

// Backoff returns the delay before the attempt following attempt (0-based),
// with ±25% jitter.
func (p *Policy) Backoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}
	backoff += backoff * 0.25 * (rand.Float64()*2 - 1)
	if backoff < 0 {
		backoff = float64(p.InitialBackoff)
	}
	return time.Duration(backoff)
}

// Do calls fn until it succeeds, returns a non-retryable error, or MaxAttempts is reached.
// fn is always called at least once. The last error is returned unchanged.
func (p *Policy) Do(ctx context.Context, logger *zap.Logger, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := max(p.MaxAttempts, 1)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !p.ShouldRetry(attempt, lastErr) {
			if attempt+1 >= attempts && attempt > 0 {
				logger.Warn("all retry attempts exhausted",
					zap.Int("max_attempts", attempts), zap.Error(lastErr))
			}
			return lastErr
		}
		wait := p.Backoff(attempt)
		var ra RetryAfterer
		if errors.As(lastErr, &ra) && ra.RetryAfter() > 0 {
			wait = ra.RetryAfter()
			if wait > p.MaxBackoff {
				wait = p.MaxBackoff
			}
		}
		logger.Debug("retrying after backoff",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(lastErr))
		if err := p.wait(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

func (p *Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Policy) isRetryableStatusCode(statusCode int) bool {
	for _, code := range p.RetryableStatusCodes {
		if statusCode == code {
			return true
		}
	}
	return false
}

// isRetryableError matches timeouts and connection-level failures.
func isRetryableError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
