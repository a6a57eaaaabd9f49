package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	errs "moonfetch/pkg/errors"
)

// BackoffStrategy defines the interface for different backoff strategies
type BackoffStrategy interface {
	// NextDelay returns the delay before retry number attempt (1-based)
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Multiplier is the factor by which delay increases
	Multiplier float64
	// JitterFactor adds randomness to avoid thundering herd (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay calculates the next delay with exponential backoff and jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	if eb.JitterFactor > 0 {
		jitter := delay * eb.JitterFactor
		delay += (rand.Float64() * 2 * jitter) - jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// ConstantBackoff implements constant delay backoff
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// KindBackoff picks a strategy by error kind. Throttling gets longer pauses
// than transport failures.
type KindBackoff struct {
	Network   BackoffStrategy
	RateLimit BackoffStrategy
	Default   BackoffStrategy
}

// NewKindBackoff creates a KindBackoff with sensible defaults
func NewKindBackoff() *KindBackoff {
	return &KindBackoff{
		Network: &ExponentialBackoff{
			BaseDelay:    250 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.2,
		},
		RateLimit: &ExponentialBackoff{
			BaseDelay:    5 * time.Second,
			MaxDelay:     2 * time.Minute,
			Multiplier:   1.5,
			JitterFactor: 0.3,
		},
		Default: DefaultExponentialBackoff(),
	}
}

// For returns the strategy for kind
func (kb *KindBackoff) For(kind errs.Kind) BackoffStrategy {
	switch kind {
	case errs.KindNetwork, errs.KindDownloadIncomplete:
		return kb.Network
	case errs.KindRateLimitExceeded:
		return kb.RateLimit
	default:
		return kb.Default
	}
}

// NextDelay uses the default strategy; Do consults For when the error kind is known.
func (kb *KindBackoff) NextDelay(attempt int) time.Duration {
	return kb.Default.NextDelay(attempt)
}
