// Package ratelimit paces outbound requests.
//
// Implementations:
//
// HostLimiter:
//   - Per-host spacing with a delay drawn uniformly from [min, max]
//   - min == max gives a fixed delay
//   - Callers for different hosts never block each other
//
// Global:
//   - Token bucket over all hosts, backed by golang.org/x/time/rate
//
// All limiters implement Limiter:
//   - Wait(ctx, host) error - block until a request may be dispatched
//
// Usage:
//
//	limiter := ratelimit.Chain{
//	    ratelimit.NewHostLimiter(time.Second, 3*time.Second),
//	    ratelimit.NewGlobal(5, 1),
//	}
//	if err := limiter.Wait(ctx, "example.com"); err != nil {
//	    return err
//	}
package ratelimit
