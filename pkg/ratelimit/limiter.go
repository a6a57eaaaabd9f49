package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"

	"moonfetch/pkg/retry"
)

// Limiter defines the interface for request pacing
type Limiter interface {
	// Wait blocks until a request to host may be dispatched or ctx is done
	Wait(ctx context.Context, host string) error
}

// hostState is the pacing bookkeeping for one host. next is the earliest
// instant the following dispatch may happen.
type hostState struct {
	mu   sync.Mutex
	next time.Time
}

// HostLimiter spaces dispatches to the same host by a uniformly jittered delay
// in [min, max]. Hosts never wait on each other.
//
// A caller reserves its slot under the host lock and sleeps after releasing
// it, so concurrent callers queue up one delay apart instead of all observing
// the same stale timestamp.
type HostLimiter struct {
	minDelay time.Duration
	maxDelay time.Duration
	hosts    *xsync.Map[string, *hostState]

	randMu sync.Mutex
	rng    *rand.Rand
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewHostLimiter creates a per-host limiter. maxDelay is raised to minDelay
// if smaller.
func NewHostLimiter(minDelay, maxDelay time.Duration) *HostLimiter {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &HostLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		hosts:    xsync.NewMap[string, *hostState](),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
		sleep:    retry.Wait,
	}
}

// Wait implements Limiter
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	st, ok := l.hosts.Load(host)
	if !ok {
		st, _ = l.hosts.LoadOrStore(host, &hostState{})
	}

	delay := l.jitter()

	st.mu.Lock()
	now := l.now()
	slot := st.next
	if slot.Before(now) {
		slot = now
	}
	reserved := slot.Add(delay)
	st.next = reserved
	st.mu.Unlock()

	if err := l.sleep(ctx, slot.Sub(now)); err != nil {
		// Hand the slot back if nobody queued behind us.
		st.mu.Lock()
		if st.next.Equal(reserved) {
			st.next = slot
		}
		st.mu.Unlock()
		return err
	}
	return nil
}

// Reset forgets all per-host state
func (l *HostLimiter) Reset() {
	l.hosts.Clear()
}

func (l *HostLimiter) jitter() time.Duration {
	span := l.maxDelay - l.minDelay
	if span <= 0 {
		return l.minDelay
	}
	l.randMu.Lock()
	n := l.rng.Int63n(int64(span) + 1)
	l.randMu.Unlock()
	return l.minDelay + time.Duration(n)
}

// Global caps the request rate across all hosts with a token bucket
type Global struct {
	limiter *rate.Limiter
}

// NewGlobal allows rps requests per second with the given burst
func NewGlobal(rps float64, burst int) *Global {
	if burst < 1 {
		burst = 1
	}
	return &Global{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait implements Limiter; host is ignored
func (g *Global) Wait(ctx context.Context, _ string) error {
	return g.limiter.Wait(ctx)
}

// Chain waits on each limiter in order
type Chain []Limiter

// Wait implements Limiter
func (c Chain) Wait(ctx context.Context, host string) error {
	for _, l := range c {
		if err := l.Wait(ctx, host); err != nil {
			return err
		}
	}
	return nil
}

// Noop never waits
type Noop struct{}

// Wait implements Limiter
func (Noop) Wait(ctx context.Context, _ string) error {
	return ctx.Err()
}
