package stats

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Stats holds the process-lifetime counters observed by the executor and the
// download manager. Construct one with New and inject it; the zero value is
// also ready to use.
type Stats struct {
	requestsAttempted     atomic.Uint64
	requestsSucceeded     atomic.Uint64
	challengesEncountered atomic.Uint64
	challengesSolved      atomic.Uint64
	cacheHits             atomic.Uint64
	proxyFailures         atomic.Uint64
	cacheErrors           atomic.Uint64
	rateLimitWaits        atomic.Uint64
	bytesDownloaded       atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters. Each field is read
// atomically; the set as a whole is not.
type Snapshot struct {
	RequestsAttempted     uint64 `json:"requests_attempted"`
	RequestsSucceeded     uint64 `json:"requests_succeeded"`
	ChallengesEncountered uint64 `json:"challenges_encountered"`
	ChallengesSolved      uint64 `json:"challenges_solved"`
	CacheHits             uint64 `json:"cache_hits"`
	ProxyFailures         uint64 `json:"proxy_failures"`
	CacheErrors           uint64 `json:"cache_errors"`
	RateLimitWaits        uint64 `json:"rate_limit_waits"`
	BytesDownloaded       uint64 `json:"bytes_downloaded"`
}

// New creates a zeroed Stats
func New() *Stats {
	return &Stats{}
}

func (s *Stats) IncRequestsAttempted()     { s.requestsAttempted.Add(1) }
func (s *Stats) IncRequestsSucceeded()     { s.requestsSucceeded.Add(1) }
func (s *Stats) IncChallengesEncountered() { s.challengesEncountered.Add(1) }
func (s *Stats) IncChallengesSolved()      { s.challengesSolved.Add(1) }
func (s *Stats) IncCacheHits()             { s.cacheHits.Add(1) }
func (s *Stats) IncProxyFailures()         { s.proxyFailures.Add(1) }
func (s *Stats) IncCacheErrors()           { s.cacheErrors.Add(1) }
func (s *Stats) IncRateLimitWaits()        { s.rateLimitWaits.Add(1) }

// AddBytesDownloaded records n bytes written to disk
func (s *Stats) AddBytesDownloaded(n int64) {
	if n > 0 {
		s.bytesDownloaded.Add(uint64(n))
	}
}

// Snapshot reads every counter
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		RequestsAttempted:     s.requestsAttempted.Load(),
		RequestsSucceeded:     s.requestsSucceeded.Load(),
		ChallengesEncountered: s.challengesEncountered.Load(),
		ChallengesSolved:      s.challengesSolved.Load(),
		CacheHits:             s.cacheHits.Load(),
		ProxyFailures:         s.proxyFailures.Load(),
		CacheErrors:           s.cacheErrors.Load(),
		RateLimitWaits:        s.rateLimitWaits.Load(),
		BytesDownloaded:       s.bytesDownloaded.Load(),
	}
}

// Reset zeroes every counter. It is the only way a counter decreases.
func (s *Stats) Reset() {
	s.requestsAttempted.Store(0)
	s.requestsSucceeded.Store(0)
	s.challengesEncountered.Store(0)
	s.challengesSolved.Store(0)
	s.cacheHits.Store(0)
	s.proxyFailures.Store(0)
	s.cacheErrors.Store(0)
	s.rateLimitWaits.Store(0)
	s.bytesDownloaded.Store(0)
}

// Print writes a human-readable summary
func (s *Stats) Print(w io.Writer) {
	snap := s.Snapshot()
	fmt.Fprintf(w, "requests attempted:     %d\n", snap.RequestsAttempted)
	fmt.Fprintf(w, "requests succeeded:     %d\n", snap.RequestsSucceeded)
	fmt.Fprintf(w, "challenges encountered: %d\n", snap.ChallengesEncountered)
	fmt.Fprintf(w, "challenges solved:      %d\n", snap.ChallengesSolved)
	fmt.Fprintf(w, "cache hits:             %d\n", snap.CacheHits)
	fmt.Fprintf(w, "proxy failures:         %d\n", snap.ProxyFailures)
	fmt.Fprintf(w, "cache errors:           %d\n", snap.CacheErrors)
	fmt.Fprintf(w, "rate limit waits:       %d\n", snap.RateLimitWaits)
	fmt.Fprintf(w, "bytes downloaded:       %d\n", snap.BytesDownloaded)
}
