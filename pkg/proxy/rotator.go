package proxy

import (
	"net/url"
	"sync"
	"time"

	errs "moonfetch/pkg/errors"
	"moonfetch/pkg/logger"
)

// Strategy names accepted by NewRotator
const (
	RoundRobin        = "round_robin"
	LeastRecentlyUsed = "least_recently_used"
	Weighted          = "weighted"
)

// CredentialSource supplies credentials for proxies listed without userinfo
type CredentialSource interface {
	Lookup(host string) (username, password string, ok bool)
}

// Options configures a Rotator
type Options struct {
	Strategy         string
	FailureThreshold int
	Cooldown         time.Duration
	Credentials      CredentialSource
	Logger           logger.Logger
}

// entry is the rotator-private health record for one proxy
type entry struct {
	endpoint      Endpoint
	failures      int // consecutive
	lastUsed      time.Time
	cooldownUntil time.Time
	successes     uint64
	totalFailures uint64
}

func (e *entry) available(now time.Time) bool {
	return !now.Before(e.cooldownUntil)
}

// score is the success ratio with one optimistic virtual success, so an
// untried entry scores 1.
func (e *entry) score() float64 {
	return float64(e.successes+1) / float64(e.successes+e.totalFailures+1)
}

// EntryStats is a point-in-time view of one entry
type EntryStats struct {
	Endpoint            string    `json:"endpoint"`
	Protocol            Protocol  `json:"protocol"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Successes           uint64    `json:"successes"`
	Failures            uint64    `json:"failures"`
	LastUsed            time.Time `json:"last_used"`
	CooldownUntil       time.Time `json:"cooldown_until"`
	Available           bool      `json:"available"`
}

type selector func(r *Rotator, now time.Time) int

var selectors = map[string]selector{
	RoundRobin:        selectRoundRobin,
	LeastRecentlyUsed: selectLeastRecentlyUsed,
	Weighted:          selectWeighted,
}

// Rotator owns a fixed pool of proxies. Entries live in an arena slice and
// are addressed by index; one mutex covers selection and health updates and
// is never held across I/O.
type Rotator struct {
	mu        sync.Mutex
	entries   []entry
	cursor    int
	selectFn  selector
	threshold int
	cooldown  time.Duration
	log       logger.Logger
	now       func() time.Time
}

// NewRotator builds a rotator from proxy URLs. Any invalid URL or option is
// a config error.
func NewRotator(urls []string, opts Options) (*Rotator, error) {
	if len(urls) == 0 {
		return nil, errs.New(errs.KindConfig, "proxy list is empty")
	}
	if opts.Strategy == "" {
		opts.Strategy = RoundRobin
	}
	selectFn, ok := selectors[opts.Strategy]
	if !ok {
		return nil, errs.New(errs.KindConfig, "unknown proxy strategy %q", opts.Strategy)
	}
	if opts.FailureThreshold <= 0 {
		return nil, errs.New(errs.KindConfig, "failure threshold must be positive")
	}
	if opts.Cooldown <= 0 {
		return nil, errs.New(errs.KindConfig, "cooldown must be positive")
	}

	r := &Rotator{
		entries:   make([]entry, 0, len(urls)),
		selectFn:  selectFn,
		threshold: opts.FailureThreshold,
		cooldown:  opts.Cooldown,
		log:       logger.OrDefault(opts.Logger),
		now:       time.Now,
	}

	for i, raw := range urls {
		ep, err := ParseEndpoint(raw)
		if err != nil {
			return nil, err
		}
		if opts.Credentials != nil {
			ep = withCredentials(ep, opts.Credentials)
		}
		ep.Index = i
		r.entries = append(r.entries, entry{endpoint: ep})
	}

	r.log.InfoWithFields("proxy rotator ready", map[string]interface{}{
		"proxies":  len(r.entries),
		"strategy": opts.Strategy,
	})
	return r, nil
}

func withCredentials(ep Endpoint, src CredentialSource) Endpoint {
	u, err := url.Parse(ep.URL)
	if err != nil || u.User != nil {
		return ep
	}
	user, pass, ok := src.Lookup(u.Host)
	if !ok {
		return ep
	}
	u.User = url.UserPassword(user, pass)
	ep.URL = u.String()
	return ep
}

// Select returns the next usable endpoint, or a ProxyExhausted error when
// every entry is cooling down.
func (r *Rotator) Select() (Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	idx := r.selectFn(r, now)
	if idx < 0 {
		return Endpoint{}, errs.New(errs.KindProxyExhausted, "all %d proxies are cooling down", len(r.entries))
	}

	e := &r.entries[idx]
	e.lastUsed = now
	r.cursor = (idx + 1) % len(r.entries)
	return e.endpoint, nil
}

// ReportFailure counts a consecutive failure. Reaching the threshold starts
// a cooldown. The counter is not cleared when the cooldown ends, so a
// recovered entry that fails again goes straight back into cooldown.
func (r *Rotator) ReportFailure(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.lookup(ep)
	if e == nil {
		return
	}
	e.failures++
	e.totalFailures++
	if e.failures >= r.threshold {
		e.cooldownUntil = r.now().Add(r.cooldown)
		r.log.WarnWithFields("proxy entering cooldown", map[string]interface{}{
			"proxy":    e.endpoint.String(),
			"failures": e.failures,
			"until":    e.cooldownUntil,
		})
	}
}

// ReportSuccess resets the consecutive failure counter
func (r *Rotator) ReportSuccess(ep Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.lookup(ep)
	if e == nil {
		return
	}
	e.failures = 0
	e.successes++
}

// lookup ignores endpoints that did not come from this rotator
func (r *Rotator) lookup(ep Endpoint) *entry {
	if ep.Index < 0 || ep.Index >= len(r.entries) {
		return nil
	}
	e := &r.entries[ep.Index]
	if e.endpoint.URL != ep.URL {
		return nil
	}
	return e
}

// Len returns the pool size
func (r *Rotator) Len() int {
	return len(r.entries)
}

// Available returns the number of entries not in cooldown
func (r *Rotator) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for i := range r.entries {
		if r.entries[i].available(now) {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of every entry in pool order
func (r *Rotator) Stats() []EntryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]EntryStats, len(r.entries))
	for i := range r.entries {
		e := &r.entries[i]
		out[i] = EntryStats{
			Endpoint:            e.endpoint.String(),
			Protocol:            e.endpoint.Protocol,
			ConsecutiveFailures: e.failures,
			Successes:           e.successes,
			Failures:            e.totalFailures,
			LastUsed:            e.lastUsed,
			CooldownUntil:       e.cooldownUntil,
			Available:           e.available(now),
		}
	}
	return out
}

// Each selector scans from the cursor so ties go to the entry that comes
// next in rotation. They return -1 when nothing is available.

func selectRoundRobin(r *Rotator, now time.Time) int {
	n := len(r.entries)
	for i := 0; i < n; i++ {
		idx := (r.cursor + i) % n
		if r.entries[idx].available(now) {
			return idx
		}
	}
	return -1
}

func selectLeastRecentlyUsed(r *Rotator, now time.Time) int {
	n := len(r.entries)
	best := -1
	for i := 0; i < n; i++ {
		idx := (r.cursor + i) % n
		e := &r.entries[idx]
		if !e.available(now) {
			continue
		}
		if best < 0 || e.lastUsed.Before(r.entries[best].lastUsed) {
			best = idx
		}
	}
	return best
}

func selectWeighted(r *Rotator, now time.Time) int {
	n := len(r.entries)
	best := -1
	bestScore := 0.0
	for i := 0; i < n; i++ {
		idx := (r.cursor + i) % n
		e := &r.entries[idx]
		if !e.available(now) {
			continue
		}
		if s := e.score(); best < 0 || s > bestScore {
			best, bestScore = idx, s
		}
	}
	return best
}
