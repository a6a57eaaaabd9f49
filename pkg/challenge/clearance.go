package challenge

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maypok86/otter"
)

// ClearanceCookie is the cookie that proves a solved challenge
const ClearanceCookie = "cf_clearance"

// Clearance is a solved-challenge credential for one host
type Clearance struct {
	Host    string
	Cookies []*http.Cookie
	Expires time.Time
}

// Token returns the clearance cookie value
func (c *Clearance) Token() string {
	for _, ck := range c.Cookies {
		if ck.Name == ClearanceCookie {
			return ck.Value
		}
	}
	return ""
}

// Valid reports whether the clearance can still be presented at now
func (c *Clearance) Valid(now time.Time) bool {
	return c != nil && c.Token() != "" && now.Before(c.Expires)
}

// ClearanceStore holds at most one clearance per host. Entries drop out when
// they expire or when the target rejects them.
type ClearanceStore struct {
	cache otter.CacheWithVariableTTL[string, *Clearance]
	now   func() time.Time
}

// NewClearanceStore creates a store bounded to maxHosts entries
func NewClearanceStore(maxHosts int) (*ClearanceStore, error) {
	if maxHosts <= 0 {
		maxHosts = 1024
	}
	cache, err := otter.MustBuilder[string, *Clearance](maxHosts).
		Cost(func(_ string, _ *Clearance) uint32 { return 1 }).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create clearance store: %w", err)
	}
	return &ClearanceStore{cache: cache, now: time.Now}, nil
}

// Get returns the live clearance for host
func (s *ClearanceStore) Get(host string) (*Clearance, bool) {
	host = strings.ToLower(host)
	c, ok := s.cache.Get(host)
	if !ok {
		return nil, false
	}
	if !c.Valid(s.now()) {
		s.cache.Delete(host)
		return nil, false
	}
	return c, true
}

// Set stores c until its expiry. Already-expired clearances are dropped.
func (s *ClearanceStore) Set(c *Clearance) {
	ttl := c.Expires.Sub(s.now())
	if ttl <= 0 {
		return
	}
	s.cache.Set(strings.ToLower(c.Host), c, ttl)
}

// Delete forgets the clearance for host, typically after a rejection
func (s *ClearanceStore) Delete(host string) {
	s.cache.Delete(strings.ToLower(host))
}

// Len returns the number of stored clearances
func (s *ClearanceStore) Len() int {
	return s.cache.Size()
}

// Close releases the store's background resources
func (s *ClearanceStore) Close() {
	s.cache.Close()
}
