package proxy

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "moonfetch/pkg/errors"
	"moonfetch/pkg/logger"
)

var testProxies = []string{
	"http://10.0.0.1:8080",
	"http://10.0.0.2:8080",
	"socks5://10.0.0.3:1080",
}

type stubCredentials map[string][2]string

func (s stubCredentials) Lookup(host string) (string, string, bool) {
	c, ok := s[host]
	return c[0], c[1], ok
}

func newTestRotator(t *testing.T, strategy string) (*Rotator, *time.Time) {
	t.Helper()
	r, err := NewRotator(testProxies, Options{
		Strategy:         strategy,
		FailureThreshold: 5,
		Cooldown:         time.Minute,
		Logger:           logger.NewTestLogger(),
	})
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestNewRotatorRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		urls []string
		opts Options
	}{
		{"empty list", nil, Options{FailureThreshold: 1, Cooldown: time.Second}},
		{"unknown strategy", testProxies, Options{Strategy: "random", FailureThreshold: 1, Cooldown: time.Second}},
		{"zero threshold", testProxies, Options{Cooldown: time.Second}},
		{"zero cooldown", testProxies, Options{FailureThreshold: 1}},
		{"bad scheme", []string{"ftp://1.2.3.4:21"}, Options{FailureThreshold: 1, Cooldown: time.Second}},
		{"missing port", []string{"http://1.2.3.4"}, Options{FailureThreshold: 1, Cooldown: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRotator(tt.urls, tt.opts)
			require.Error(t, err)
			assert.Equal(t, errs.KindConfig, errs.KindOf(err))
		})
	}
}

func TestRoundRobinCycles(t *testing.T) {
	r, _ := newTestRotator(t, RoundRobin)

	var got []int
	for i := 0; i < 6; i++ {
		ep, err := r.Select()
		require.NoError(t, err)
		got = append(got, ep.Index)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, got)
}

func TestCooledEntryIsSkippedUntilCooldownEnds(t *testing.T) {
	r, now := newTestRotator(t, RoundRobin)

	bad := Endpoint{Index: 1, URL: "http://10.0.0.2:8080", Protocol: ProtocolHTTP}
	for i := 0; i < 4; i++ {
		r.ReportFailure(bad)
	}
	assert.Equal(t, 3, r.Available(), "below threshold stays selectable")

	r.ReportFailure(bad)
	assert.Equal(t, 2, r.Available())

	for i := 0; i < 50; i++ {
		ep, err := r.Select()
		require.NoError(t, err)
		assert.NotEqual(t, 1, ep.Index)
	}

	*now = now.Add(time.Minute)
	seen := map[int]bool{}
	for i := 0; i < 3; i++ {
		ep, err := r.Select()
		require.NoError(t, err)
		seen[ep.Index] = true
	}
	assert.True(t, seen[1], "entry returns after cooldown")

	// still at the threshold, so one more failure re-enters cooldown
	r.ReportFailure(bad)
	assert.Equal(t, 2, r.Available())
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	r, _ := newTestRotator(t, RoundRobin)
	ep, err := r.Select()
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		r.ReportFailure(ep)
	}
	r.ReportSuccess(ep)
	for i := 0; i < 4; i++ {
		r.ReportFailure(ep)
	}

	stats := r.Stats()
	assert.Equal(t, 4, stats[0].ConsecutiveFailures)
	assert.Equal(t, uint64(8), stats[0].Failures)
	assert.Equal(t, uint64(1), stats[0].Successes)
	assert.True(t, stats[0].Available)
}

func TestAllCooledReturnsProxyExhausted(t *testing.T) {
	r, _ := newTestRotator(t, Weighted)
	for i := 0; i < r.Len(); i++ {
		ep := r.entries[i].endpoint
		for j := 0; j < 5; j++ {
			r.ReportFailure(ep)
		}
	}

	_, err := r.Select()
	require.Error(t, err)
	assert.Equal(t, errs.KindProxyExhausted, errs.KindOf(err))
}

func TestLeastRecentlyUsedPicksOldest(t *testing.T) {
	r, now := newTestRotator(t, LeastRecentlyUsed)

	order := []int{}
	for i := 0; i < 3; i++ {
		ep, err := r.Select()
		require.NoError(t, err)
		order = append(order, ep.Index)
		*now = now.Add(time.Second)
	}
	assert.ElementsMatch(t, []int{0, 1, 2}, order)

	ep, err := r.Select()
	require.NoError(t, err)
	assert.Equal(t, order[0], ep.Index)
}

func TestWeightedPrefersReliableEntries(t *testing.T) {
	r, _ := newTestRotator(t, Weighted)
	flaky := r.entries[0].endpoint
	solid := r.entries[2].endpoint

	r.ReportFailure(flaky)
	r.ReportSuccess(flaky)
	r.ReportFailure(flaky)
	r.ReportSuccess(flaky)
	r.ReportSuccess(solid)

	// untried entry 1 scores 1.0, same as solid; cursor order decides the tie
	ep, err := r.Select()
	require.NoError(t, err)
	assert.Equal(t, 1, ep.Index)

	ep, err = r.Select()
	require.NoError(t, err)
	assert.Equal(t, 2, ep.Index)
}

func TestStaleEndpointIsIgnored(t *testing.T) {
	r, _ := newTestRotator(t, RoundRobin)
	for i := 0; i < 10; i++ {
		r.ReportFailure(Endpoint{Index: 0, URL: "http://elsewhere:1"})
		r.ReportFailure(Endpoint{Index: 42, URL: "http://10.0.0.1:8080"})
	}
	assert.Equal(t, 3, r.Available())
}

func TestConcurrentSelectAndReport(t *testing.T) {
	r, err := NewRotator(testProxies, Options{FailureThreshold: 10000, Cooldown: time.Minute})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ep, err := r.Select()
				if err != nil {
					continue
				}
				if (i+j)%3 == 0 {
					r.ReportFailure(ep)
				} else {
					r.ReportSuccess(ep)
				}
			}
		}(i)
	}
	wg.Wait()

	var total uint64
	for _, s := range r.Stats() {
		total += s.Successes + s.Failures
	}
	assert.Equal(t, uint64(1600), total)
}

func TestCredentialsAreInjected(t *testing.T) {
	r, err := NewRotator([]string{"10.0.0.9:3128", "http://own:pw@10.0.0.8:3128"}, Options{
		FailureThreshold: 1,
		Cooldown:         time.Second,
		Credentials: stubCredentials{
			"10.0.0.9:3128": {"alice", "secret"},
			"10.0.0.8:3128": {"ignored", "ignored"},
		},
	})
	require.NoError(t, err)

	first, _ := r.Select()
	u, err := first.ProxyURL()
	require.NoError(t, err)
	assert.Equal(t, "alice", u.User.Username())
	assert.NotContains(t, first.String(), "secret")

	second, _ := r.Select()
	assert.True(t, strings.HasPrefix(second.URL, "http://own:pw@"))
}

func TestParseList(t *testing.T) {
	input := `
# upstreams
http://a.example:8080
b.example:3128

socks5h://user:pw@c.example:1080
`
	eps, err := ParseList(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, eps, 3)
	assert.Equal(t, ProtocolHTTP, eps[1].Protocol)
	assert.Equal(t, "http://b.example:3128", eps[1].URL)
	assert.Equal(t, ProtocolSOCKS5, eps[2].Protocol)
	assert.Equal(t, "c.example:1080", eps[2].Host())

	_, err = ParseList(strings.NewReader("ok.example:1\nnot a url"))
	assert.ErrorContains(t, err, "line 2")
}
