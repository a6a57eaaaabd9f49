package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a Stats as Prometheus counters. Values are read from the
// atomic counters at scrape time.
type Collector struct {
	stats *Stats
	descs map[string]*prometheus.Desc
}

// NewCollector creates a collector under the given namespace
func NewCollector(namespace string, s *Stats) *Collector {
	names := map[string]string{
		"requests_attempted_total":     "Logical requests started by the executor.",
		"requests_succeeded_total":     "Requests that completed with a final response.",
		"challenges_encountered_total": "Challenge pages detected.",
		"challenges_solved_total":      "Challenges answered with a clearance token.",
		"cache_hits_total":             "Requests served from the response cache.",
		"proxy_failures_total":         "Transport failures attributed to a proxy.",
		"cache_errors_total":           "Cache backend errors absorbed by the executor.",
		"rate_limit_waits_total":       "Calls that waited on the rate limiter.",
		"downloaded_bytes_total":       "Bytes written by the download manager.",
	}

	descs := make(map[string]*prometheus.Desc, len(names))
	for name, help := range names {
		descs[name] = prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{stats: s, descs: descs}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()
	values := map[string]uint64{
		"requests_attempted_total":     snap.RequestsAttempted,
		"requests_succeeded_total":     snap.RequestsSucceeded,
		"challenges_encountered_total": snap.ChallengesEncountered,
		"challenges_solved_total":      snap.ChallengesSolved,
		"cache_hits_total":             snap.CacheHits,
		"proxy_failures_total":         snap.ProxyFailures,
		"cache_errors_total":           snap.CacheErrors,
		"rate_limit_waits_total":       snap.RateLimitWaits,
		"downloaded_bytes_total":       snap.BytesDownloaded,
	}
	for name, v := range values {
		ch <- prometheus.MustNewConstMetric(c.descs[name], prometheus.CounterValue, float64(v))
	}
}
