package cache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

// Entry is a stored response
type Entry struct {
	Key        string        `json:"key"`
	StatusCode int           `json:"status_code"`
	Header     http.Header   `json:"header"`
	Body       []byte        `json:"body"`
	StoredAt   time.Time     `json:"stored_at"`
	TTL        time.Duration `json:"ttl"`
}

// Live reports whether the entry may still be served at now
func (e *Entry) Live(now time.Time) bool {
	return now.Before(e.StoredAt.Add(e.TTL))
}

// Store is a bounded key-value store with TTL semantics. Get never returns an
// expired entry. Which responses are worth storing is the caller's decision.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context) (int, error)
}

// identityHeaders are folded into the key because they change what the
// server sends back.
var identityHeaders = []string{"Accept", "Accept-Language", "Authorization"}

// Key derives the cache key for a request. The URL is normalized first:
// scheme and host are lower-cased, default ports dropped, the query sorted and
// the fragment removed.
func Key(method, rawURL string, header http.Header) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}

	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(' ')
	b.WriteString(NormalizeURL(u))
	for _, name := range identityHeaders {
		if v := header.Values(name); len(v) > 0 {
			b.WriteByte('\n')
			b.WriteString(strings.ToLower(name))
			b.WriteByte(':')
			b.WriteString(strings.Join(v, ","))
		}
	}

	sum := xxh3.Hash128([]byte(b.String()))
	return fmt.Sprintf("%016x%016x", sum.Hi, sum.Lo), nil
}

// NormalizeURL renders u in canonical form
func NormalizeURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = host + ":" + port
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)

	if q := u.Query(); len(q) > 0 {
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			vals := append([]string(nil), q[k]...)
			sort.Strings(vals)
			for _, v := range vals {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		b.WriteByte('?')
		b.WriteString(strings.Join(parts, "&"))
	}
	return b.String()
}
