package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"

	"moonfetch/pkg/cache"
	"moonfetch/pkg/challenge"
	errs "moonfetch/pkg/errors"
	"moonfetch/pkg/fingerprint"
	"moonfetch/pkg/logger"
	"moonfetch/pkg/proxy"
	"moonfetch/pkg/ratelimit"
	"moonfetch/pkg/retry"
	"moonfetch/pkg/stats"
)

// DefaultRetryBudget is the number of network dispatches a request may use
const DefaultRetryBudget = 3

// Request describes one logical request. It is not modified by the executor.
type Request struct {
	Method   string
	URL      string
	Body     []byte
	Header   http.Header
	UseProxy bool
	UseCache bool
}

// Get is shorthand for a cacheable, proxied GET
func Get(rawURL string) Request {
	return Request{Method: http.MethodGet, URL: rawURL, UseProxy: true, UseCache: true}
}

// Response is the final result of a request
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FromCache  bool
	// Attempts is the number of network dispatches made, zero for cache hits
	Attempts int
	Proxy    string
}

func (r *Response) clone() *Response {
	cp := *r
	cp.Header = r.Header.Clone()
	cp.Body = append([]byte(nil), r.Body...)
	return &cp
}

// Options wires the executor's collaborators. Nil collaborators get
// defaults, except Cache and Rotator whose absence disables caching and
// proxying.
type Options struct {
	RetryBudget     int
	Timeout         time.Duration
	FollowRedirects bool
	Fingerprint     string
	CacheTTL        time.Duration

	Limiter    ratelimit.Limiter
	Cache      cache.Store
	Rotator    *proxy.Rotator
	Transports *proxy.TransportPool
	Solver     *challenge.Solver
	Clearances *challenge.ClearanceStore
	Backoff    *retry.KindBackoff
	Stats      *stats.Stats
	Logger     logger.Logger
}

// Executor runs requests through pacing, caching, proxy rotation and
// challenge solving. It is safe for concurrent use.
type Executor struct {
	budget          int
	timeout         time.Duration
	followRedirects bool
	profile         fingerprint.Profile
	cacheTTL        time.Duration

	limiter    ratelimit.Limiter
	cache      cache.Store
	rotator    *proxy.Rotator
	transports *proxy.TransportPool
	solver     *challenge.Solver
	clearances *challenge.ClearanceStore
	backoff    *retry.KindBackoff
	stats      *stats.Stats
	log        logger.Logger
	jar        http.CookieJar

	flights       singleflight.Group
	solves        singleflight.Group
	sharedTimeout time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
}

// New creates an executor
func New(opts Options) (*Executor, error) {
	if opts.RetryBudget == 0 {
		opts.RetryBudget = DefaultRetryBudget
	}
	if opts.RetryBudget < 0 {
		return nil, errs.New(errs.KindConfig, "retry budget must be at least 1")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Fingerprint == "" {
		opts.Fingerprint = fingerprint.ChromeWindows
	}
	profile, err := fingerprint.Get(opts.Fingerprint)
	if err != nil {
		return nil, errs.Config(err, "invalid fingerprint")
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	e := &Executor{
		budget:          opts.RetryBudget,
		timeout:         opts.Timeout,
		followRedirects: opts.FollowRedirects,
		profile:         profile,
		cacheTTL:        opts.CacheTTL,
		limiter:         opts.Limiter,
		cache:           opts.Cache,
		rotator:         opts.Rotator,
		transports:      opts.Transports,
		solver:          opts.Solver,
		clearances:      opts.Clearances,
		backoff:         opts.Backoff,
		stats:           opts.Stats,
		log:             logger.OrDefault(opts.Logger),
		jar:             jar,
		sharedTimeout:   time.Duration(opts.RetryBudget+1) * (opts.Timeout + maxRetryAfter),
		sleep:           retry.Wait,
	}

	if e.limiter == nil {
		e.limiter = ratelimit.Noop{}
	}
	if e.transports == nil {
		e.transports = proxy.NewTransportPool(opts.Timeout)
	}
	if e.solver == nil {
		e.solver = challenge.NewSolver(challenge.Options{
			MinSubmitDelay: time.Second,
			MaxSubmitDelay: 5 * time.Second,
			Logger:         e.log,
		})
	}
	if e.clearances == nil {
		if e.clearances, err = challenge.NewClearanceStore(1024); err != nil {
			return nil, err
		}
	}
	if e.backoff == nil {
		e.backoff = retry.NewKindBackoff()
	}
	if e.stats == nil {
		e.stats = stats.New()
	}
	return e, nil
}

// Stats returns the counters this executor updates
func (e *Executor) Stats() *stats.Stats { return e.stats }

// Rotator returns the proxy rotator, or nil when proxying is off
func (e *Executor) Rotator() *proxy.Rotator { return e.rotator }

// Clearances returns the per-host clearance store
func (e *Executor) Clearances() *challenge.ClearanceStore { return e.clearances }

// Do runs req to completion. Concurrent identical cacheable GETs share one
// execution. On failure the error is the last classified error observed,
// unwrapped.
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	r, err := e.newRun(req, false)
	if err != nil {
		return nil, err
	}
	if !r.cacheable {
		return r.execute(ctx)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// the shared execution outlives any one caller; each caller still
	// stops waiting when its own ctx is done
	ch := e.flights.DoChan(r.key, func() (interface{}, error) {
		fctx, cancel := e.detach(ctx)
		defer cancel()
		return r.execute(fctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Response).clone(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stream runs req like Do but hands a 2xx response to fn with the body still
// unread, so large payloads never sit in memory. Non-2xx final responses are
// passed to fn with their already-read body. Stream never uses the cache.
// The body is closed after fn returns.
func (e *Executor) Stream(ctx context.Context, req Request, fn func(*http.Response) error) error {
	r, err := e.newRun(req, true)
	if err != nil {
		return err
	}
	if _, err := r.execute(ctx); err != nil {
		return err
	}

	resp := r.live
	if resp == nil {
		resp = &http.Response{
			StatusCode:    r.status,
			Header:        r.respHeader,
			Body:          io.NopCloser(bytes.NewReader(r.body)),
			ContentLength: int64(len(r.body)),
		}
	}
	defer resp.Body.Close()
	return fn(resp)
}

// Close releases pooled connections and caches owned by the executor
func (e *Executor) Close() error {
	e.transports.CloseIdleConnections()
	e.clearances.Close()
	if c, ok := e.cache.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (e *Executor) newRun(req Request, stream bool) (*run, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid request url %q: %w", req.URL, err)
	}
	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("invalid request url %q: need an absolute http(s) url", req.URL)
	}

	header := e.profile.Apply(req.Header)
	r := &run{
		e:      e,
		req:    req,
		method: method,
		target: target,
		header: header,
		stream: stream,
	}

	if !stream && method == http.MethodGet && req.UseCache && e.cache != nil {
		if key, err := cache.Key(method, req.URL, header); err == nil {
			r.key, r.cacheable = key, true
		}
	}

	id := uuid.NewString()
	r.log = e.log.WithFields(map[string]interface{}{
		"request_id": id,
		"method":     method,
		"host":       target.Host,
	})
	return r, nil
}

// detach derives a context for work shared between callers. It keeps ctx's
// values but not its cancellation, and is bounded by the longest a run can
// legitimately take.
func (e *Executor) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.sharedTimeout)
}

// forgetClearance drops a rejected clearance from the store and the jar
func (e *Executor) forgetClearance(u *url.URL) {
	e.clearances.Delete(u.Host)
	e.jar.SetCookies(u, []*http.Cookie{{Name: challenge.ClearanceCookie, Path: "/", MaxAge: -1}})
}

func (e *Executor) client(t http.RoundTripper, follow bool, timeout time.Duration) *http.Client {
	c := &http.Client{Transport: t, Jar: e.jar, Timeout: timeout}
	if !follow {
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return c
}
