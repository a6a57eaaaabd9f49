package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"moonfetch/pkg/cache"
	"moonfetch/pkg/challenge"
	errs "moonfetch/pkg/errors"
	"moonfetch/pkg/logger"
	"moonfetch/pkg/proxy"
)

// maxRetryAfter caps how long a server's Retry-After may hold a request
const maxRetryAfter = 2 * time.Minute

// run is the per-request state carried between FSM steps
type run struct {
	e         *Executor
	req       Request
	method    string
	target    *url.URL
	header    http.Header
	key       string
	cacheable bool
	stream    bool
	log       logger.Logger

	// used counts budget units: dispatches plus failed challenge submissions
	used          int
	rateLimited   int
	endpoint      proxy.Endpoint
	viaProxy      bool
	clearanceSent bool

	status     int
	respHeader http.Header
	body       []byte
	live       *http.Response
	lastErr    error
	result     *Response
}

func (r *run) execute(ctx context.Context) (*Response, error) {
	state := StateInit
	for !state.Terminal() {
		outcome := r.act(ctx, state)
		next := Transition(state, outcome)
		r.log.DebugWithFields("state transition", map[string]interface{}{
			"from":    state.String(),
			"outcome": outcome.String(),
			"to":      next.String(),
			"used":    r.used,
		})
		state = next
	}

	if state == StateFail {
		if r.live != nil {
			r.live.Body.Close()
			r.live = nil
		}
		r.log.WarnWithFields("request failed", map[string]interface{}{
			"error":    r.lastErr.Error(),
			"kind":     string(errs.KindOf(r.lastErr)),
			"attempts": r.used,
		})
		return nil, r.lastErr
	}

	r.e.stats.IncRequestsSucceeded()
	return r.result, nil
}

func (r *run) act(ctx context.Context, s State) Outcome {
	switch s {
	case StateInit:
		r.e.stats.IncRequestsAttempted()
		return OutcomeOK
	case StateRateLimitWait:
		return r.waitForSlot(ctx)
	case StateCacheLookup:
		return r.lookup(ctx)
	case StateDispatch, StateReplayWithClearance:
		return r.dispatch(ctx)
	case StateInspect:
		return r.inspect()
	case StateCacheStore:
		return r.store(ctx)
	case StateSolve:
		return r.solve(ctx)
	case StateRotateProxy:
		return r.rotate()
	case StateBackoff:
		return r.pause(ctx)
	}
	r.lastErr = fmt.Errorf("no action for state %s", s)
	return OutcomeAbort
}

func (r *run) waitForSlot(ctx context.Context) Outcome {
	r.e.stats.IncRateLimitWaits()
	if err := r.e.limiter.Wait(ctx, r.target.Host); err != nil {
		r.lastErr = err
		return OutcomeAbort
	}
	return OutcomeOK
}

func (r *run) lookup(ctx context.Context) Outcome {
	if !r.cacheable {
		return OutcomeCacheMiss
	}

	entry, ok, err := r.e.cache.Get(ctx, r.key)
	if err != nil {
		r.e.stats.IncCacheErrors()
		r.log.WithError(err).Warn("cache lookup failed, bypassing cache")
		return OutcomeCacheMiss
	}
	if !ok {
		return OutcomeCacheMiss
	}

	r.e.stats.IncCacheHits()
	r.result = &Response{
		StatusCode: entry.StatusCode,
		Header:     entry.Header.Clone(),
		Body:       entry.Body,
		FromCache:  true,
	}
	return OutcomeCacheHit
}

func (r *run) dispatch(ctx context.Context) Outcome {
	if r.used >= r.e.budget {
		return OutcomeExhausted
	}

	if r.req.UseProxy && r.e.rotator != nil && !r.viaProxy {
		ep, err := r.e.rotator.Select()
		if err != nil {
			r.lastErr = err
			return OutcomeAbort
		}
		r.endpoint, r.viaProxy = ep, true
	}

	transport, err := r.transport()
	if err != nil {
		r.lastErr = err
		return OutcomeAbort
	}

	req, err := r.newRequest(ctx)
	if err != nil {
		r.lastErr = err
		return OutcomeAbort
	}

	_, r.clearanceSent = r.e.clearances.Get(r.target.Host)
	r.used++

	timeout := r.e.timeout
	if r.stream {
		timeout = 0
	}
	resp, err := r.e.client(transport, r.e.followRedirects, timeout).Do(req)
	if err != nil {
		return r.transportFailure(ctx, err)
	}

	r.status = resp.StatusCode
	r.respHeader = resp.Header
	r.body = nil

	if r.stream && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		r.live = resp
		r.reportProxySuccess()
		return OutcomeOK
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return r.transportFailure(ctx, err)
	}
	r.body = body
	r.reportProxySuccess()
	return OutcomeOK
}

func (r *run) transport() (http.RoundTripper, error) {
	if !r.viaProxy {
		return r.e.transports.Direct(), nil
	}
	return r.e.transports.For(r.endpoint)
}

func (r *run) newRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(r.req.Body) > 0 {
		body = bytes.NewReader(r.req.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header = r.header.Clone()
	return req, nil
}

func (r *run) reportProxySuccess() {
	if r.viaProxy {
		r.e.rotator.ReportSuccess(r.endpoint)
	}
}

// transportFailure classifies a failed exchange. Through a proxy it counts
// against the proxy and asks for rotation; direct failures are final.
func (r *run) transportFailure(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil {
		r.lastErr = ctx.Err()
		return OutcomeAbort
	}

	r.lastErr = errs.Network(err, "%s %s", r.method, r.target.Host)
	if !r.viaProxy {
		return OutcomeNetworkError
	}

	r.e.rotator.ReportFailure(r.endpoint)
	r.e.stats.IncProxyFailures()
	r.log.WithError(err).WarnWithFields("proxy failed", map[string]interface{}{
		"proxy": r.endpoint.String(),
	})
	if r.used >= r.e.budget {
		return OutcomeExhausted
	}
	return OutcomeProxyFailure
}

func (r *run) inspect() Outcome {
	if challenge.Detect(r.status, r.respHeader, r.body) {
		r.e.stats.IncChallengesEncountered()
		if r.clearanceSent {
			r.log.Info("clearance rejected, solving again")
			r.e.forgetClearance(r.target)
		}
		r.lastErr = &errs.Error{
			Kind:    errs.KindChallengeUnsolved,
			Code:    r.status,
			Message: fmt.Sprintf("still challenged after %d attempts", r.used),
		}
		if r.used >= r.e.budget {
			return OutcomeExhausted
		}
		return OutcomeChallenge
	}

	if r.status == http.StatusTooManyRequests {
		r.lastErr = &errs.Error{
			Kind:    errs.KindRateLimitExceeded,
			Code:    r.status,
			Message: fmt.Sprintf("%s throttled after %d attempts", r.target.Host, r.used),
		}
		if r.used >= r.e.budget {
			return OutcomeExhausted
		}
		return OutcomeRateLimited
	}
	return OutcomeOK
}

func (r *run) store(ctx context.Context) Outcome {
	r.result = &Response{
		StatusCode: r.status,
		Header:     r.respHeader,
		Body:       r.body,
		Attempts:   r.used,
	}
	if r.viaProxy {
		r.result.Proxy = r.endpoint.String()
	}

	if !r.cacheable || r.status < 200 || r.status >= 300 {
		return OutcomeOK
	}

	err := r.e.cache.Put(ctx, r.key, &cache.Entry{
		Key:        r.key,
		StatusCode: r.status,
		Header:     r.respHeader.Clone(),
		Body:       r.body,
		StoredAt:   time.Now(),
		TTL:        r.e.cacheTTL,
	})
	if err != nil {
		r.e.stats.IncCacheErrors()
		r.log.WithError(err).Warn("cache store failed")
	}
	return OutcomeOK
}

func (r *run) solve(ctx context.Context) Outcome {
	transport, err := r.transport()
	if err != nil {
		r.lastErr = err
		return OutcomeAbort
	}
	client := r.e.client(transport, false, r.e.timeout)

	// one solve per host; concurrent requests wait for it without tying it
	// to whichever of them started it
	ch := r.e.solves.DoChan(r.target.Host, func() (interface{}, error) {
		sctx, cancel := r.e.detach(ctx)
		defer cancel()
		return r.e.solver.Solve(sctx, client, r.target, r.header, r.body)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		r.lastErr = ctx.Err()
		return OutcomeAbort
	}
	v, err := res.Val, res.Err
	if err != nil {
		if ctx.Err() != nil {
			r.lastErr = ctx.Err()
			return OutcomeAbort
		}
		r.lastErr = err
		if errs.KindOf(err) != errs.KindNetwork {
			return OutcomeAbort
		}

		r.used++
		if r.viaProxy {
			r.e.rotator.ReportFailure(r.endpoint)
			r.e.stats.IncProxyFailures()
		}
		if r.used >= r.e.budget {
			return OutcomeExhausted
		}
		if r.viaProxy {
			return OutcomeProxyFailure
		}
		return OutcomeNetworkError
	}

	clearance := v.(*challenge.Clearance)
	r.e.clearances.Set(clearance)
	r.e.jar.SetCookies(r.target, clearance.Cookies)
	r.e.stats.IncChallengesSolved()
	return OutcomeOK
}

func (r *run) rotate() Outcome {
	r.viaProxy = false
	ep, err := r.e.rotator.Select()
	if err != nil {
		r.lastErr = err
		return OutcomeAbort
	}
	r.endpoint, r.viaProxy = ep, true
	return OutcomeOK
}

// pause waits out a 429 before the next dispatch. A Retry-After header in
// seconds takes precedence over the backoff schedule.
func (r *run) pause(ctx context.Context) Outcome {
	r.rateLimited++
	delay := r.e.backoff.For(errs.KindRateLimitExceeded).NextDelay(r.rateLimited)
	if secs, err := strconv.Atoi(r.respHeader.Get("Retry-After")); err == nil && secs >= 0 {
		delay = time.Duration(secs) * time.Second
		if delay > maxRetryAfter {
			delay = maxRetryAfter
		}
	}

	r.log.InfoWithFields("rate limited, backing off", map[string]interface{}{
		"delay_ms": delay.Milliseconds(),
	})
	if err := r.e.sleep(ctx, delay); err != nil {
		r.lastErr = err
		return OutcomeAbort
	}
	return OutcomeOK
}
