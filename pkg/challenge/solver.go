package challenge

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errs "moonfetch/pkg/errors"
	"moonfetch/pkg/logger"
	"moonfetch/pkg/retry"
)

// Doer sends the challenge submission. The client must not follow redirects,
// since the clearance cookie arrives on the redirect response itself.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Solver
type Options struct {
	MinSubmitDelay time.Duration
	MaxSubmitDelay time.Duration
	ClearanceTTL   time.Duration
	Logger         logger.Logger
}

// Solver answers challenge pages of the one recognized template
type Solver struct {
	opts  Options
	log   logger.Logger
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewSolver creates a solver
func NewSolver(opts Options) *Solver {
	if opts.MaxSubmitDelay < opts.MinSubmitDelay {
		opts.MaxSubmitDelay = opts.MinSubmitDelay
	}
	if opts.ClearanceTTL <= 0 {
		opts.ClearanceTTL = 30 * time.Minute
	}
	return &Solver{
		opts:  opts,
		log:   logger.OrDefault(opts.Logger),
		sleep: retry.Wait,
		now:   time.Now,
	}
}

// SubmitDelay is the page's declared delay clamped to the configured window
func (s *Solver) SubmitDelay(p *Params) time.Duration {
	d := p.Delay
	if d < s.opts.MinSubmitDelay {
		d = s.opts.MinSubmitDelay
	}
	if d > s.opts.MaxSubmitDelay {
		d = s.opts.MaxSubmitDelay
	}
	return d
}

// Solve answers the challenge in body, served for page, and returns the
// resulting clearance. header carries the browser headers the original
// request used; they are replayed on the submission.
func (s *Solver) Solve(ctx context.Context, client Doer, page *url.URL, header http.Header, body []byte) (*Clearance, error) {
	params, err := Parse(body, page)
	if err != nil {
		return nil, err
	}

	wait := s.SubmitDelay(params)
	s.log.DebugWithFields("waiting before challenge submission", map[string]interface{}{
		"host":    page.Host,
		"wait_ms": wait.Milliseconds(),
	})
	if err := s.sleep(ctx, wait); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.SubmitURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindChallengeUnsolved, err, "build submission")
	}
	for k, v := range header {
		req.Header[k] = append([]string(nil), v...)
	}
	req.Header.Set("Referer", page.String())

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Network(err, "submit challenge answer to %s", page.Host)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	clearance := s.clearanceFrom(page, resp)
	if clearance == nil {
		return nil, &errs.Error{
			Kind:    errs.KindChallengeUnsolved,
			Code:    resp.StatusCode,
			Message: "submission response carried no clearance cookie",
		}
	}

	s.log.InfoWithFields("challenge solved", map[string]interface{}{
		"host":    clearance.Host,
		"expires": clearance.Expires,
	})
	return clearance, nil
}

func (s *Solver) clearanceFrom(page *url.URL, resp *http.Response) *Clearance {
	now := s.now()
	expires := now.Add(s.opts.ClearanceTTL)

	var found bool
	cookies := resp.Cookies()
	for _, c := range cookies {
		if c.Name != ClearanceCookie || c.Value == "" {
			continue
		}
		found = true
		switch {
		case c.MaxAge > 0:
			if e := now.Add(time.Duration(c.MaxAge) * time.Second); e.Before(expires) {
				expires = e
			}
		case !c.Expires.IsZero() && c.Expires.Before(expires):
			expires = c.Expires
		}
	}
	if !found {
		return nil
	}

	return &Clearance{
		Host:    strings.ToLower(page.Host),
		Cookies: cookies,
		Expires: expires,
	}
}
