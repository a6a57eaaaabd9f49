package challenge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "moonfetch/pkg/errors"
	"moonfetch/pkg/logger"
)

func TestEvalExpr(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"+[]", 0},
		{"!+[]", 1},
		{"!+[]+!![]+!![]", 3},
		{"+((!+[]+!![]+!![]+[])+(!+[]+!![]))", 32},
		{"+((!+[]+!![]+[])+(+!![]))", 21},
		{"+((!+[]+!![]+[])+(+[]))/+((!+[]+!![]+!![]+!![]+[])+(+[]))", 0.5},
		{"2*3+4", 10},
		{"-(1.5)", -1.5},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := evalExpr(tt.expr)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}

	for _, bad := range []string{"", "(", "[1]", "window.x", "+((!+[])"} {
		_, err := evalExpr(bad)
		assert.Error(t, err, bad)
	}
}

func TestDetect(t *testing.T) {
	body := SamplePage("vc", "pass", 4000)
	cf := http.Header{"Cf-Ray": {"7a1b2c3d4e5f-AMS"}}

	tests := []struct {
		name   string
		status int
		header http.Header
		body   []byte
		want   bool
	}{
		{"503 with markers", 503, http.Header{}, body, true},
		{"429 from cloudflare", 429, cf, body, true},
		{"403 with server header", 403, http.Header{"Server": {"cloudflare"}}, body, true},
		{"429 without cloudflare headers", 429, http.Header{}, body, false},
		{"503 plain maintenance page", 503, http.Header{}, []byte("<h1>down for maintenance</h1>"), false},
		{"503 missing one marker", 503, http.Header{}, []byte(`<form id="challenge-form"><input name="jschl_vc"></form>`), false},
		{"200 with markers", 200, cf, body, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.status, tt.header, tt.body))
		})
	}
}

func TestParseSamplePage(t *testing.T) {
	page, _ := url.Parse("https://example.com/some/page?x=1")

	p, err := Parse(SamplePage("a1b2", "1700000000.123-xyz", 4000), page)
	require.NoError(t, err)

	assert.Equal(t, "a1b2", p.VerificationToken)
	assert.Equal(t, "1700000000.123-xyz", p.Pass)
	assert.Equal(t, "1736.0000000000", p.Answer, "1725 + len(example.com)")
	assert.Equal(t, 4*time.Second, p.Delay)

	submit, err := url.Parse(p.SubmitURL)
	require.NoError(t, err)
	assert.Equal(t, "https", submit.Scheme)
	assert.Equal(t, "example.com", submit.Host)
	assert.Equal(t, "/cdn-cgi/l/chk_jschl", submit.Path)
	assert.Equal(t, "a1b2", submit.Query().Get("jschl_vc"))
	assert.Equal(t, "1736.0000000000", submit.Query().Get("jschl_answer"))
}

func TestParseRejectsUnknownTemplates(t *testing.T) {
	page, _ := url.Parse("https://example.com/")
	pages := map[string]string{
		"no form":   `<html><body>jschl_vc jschl_answer</body></html>`,
		"no script": `<form id="challenge-form" action="/x"><input name="jschl_vc" value="a"><input name="pass" value="b"></form>`,
		"turnstile": `<form id="challenge-form" action="/x"><input name="jschl_vc" value="a"><input name="pass" value="b"></form>
			<script>setTimeout(function(){ turnstile.render('#cf', {sitekey: 'k'}) }, 100);</script>`,
		"unsupported arithmetic": `<form id="challenge-form" action="/x"><input name="jschl_vc" value="a"><input name="pass" value="b"></form>
			<script>setTimeout(function(){ var s,t,o,p,b,r,e,a,k,i,n,g,f, x={"y":eval(atob('MQ=='))}; }, 100);</script>`,
	}

	for name, body := range pages {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body), page)
			require.Error(t, err)
			assert.Equal(t, errs.KindChallengeUnsolved, errs.KindOf(err))
		})
	}
}

func newTestSolver(minDelay, maxDelay time.Duration) (*Solver, *[]time.Duration) {
	s := NewSolver(Options{
		MinSubmitDelay: minDelay,
		MaxSubmitDelay: maxDelay,
		ClearanceTTL:   time.Hour,
		Logger:         logger.NewTestLogger(),
	})
	var waits []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return s, &waits
}

func noRedirectClient() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
}

func TestSolveSubmitsAnswerAndReturnsClearance(t *testing.T) {
	var gotQuery url.Values
	var gotReferer, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotReferer = r.Header.Get("Referer")
		gotUA = r.Header.Get("User-Agent")
		http.SetCookie(w, &http.Cookie{Name: ClearanceCookie, Value: "token-123", Path: "/", MaxAge: 600})
		http.Redirect(w, r, "/original", http.StatusFound)
	}))
	defer srv.Close()

	page, _ := url.Parse(srv.URL + "/original")
	solver, waits := newTestSolver(time.Second, 5*time.Second)

	header := http.Header{"User-Agent": {"Mozilla/5.0 test"}}
	c, err := solver.Solve(context.Background(), noRedirectClient(), page, header, SamplePage("vc-1", "pw", 4000))
	require.NoError(t, err)

	assert.Equal(t, "token-123", c.Token())
	assert.Equal(t, page.Host, c.Host)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), c.Expires, 5*time.Second)
	assert.Equal(t, []time.Duration{4 * time.Second}, *waits)

	assert.Equal(t, "vc-1", gotQuery.Get("jschl_vc"))
	assert.Equal(t, "pw", gotQuery.Get("pass"))
	assert.NotEmpty(t, gotQuery.Get("jschl_answer"))
	assert.Equal(t, page.String(), gotReferer)
	assert.Equal(t, "Mozilla/5.0 test", gotUA)
}

func TestSolveWithoutCookieIsUnsolvable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	page, _ := url.Parse(srv.URL)
	solver, _ := newTestSolver(0, 0)

	_, err := solver.Solve(context.Background(), noRedirectClient(), page, nil, SamplePage("vc", "pw", 10))
	require.Error(t, err)
	assert.Equal(t, errs.KindChallengeUnsolved, errs.KindOf(err))
}

func TestSolveSubmissionNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	page, _ := url.Parse(srv.URL)
	srv.Close()

	solver, _ := newTestSolver(0, 0)
	_, err := solver.Solve(context.Background(), noRedirectClient(), page, nil, SamplePage("vc", "pw", 10))
	require.Error(t, err)
	assert.Equal(t, errs.KindNetwork, errs.KindOf(err))
}

func TestSubmitDelayIsClamped(t *testing.T) {
	solver, _ := newTestSolver(time.Second, 5*time.Second)
	assert.Equal(t, time.Second, solver.SubmitDelay(&Params{Delay: 0}))
	assert.Equal(t, 4*time.Second, solver.SubmitDelay(&Params{Delay: 4 * time.Second}))
	assert.Equal(t, 5*time.Second, solver.SubmitDelay(&Params{Delay: time.Minute}))
}

func TestSolveHonoursCancellation(t *testing.T) {
	solver := NewSolver(Options{MinSubmitDelay: time.Hour, MaxSubmitDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page, _ := url.Parse("https://example.com/")
	_, err := solver.Solve(ctx, noRedirectClient(), page, nil, SamplePage("vc", "pw", 10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClearanceStore(t *testing.T) {
	store, err := NewClearanceStore(16)
	require.NoError(t, err)
	defer store.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	c := &Clearance{
		Host:    "Example.com:443",
		Cookies: []*http.Cookie{{Name: ClearanceCookie, Value: "v"}},
		Expires: now.Add(time.Hour),
	}
	store.Set(c)

	got, ok := store.Get("example.com:443")
	require.True(t, ok)
	assert.Equal(t, "v", got.Token())

	now = now.Add(time.Hour)
	_, ok = store.Get("example.com:443")
	assert.False(t, ok, "expired clearance is absent")

	store.Set(&Clearance{Host: "stale", Cookies: c.Cookies, Expires: now.Add(-time.Second)})
	_, ok = store.Get("stale")
	assert.False(t, ok)

	store.Set(&Clearance{Host: "b", Cookies: c.Cookies, Expires: now.Add(time.Hour)})
	store.Delete("B")
	_, ok = store.Get("b")
	assert.False(t, ok)
}
