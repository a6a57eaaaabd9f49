package challenge

import (
	"bytes"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	errs "moonfetch/pkg/errors"
)

// Markers that must all appear in a challenge page body
var markers = [][]byte{
	[]byte("challenge-form"),
	[]byte("jschl_vc"),
	[]byte("jschl_answer"),
}

// Params are the values needed to answer one challenge page
type Params struct {
	SubmitURL         string
	VerificationToken string
	Pass              string
	Answer            string
	Delay             time.Duration
}

var (
	seedRe    = regexp.MustCompile(`var\s+s,t,o,p,b,r,e,a,k,i,n,g,f,\s*(\w+)\s*=\s*\{\s*"(\w+)"\s*:\s*([^}]+)\}`)
	stepRe    = regexp.MustCompile(`(\w+)\.(\w+)\s*([+\-*/])=\s*([^;]+);`)
	timeoutRe = regexp.MustCompile(`\}\s*,\s*(\d+)\s*\)\s*;?`)
)

// Detect reports whether a response is a challenge page. The status must be
// 503, or 429/403 from a Cloudflare edge, and the body must carry every
// challenge form marker. Anything else is an ordinary response.
func Detect(status int, header http.Header, body []byte) bool {
	switch status {
	case http.StatusServiceUnavailable:
	case http.StatusTooManyRequests, http.StatusForbidden:
		if !fromCloudflare(header) {
			return false
		}
	default:
		return false
	}

	for _, m := range markers {
		if !bytes.Contains(body, m) {
			return false
		}
	}
	return true
}

func fromCloudflare(header http.Header) bool {
	return header.Get("Cf-Ray") != "" || strings.EqualFold(header.Get("Server"), "cloudflare")
}

// Parse extracts the submission parameters from a challenge page served for
// page and computes the answer. Pages that do not follow the known template
// yield a ChallengeUnsolvable error.
func Parse(body []byte, page *url.URL) (*Params, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.KindChallengeUnsolved, err, "parse challenge page")
	}

	form := doc.Find("form#challenge-form").First()
	if form.Length() == 0 {
		return nil, errs.New(errs.KindChallengeUnsolved, "challenge form not found")
	}
	action, ok := form.Attr("action")
	if !ok || action == "" {
		return nil, errs.New(errs.KindChallengeUnsolved, "challenge form has no action")
	}

	vc, _ := form.Find(`input[name="jschl_vc"]`).Attr("value")
	pass, _ := form.Find(`input[name="pass"]`).Attr("value")
	if vc == "" || pass == "" {
		return nil, errs.New(errs.KindChallengeUnsolved, "challenge form is missing jschl_vc or pass")
	}

	var script string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := s.Text(); strings.Contains(text, "setTimeout") {
			script = text
			return false
		}
		return true
	})
	if script == "" {
		return nil, errs.New(errs.KindChallengeUnsolved, "challenge script not found")
	}

	value, err := solveScript(script)
	if err != nil {
		return nil, errs.Wrap(errs.KindChallengeUnsolved, err, "unrecognized challenge script")
	}
	answer := strconv.FormatFloat(value+float64(len(page.Hostname())), 'f', 10, 64)

	submit, err := submitURL(page, action, vc, pass, answer)
	if err != nil {
		return nil, errs.Wrap(errs.KindChallengeUnsolved, err, "bad challenge form action")
	}

	return &Params{
		SubmitURL:         submit,
		VerificationToken: vc,
		Pass:              pass,
		Answer:            answer,
		Delay:             scriptDelay(script),
	}, nil
}

// solveScript replays the seed assignment and the compound assignments that
// follow it on the same object key.
func solveScript(script string) (float64, error) {
	seed := seedRe.FindStringSubmatchIndex(script)
	if seed == nil {
		return 0, errs.New(errs.KindChallengeUnsolved, "seed assignment not found")
	}
	obj := script[seed[2]:seed[3]]
	key := script[seed[4]:seed[5]]

	value, err := evalExpr(script[seed[6]:seed[7]])
	if err != nil {
		return 0, err
	}

	for _, m := range stepRe.FindAllStringSubmatch(script[seed[1]:], -1) {
		if m[1] != obj || m[2] != key {
			continue
		}
		operand, err := evalExpr(m[4])
		if err != nil {
			return 0, err
		}
		switch m[3] {
		case "+":
			value += operand
		case "-":
			value -= operand
		case "*":
			value *= operand
		case "/":
			value /= operand
		}
	}
	return value, nil
}

// scriptDelay reads the setTimeout delay in milliseconds. Zero means the
// page did not declare one.
func scriptDelay(script string) time.Duration {
	matches := timeoutRe.FindAllStringSubmatch(script, -1)
	if len(matches) == 0 {
		return 0
	}
	ms, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func submitURL(page *url.URL, action, vc, pass, answer string) (string, error) {
	ref, err := url.Parse(action)
	if err != nil {
		return "", err
	}
	base := &url.URL{Scheme: page.Scheme, Host: page.Host, Path: "/"}
	u := base.ResolveReference(ref)

	q := url.Values{}
	q.Set("jschl_vc", vc)
	q.Set("pass", pass)
	q.Set("jschl_answer", answer)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
