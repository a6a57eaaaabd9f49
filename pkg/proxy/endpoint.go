package proxy

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strings"

	errs "moonfetch/pkg/errors"
)

// Protocol is the scheme used to talk to an upstream proxy
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolHTTPS  Protocol = "https"
	ProtocolSOCKS5 Protocol = "socks5"
)

// Endpoint is a selected proxy handed to callers. It is a plain value: the
// rotator's health state never leaves the rotator, and Index only addresses
// the entry when reporting back.
type Endpoint struct {
	Index    int
	URL      string
	Protocol Protocol
}

// ProxyURL parses the endpoint URL, including any credentials
func (e Endpoint) ProxyURL() (*url.URL, error) {
	return url.Parse(e.URL)
}

// Host returns host:port of the proxy
func (e Endpoint) Host() string {
	u, err := url.Parse(e.URL)
	if err != nil {
		return ""
	}
	return u.Host
}

// String returns the endpoint with any password redacted
func (e Endpoint) String() string {
	u, err := url.Parse(e.URL)
	if err != nil {
		return e.URL
	}
	return u.Redacted()
}

// ParseEndpoint parses scheme://[user:pass@]host:port. A bare host:port is
// taken as an http proxy.
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, errs.New(errs.KindConfig, "empty proxy url")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, errs.Config(err, "invalid proxy url %q", raw)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return Endpoint{}, errs.New(errs.KindConfig, "proxy url %q must include host and port", u.Redacted())
	}

	var proto Protocol
	switch strings.ToLower(u.Scheme) {
	case "http":
		proto = ProtocolHTTP
	case "https":
		proto = ProtocolHTTPS
	case "socks5", "socks5h":
		proto = ProtocolSOCKS5
	default:
		return Endpoint{}, errs.New(errs.KindConfig, "unsupported proxy scheme %q", u.Scheme)
	}

	u.Scheme = string(proto)
	u.Host = strings.ToLower(u.Host)
	u.Path = ""
	return Endpoint{URL: u.String(), Protocol: proto}, nil
}

// ParseList parses one proxy per line, skipping blank lines and # comments
func ParseList(r io.Reader) ([]Endpoint, error) {
	var out []Endpoint
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		ep, err := ParseEndpoint(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, ep)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
