package proxy

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	xproxy "golang.org/x/net/proxy"

	errs "moonfetch/pkg/errors"
)

const directKey = "direct"

// TransportPool keeps one http.Transport per proxy URL so connections to the
// same proxy are reused across requests.
type TransportPool struct {
	transports *xsync.Map[string, *http.Transport]
	timeout    time.Duration
}

// NewTransportPool creates a pool whose transports use dialTimeout for
// connection setup
func NewTransportPool(dialTimeout time.Duration) *TransportPool {
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}
	return &TransportPool{
		transports: xsync.NewMap[string, *http.Transport](),
		timeout:    dialTimeout,
	}
}

// Direct returns the transport used when no proxy is selected
func (p *TransportPool) Direct() *http.Transport {
	t, _ := p.transports.LoadOrCompute(directKey, func() (*http.Transport, bool) {
		return p.base(), false
	})
	return t
}

// For returns the transport that routes through ep
func (p *TransportPool) For(ep Endpoint) (*http.Transport, error) {
	if t, ok := p.transports.Load(ep.URL); ok {
		return t, nil
	}

	var buildErr error
	t, _ := p.transports.LoadOrCompute(ep.URL, func() (*http.Transport, bool) {
		t, err := p.build(ep)
		if err != nil {
			buildErr = err
			return nil, true
		}
		return t, false
	})
	if buildErr != nil {
		return nil, buildErr
	}
	return t, nil
}

// CloseIdleConnections closes idle connections on every pooled transport
func (p *TransportPool) CloseIdleConnections() {
	p.transports.Range(func(_ string, t *http.Transport) bool {
		t.CloseIdleConnections()
		return true
	})
}

func (p *TransportPool) base() *http.Transport {
	dialer := &net.Dialer{Timeout: p.timeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

func (p *TransportPool) build(ep Endpoint) (*http.Transport, error) {
	u, err := ep.ProxyURL()
	if err != nil {
		return nil, errs.Config(err, "invalid proxy url")
	}

	t := p.base()
	switch ep.Protocol {
	case ProtocolHTTP, ProtocolHTTPS:
		t.Proxy = http.ProxyURL(u)
	case ProtocolSOCKS5:
		var auth *xproxy.Auth
		if u.User != nil {
			pass, _ := u.User.Password()
			auth = &xproxy.Auth{User: u.User.Username(), Password: pass}
		}
		forward := &net.Dialer{Timeout: p.timeout, KeepAlive: 30 * time.Second}
		d, err := xproxy.SOCKS5("tcp", u.Host, auth, forward)
		if err != nil {
			return nil, errs.Config(err, "socks5 dialer for %s", ep)
		}
		if cd, ok := d.(xproxy.ContextDialer); ok {
			t.DialContext = cd.DialContext
		} else {
			t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return d.Dial(network, addr)
			}
		}
	default:
		return nil, errs.New(errs.KindConfig, "unsupported proxy protocol %q", ep.Protocol)
	}
	return t, nil
}
