// Package proxy rotates requests across a fixed set of upstream proxies.
//
// A Rotator keeps per-proxy health in an arena of entries. Select hands out
// Endpoint values; callers report the outcome with ReportSuccess or
// ReportFailure. An entry that reaches the failure threshold is skipped for
// the cooldown period.
//
//	r, err := proxy.NewRotator(cfg.Proxy.List, proxy.Options{
//		Strategy:         cfg.Proxy.Strategy,
//		FailureThreshold: cfg.Proxy.FailureThreshold,
//		Cooldown:         cfg.Proxy.Cooldown,
//	})
//
// TransportPool builds and caches one http.Transport per proxy, including
// SOCKS5 proxies dialed through golang.org/x/net/proxy.
package proxy
