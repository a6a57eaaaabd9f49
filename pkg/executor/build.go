package executor

import (
	"context"
	"fmt"

	"moonfetch/pkg/cache"
	"moonfetch/pkg/challenge"
	"moonfetch/pkg/config"
	"moonfetch/pkg/credentials"
	"moonfetch/pkg/logger"
	"moonfetch/pkg/proxy"
	"moonfetch/pkg/ratelimit"
	"moonfetch/pkg/stats"
)

// NewFromConfig assembles an executor and its collaborators from cfg. The
// returned executor owns the cache connection; call Close when done.
func NewFromConfig(ctx context.Context, cfg *config.Config, st *stats.Stats, log logger.Logger) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logger.OrDefault(log)

	store, err := buildCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}

	rotator, err := buildRotator(cfg, log)
	if err != nil {
		if c, ok := store.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		return nil, err
	}

	clearances, err := challenge.NewClearanceStore(cfg.Challenge.MaxClearances)
	if err != nil {
		return nil, fmt.Errorf("failed to create clearance store: %w", err)
	}

	opts := Options{
		RetryBudget:     cfg.Request.RetryBudget,
		Timeout:         cfg.Request.Timeout,
		FollowRedirects: cfg.Request.FollowRedirects,
		Fingerprint:     cfg.Request.Fingerprint,
		CacheTTL:        cfg.Cache.TTL,
		Limiter:         buildLimiter(cfg.RateLimit),
		Cache:           store,
		Rotator:         rotator,
		Transports:      proxy.NewTransportPool(cfg.Request.Timeout),
		Solver: challenge.NewSolver(challenge.Options{
			MinSubmitDelay: cfg.Challenge.MinSubmitDelay,
			MaxSubmitDelay: cfg.Challenge.MaxSubmitDelay,
			ClearanceTTL:   cfg.Challenge.ClearanceTTL,
			Logger:         log,
		}),
		Clearances: clearances,
		Stats:      st,
		Logger:     log,
	}

	log.InfoWithFields("executor configured", map[string]interface{}{
		"retry_budget": opts.RetryBudget,
		"fingerprint":  opts.Fingerprint,
		"cache":        cfg.Cache.Enabled,
		"proxies":      rotator != nil,
		"rate_limit":   cfg.RateLimit.Enabled,
	})
	return New(opts)
}

func buildLimiter(cfg config.RateLimitConfig) ratelimit.Limiter {
	if !cfg.Enabled {
		return ratelimit.Noop{}
	}
	chain := ratelimit.Chain{ratelimit.NewHostLimiter(cfg.MinDelay, cfg.MaxDelay)}
	if cfg.GlobalRPS > 0 {
		chain = append(chain, ratelimit.NewGlobal(cfg.GlobalRPS, cfg.Burst))
	}
	return chain
}

func buildCache(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Backend {
	case "redis":
		rs, err := cache.NewRedisStore(ctx, cfg.RedisURL, cfg.MaxEntries)
		if err != nil {
			return nil, err
		}
		return rs, nil
	default:
		return cache.NewMemoryStore(cfg.MaxEntries), nil
	}
}

func buildRotator(cfg *config.Config, log logger.Logger) (*proxy.Rotator, error) {
	if !cfg.Proxy.Enabled {
		return nil, nil
	}

	urls, err := cfg.ProxyURLs()
	if err != nil {
		return nil, err
	}

	creds, err := credentials.NewManager(cfg.Proxy.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy credentials: %w", err)
	}

	return proxy.NewRotator(urls, proxy.Options{
		Strategy:         cfg.Proxy.Strategy,
		FailureThreshold: cfg.Proxy.FailureThreshold,
		Cooldown:         cfg.Proxy.Cooldown,
		Credentials:      creds,
		Logger:           log,
	})
}
