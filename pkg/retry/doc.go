// Package retry provides backoff strategies and a retry loop for transient
// failures.
//
// Features:
//   - Exponential (with jitter) and constant backoff
//   - Context-aware waiting
//   - Per-kind backoff: throttling backs off longer than transport failures
//   - Configurable retry predicates; the default follows errors.IsRetryable
//
// Basic usage:
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return manager.Download(ctx, url, dest, nil)
//	}, &retry.Config{
//		MaxAttempts: 3,
//		Backoff:     retry.NewKindBackoff(),
//		Logger:      logger.GetLogger(),
//	})
package retry
