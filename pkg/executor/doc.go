// Package executor drives a request through pacing, caching, dispatch,
// challenge solving and proxy rotation.
//
// Each call runs a small state machine. Transition is the whole transition
// table and has no side effects; the actions for each state live on the
// per-request run. A request may make at most RetryBudget network dispatches,
// and a failed challenge submission counts against the same budget. When the
// budget runs out the last classified error is returned as is.
//
//	e, err := executor.NewFromConfig(ctx, cfg, stats.New(), log)
//	if err != nil {
//		return err
//	}
//	defer e.Close()
//
//	resp, err := e.Do(ctx, executor.Get("https://example.com/"))
//
// Stream is the variant used for downloads: a successful body is handed to
// the caller unread and is never cached.
package executor
