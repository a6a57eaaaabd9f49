// Package logger provides the structured logging interface used across moonfetch.
//
// It wraps zerolog with a small interface so components can take a Logger in
// their constructors and tests can swap in a TestLogger that records messages.
//
// Basic Usage:
//
//	if err := logger.Initialize(cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("component", "executor")
//	log.InfoWithFields("request completed", map[string]interface{}{
//	    "url":    "https://example.com",
//	    "status": 200,
//	})
//
// Console output is colorized. When logging.file is set, JSON lines are also
// appended to that file.
package logger
