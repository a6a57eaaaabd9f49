package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a failure surfaced by the request core
type Kind string

const (
	KindNetwork            Kind = "network"
	KindChallengeUnsolved  Kind = "challenge_unsolvable"
	KindProxyExhausted     Kind = "proxy_exhausted"
	KindRateLimitExceeded  Kind = "rate_limit_exceeded"
	KindCache              Kind = "cache"
	KindConfig             Kind = "config"
	KindDownloadIncomplete Kind = "download_incomplete"
	KindUnknown            Kind = "unknown"
)

// Error is a classified error. Code carries the HTTP status when one was observed.
type Error struct {
	Kind    Kind
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindNetwork}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == 0 || t.Code == e.Code)
}

// New returns a classified error without a cause
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Network is shorthand for a transport failure
func Network(err error, format string, args ...interface{}) *Error {
	return Wrap(KindNetwork, err, format, args...)
}

// Config is shorthand for an invalid-settings failure
func Config(err error, format string, args ...interface{}) *Error {
	return Wrap(KindConfig, err, format, args...)
}

// KindOf returns the classification of err, or KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind anywhere in its chain
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable checks if a kind should be retried by a caller-side retry loop
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindNetwork, KindDownloadIncomplete, KindRateLimitExceeded:
		return true
	case KindChallengeUnsolved, KindProxyExhausted, KindConfig, KindCache:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // no response
		return true
	case 429:
		return true
	case 500, 502, 503, 504, 520, 521, 522, 523, 524:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}
