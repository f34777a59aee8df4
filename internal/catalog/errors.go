package catalog

import (
	"context"
	"errors"
)

// Failure causes reported by Session implementations. Implementations wrap
// one of these so callers can classify with errors.Is.
var (
	// ErrRateLimited means the service throttled the session.
	ErrRateLimited = errors.New("catalog: rate limited")
	// ErrUnauthorized means the session token is no longer accepted.
	ErrUnauthorized = errors.New("catalog: unauthorized")
	// ErrTimeout means the request did not complete in time.
	ErrTimeout = errors.New("catalog: timeout")
	// ErrNotAvailable means the item does not exist or cannot be served.
	ErrNotAvailable = errors.New("catalog: item not available")
	// ErrMalformedResponse means a response could not be decoded.
	ErrMalformedResponse = errors.New("catalog: malformed response")
	// ErrLoginFailed means authentication did not yield a session.
	ErrLoginFailed = errors.New("catalog: login failed")
)

// IsSessionError reports whether err invalidates the session that produced it.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnauthorized)
}

// IsCanceled reports whether err stems from context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
