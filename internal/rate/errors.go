package rate

import "errors"

var (
	// ErrRateLimited is returned by helpers that convert a denied Decision to an error.
	ErrRateLimited = errors.New("rate limited")
	// ErrBackendUnavailable wraps failures of the counting backend.
	ErrBackendUnavailable = errors.New("rate backend unavailable")
	// ErrInvalidLimit is returned for a non-positive limit or window.
	ErrInvalidLimit = errors.New("rate: limit and window must be positive")
)
