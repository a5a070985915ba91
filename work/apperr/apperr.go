// Package apperr defines the error kinds shared across the backend so that
// callers can branch on failure class with errors.Is instead of matching
// message text. Every kind marks a distinct stage of the pipeline: URL
// validation, portal handshake, upstream fetch, link resolution, timeouts,
// guide parsing, and source configuration.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidURL marks a malformed or non-http(s) input URL.
	ErrInvalidURL = errors.New("invalid url")

	// ErrHandshakeFailed marks a portal handshake that returned a bad
	// status, an unparsable body, or no usable token.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrUpstreamHTTP marks a non-2xx response from a listing, link or
	// ingestion fetch.
	ErrUpstreamHTTP = errors.New("upstream http error")

	// ErrNoStreamURL marks a create_link response that yields no
	// resolvable stream URL.
	ErrNoStreamURL = errors.New("no stream url")

	// ErrTimeout marks a bounded call that exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrMalformedGuideData marks a guide record dropped during parsing.
	// Record-level only; a whole-document parse never fails with this.
	ErrMalformedGuideData = errors.New("malformed guide data")

	// ErrConfiguration marks a source record missing required fields.
	ErrConfiguration = errors.New("configuration error")
)

// Wrap annotates kind with stage context while keeping errors.Is(err, kind)
// true. The stage name is what ends up in user-visible failure messages.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
