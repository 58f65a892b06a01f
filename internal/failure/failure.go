// Package failure defines the error taxonomy shared by the recommendation
// and insight subsystems. Adapters wrap these sentinels with %w so callers can
// classify failures with errors.Is.
package failure

import (
	"context"
	"errors"
)

var (
	// ErrAuthExpired means the session has no usable token and the user must
	// re-authenticate. It is the only failure surfaced to end users.
	ErrAuthExpired = errors.New("authentication expired")

	// ErrUnauthorized is an upstream 401. Recoverable with one token refresh.
	ErrUnauthorized = errors.New("upstream rejected credentials")

	// ErrRateLimited is an upstream 429. Never retried within the same tier.
	ErrRateLimited = errors.New("rate limited")

	// ErrNetwork covers timeouts, connection errors and upstream 5xx.
	ErrNetwork = errors.New("network failure")

	// ErrMalformedResponse means the upstream replied with an unexpected shape.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrNoData means the mood history is empty.
	ErrNoData = errors.New("no data available")
)

// KindOf returns a short stable name for err, suitable as a log attribute.
func KindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrAuthExpired):
		return "auth_expired"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrNetwork),
		errors.Is(err, context.DeadlineExceeded):
		return "network"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}
