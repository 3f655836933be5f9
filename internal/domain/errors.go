package domain

import "errors"

var (
	// ErrNoAccount is returned when a referenced account cannot be located.
	ErrNoAccount = errors.New("account not found")
	// ErrNoActivity is returned when a referenced activity cannot be located.
	ErrNoActivity = errors.New("activity not found")
	// ErrInvalidToken indicates there is no usable refresh path for an account.
	// The owner must re-authenticate with the provider; retrying cannot help.
	ErrInvalidToken = errors.New("no usable strava token")
	// ErrAuthProvider indicates the token refresh call itself failed.
	ErrAuthProvider = errors.New("token refresh rejected by provider")
	// ErrRateLimited signals provider backpressure. Retryable: detail jobs are
	// re-enqueued with a delay, listing syncs abort keeping partial progress.
	ErrRateLimited = errors.New("provider rate limit reached")
	// ErrSpatialStore wraps failures of the underlying spatial store.
	ErrSpatialStore = errors.New("spatial store operation failed")
	// ErrMalformedGeometry marks an activity whose route line is empty or
	// undecodable. Batch callers skip the activity and continue.
	ErrMalformedGeometry = errors.New("malformed route geometry")
)
