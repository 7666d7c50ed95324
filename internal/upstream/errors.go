package upstream

import (
	"errors"
	"fmt"
)

// AuthError reports a 401/403 from an upstream provider. It is never
// retried and marks the credential that produced it unhealthy.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream authentication failed: status %d", e.StatusCode)
}

// StatusError reports a non-2xx upstream status that survived the retry
// budget (or was not retryable).
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}

// IsAuthError reports whether err wraps an upstream auth failure.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// retryable statuses: rate limits and server-side failures.
func retryable(status int) bool {
	return status == 429 || status >= 500
}
