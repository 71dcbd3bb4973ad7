package qbo

import "fmt"

// AuthError means the tenant's credential was rejected and could not be
// recovered by a refresh. The tenant's run halts and the tenant must be
// re-authorized before further extraction.
type AuthError struct {
	ClientID string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for tenant %s: %v", e.ClientID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError means the provider kept returning rate-limit responses past
// the retry cap. The current entity run halts; the next scheduled invocation
// retries it.
type RateLimitError struct {
	ClientID string
	Attempts int
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for tenant %s after %d attempts: %v", e.ClientID, e.Attempts, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// TransientError means a network or 5xx failure persisted past the retry cap.
type TransientError struct {
	ClientID string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure for tenant %s after %d attempts: %v", e.ClientID, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
