package textgen

import (
	"fmt"
	"net/http"
)

// RateLimitError is a single 429 response. It is transient and only
// surfaces wrapped in a ProviderError once attempts are exhausted.
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return "provider rate limit exceeded"
	}
	return "provider rate limit exceeded: " + e.Message
}

// statusError is a non-2xx response other than 429.
type statusError struct {
	StatusCode int
	Message    string
}

func (e *statusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

// ProviderError is returned after the provider call failed on every attempt.
type ProviderError struct {
	// StatusCode is the last HTTP status seen, or 0 for transport faults.
	StatusCode int
	// Message is the provider's own error text when one was returned.
	Message  string
	Attempts int
	Cause    error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("text generation failed after %d attempt(s): %s", e.Attempts, msg)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// RateLimited reports whether the final attempt was rejected with 429.
func (e *ProviderError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}
