package model

import "fmt"

// ConfigurationError reports a malformed workflow, a missing agent or a
// missing provider credential. It is never retried.
type ConfigurationError struct {
	// Subject names what is misconfigured, e.g. "step 2" or "provider".
	Subject string
	Reason  string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Subject, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }

// NewConfigurationError is shorthand for building a ConfigurationError.
func NewConfigurationError(subject, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

func stepSubject(index, order int) string {
	return fmt.Sprintf("step %d (order %d)", index+1, order)
}
