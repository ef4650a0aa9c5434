package prompt

import "fmt"

// ValidationError reports a malformed template. It is fatal for the step
// being rendered.
type ValidationError struct {
	// Offset is the byte offset in the template where the problem starts.
	Offset int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("template validation failed at offset %d: %s", e.Offset, e.Reason)
}
