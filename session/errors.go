package session

import (
	"fmt"
)

// ValidationError rejects a request before any pipeline is built. Err, when
// set, is the underlying sentinel (for example pipeline.ErrUnsupportedProfile).
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("session: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// GenerationError reports a failure inside a stage. No partial image is
// returned with it.
type GenerationError struct {
	Stage string
	Cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("session: %s stage failed: %v", e.Stage, e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }
