package pipeline

import (
	"errors"
	"fmt"
)

// ErrUnsupportedProfile is returned when a style cannot serve the requested
// profile. Callers treat it as a request validation failure.
var ErrUnsupportedProfile = errors.New("pipeline: profile not supported by style")

// ErrNoAdapter is returned by Handle.Acquire when a scale override is given
// for a pipeline without an adapter.
var ErrNoAdapter = errors.New("pipeline: style has no adapter")

// ModelLoadError reports a failed pipeline construction. Cause is the
// runtime error, so errors.Is works for sdruntime sentinels such as
// ErrArtifactNotFound and ErrMissingCredential.
type ModelLoadError struct {
	Key   Key
	Ref   string
	Cause error
}

func (e *ModelLoadError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("pipeline: load %s (%s): %v", e.Key, e.Ref, e.Cause)
	}
	return fmt.Sprintf("pipeline: load %s: %v", e.Key, e.Cause)
}

func (e *ModelLoadError) Unwrap() error { return e.Cause }
