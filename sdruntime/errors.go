package sdruntime

import "errors"

// Sentinel errors for runtime operations. Wrapped errors add the artifact
// reference or the offending value.
var (
	ErrMissingCredential = errors.New("sdruntime: missing access token")
	ErrArtifactNotFound  = errors.New("sdruntime: artifact not found")
	ErrModelCorrupted    = errors.New("sdruntime: artifact checksum mismatch")
	ErrEmptyArtifact     = errors.New("sdruntime: artifact is empty")

	ErrInvalidParams     = errors.New("sdruntime: invalid denoise parameters")
	ErrUnknownScheduler  = errors.New("sdruntime: unknown scheduler")
	ErrNotBaseModel      = errors.New("sdruntime: operation requires a base model")
	ErrNoAdapter         = errors.New("sdruntime: no adapter attached")
	ErrShapeMismatch     = errors.New("sdruntime: latent shape mismatch")
)
