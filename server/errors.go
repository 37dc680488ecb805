package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"sdstudio/compositor"
	"sdstudio/pipeline"
	"sdstudio/sdruntime"
	"sdstudio/session"
	"sdstudio/styles"
)

var (
	// ErrBadUpload reports a malformed form or image upload.
	ErrBadUpload = errors.New("server: bad upload")
	// ErrShuttingDown is returned for generations requested while draining.
	ErrShuttingDown = errors.New("server: shutting down")
)

// UserMessage turns a generation error into text that can be shown to the
// person who asked for the image. It never includes credentials or paths.
func UserMessage(err error) string {
	var (
		verr *session.ValidationError
		merr *pipeline.ModelLoadError
		gerr *session.GenerationError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrShuttingDown):
		return "Server is shutting down."
	case errors.Is(err, styles.ErrUnknownStyle):
		return "Unknown style. Pick one of the styles listed by /api/styles."
	case errors.As(err, &verr):
		switch {
		case errors.Is(err, pipeline.ErrUnsupportedProfile):
			return "This style does not support the requested mode."
		case errors.Is(err, pipeline.ErrNoAdapter):
			return "This style does not accept a reference image."
		}
		return fmt.Sprintf("Invalid %s: %s.", verr.Field, verr.Reason)
	case errors.As(err, &merr):
		switch {
		case errors.Is(err, sdruntime.ErrMissingCredential):
			return "Model access is not configured. Set HUGGINGFACE_TOKEN and restart."
		case errors.Is(err, sdruntime.ErrArtifactNotFound):
			return fmt.Sprintf("Model files for %s are not installed.", merr.Ref)
		case errors.Is(err, sdruntime.ErrModelCorrupted), errors.Is(err, sdruntime.ErrEmptyArtifact):
			return fmt.Sprintf("Model files for %s are damaged. Download them again.", merr.Ref)
		}
		return "The model could not be loaded."
	case errors.Is(err, context.DeadlineExceeded):
		return "Generation timed out."
	case errors.Is(err, context.Canceled):
		return "Generation was cancelled."
	case errors.As(err, &gerr):
		return fmt.Sprintf("Generation failed during the %s stage.", gerr.Stage)
	case errors.Is(err, compositor.ErrUnsupportedFormat):
		return "Unsupported image format. Upload a PNG or JPEG."
	case errors.Is(err, compositor.ErrInvalidImage), errors.Is(err, compositor.ErrEmptyImage), errors.Is(err, ErrBadUpload):
		return "The uploaded image could not be read."
	}
	return "Something went wrong. Check the server log."
}

// StatusCode maps a generation error to an HTTP status.
func StatusCode(err error) int {
	var (
		verr *session.ValidationError
		merr *pipeline.ModelLoadError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, styles.ErrUnknownStyle):
		return http.StatusNotFound
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &merr):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, compositor.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, compositor.ErrInvalidImage), errors.Is(err, compositor.ErrEmptyImage), errors.Is(err, ErrBadUpload):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
