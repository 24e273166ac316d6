package llm

import (
	"errors"
	"fmt"
)

// Errors returned by the planner and its backends. Callers match them with
// errors.Is; every backend failure wraps exactly one of them.
var (
	// ErrInvalidImage indicates an input image is empty, too large or not decodable.
	ErrInvalidImage = errors.New("invalid image")
	// ErrInvalidMode indicates an unknown packing mode.
	ErrInvalidMode = errors.New("invalid mode")
	// ErrBackendUnavailable indicates the backend is not reachable.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrModelNotReady indicates the model is not present or still loading.
	ErrModelNotReady = errors.New("model not ready")
	// ErrMalformedResponse indicates the backend reply lacks the expected text.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrConfigurationMissing indicates required startup configuration is absent.
	ErrConfigurationMissing = errors.New("configuration missing")
)

// BackendError wraps errors from backend operations with additional context.
type BackendError struct {
	// Backend is the type of backend that produced the error.
	Backend BackendType
	// Op is the operation that failed (e.g., "Chat", "Ping").
	Op string
	// Err is the underlying error. It wraps one of the sentinel errors.
	Err error
	// HTTPCode is the HTTP status code, if applicable.
	HTTPCode int
	// RequestID is the request identifier if available.
	RequestID string
	// Suggestion is an actionable message for the operator.
	Suggestion string
}

// Error returns the error message.
func (e *BackendError) Error() string {
	base := fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
	if e.HTTPCode != 0 {
		base = fmt.Sprintf("%s (HTTP %d)", base, e.HTTPCode)
	}
	if e.Suggestion != "" {
		base = fmt.Sprintf("%s - %s", base, e.Suggestion)
	}
	return base
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError creates a new BackendError.
func NewBackendError(backend BackendType, op string, err error) *BackendError {
	return &BackendError{
		Backend: backend,
		Op:      op,
		Err:     err,
	}
}

// WithCode records the HTTP status code returned by the backend.
func (e *BackendError) WithCode(code int) *BackendError {
	e.HTTPCode = code
	return e
}

// WithSuggestion attaches an operator hint.
func (e *BackendError) WithSuggestion(suggestion string) *BackendError {
	e.Suggestion = suggestion
	return e
}

// WithRequestID attaches the request identifier.
func (e *BackendError) WithRequestID(id string) *BackendError {
	e.RequestID = id
	return e
}

// Wrap joins a sentinel with the concrete cause. errors.Is matches both.
func Wrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// IsBackendUnavailable checks if the error indicates a backend connectivity issue.
func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// IsModelNotReady checks if the error indicates a missing or loading model.
func IsModelNotReady(err error) bool {
	return errors.Is(err, ErrModelNotReady)
}

// IsInvalidInput checks if the error was caused by the caller's input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidImage) || errors.Is(err, ErrInvalidMode)
}

// UserMessage renders a short message suitable for showing to the person who
// submitted the photos. Unknown errors get a generic message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidImage):
		return "Error: Could not process images. Please ensure both images are valid."
	case errors.Is(err, ErrInvalidMode):
		return "Error: Mode must be Normal or Chaos."
	case errors.Is(err, ErrModelNotReady):
		return "Error: The vision model is not loaded yet. Please try again shortly."
	case errors.Is(err, ErrBackendUnavailable):
		return "Error: The model backend is unreachable."
	case errors.Is(err, ErrMalformedResponse):
		return "Error: The model returned an unreadable response."
	case errors.Is(err, ErrConfigurationMissing):
		return "Error: The server is missing required configuration."
	default:
		return "Error: Something went wrong while organizing your fridge."
	}
}

// Code returns a stable machine-readable identifier for an error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidImage):
		return "invalid_image"
	case errors.Is(err, ErrInvalidMode):
		return "invalid_mode"
	case errors.Is(err, ErrModelNotReady):
		return "model_not_ready"
	case errors.Is(err, ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrConfigurationMissing):
		return "configuration_missing"
	default:
		return "internal"
	}
}
