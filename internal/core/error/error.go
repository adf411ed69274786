package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
	// UpstreamErrorMessage describes failures of weather/search backends.
	UpstreamErrorMessage = "upstream service failed"
	// ModelErrorMessage describes failures of the language model provider.
	ModelErrorMessage = "model provider failed"
	// SessionNotFoundMessage is returned for unknown session ids.
	SessionNotFoundMessage = "session not found"
)

// ErrSessionNotFound is returned by session stores for unknown ids.
var ErrSessionNotFound = New(nil, http.StatusNotFound, SessionNotFoundMessage)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// WrapUpstream marks a failure of an external data backend.
func WrapUpstream(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, UpstreamErrorMessage)
}

// WrapModel marks a failure of the model provider.
func WrapModel(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, ModelErrorMessage)
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return t == e || (t.Err == nil && e.Err == nil && t.Status == e.Status && t.Message == e.Message)
	}
	return errors.Is(e.Err, target)
}
