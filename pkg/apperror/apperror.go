package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned by repositories when a record does not exist
var ErrNotFound = errors.New("resource not found")

// FieldError describes a validation failure on a single input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AppError is an application error that carries the HTTP status it should be rendered with
type AppError struct {
	Code    int
	Title   string
	Message string
	// Header names the request header that caused the error, if any
	Header string
	Errors []FieldError
	Err    error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithTitle sets a short, human-readable summary of the problem
func (e *AppError) WithTitle(title string) *AppError {
	e.Title = title
	return e
}

// WithHeader marks the request header the error originates from
func (e *AppError) WithHeader(header string) *AppError {
	e.Header = header
	return e
}

// Wrap attaches the underlying cause
func (e *AppError) Wrap(err error) *AppError {
	e.Err = err
	return e
}

// NewAppError creates a new application error
func NewAppError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Title:   http.StatusText(code),
		Message: message,
	}
}

// NewBadRequestError creates a 400 error
func NewBadRequestError(message string) *AppError {
	return NewAppError(http.StatusBadRequest, message)
}

// NewNotFoundError creates a 404 error for the named resource
func NewNotFoundError(resource string) *AppError {
	return NewAppError(http.StatusNotFound, resource+" not found").Wrap(ErrNotFound)
}

// NewConflictError creates a 409 error
func NewConflictError(message string) *AppError {
	return NewAppError(http.StatusConflict, message)
}

// NewUnprocessableError creates a 422 error with optional field errors
func NewUnprocessableError(message string, fields ...FieldError) *AppError {
	e := NewAppError(http.StatusUnprocessableEntity, message)
	e.Errors = fields
	return e
}

// NewInternalError creates a 500 error wrapping err
func NewInternalError(message string, err error) *AppError {
	return NewAppError(http.StatusInternalServerError, message).Wrap(err)
}

// IsAppError reports whether err is or wraps an *AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts the *AppError from err, falling back to a generic 500
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("An unexpected error occurred", err)
}
