package api

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of a security error.
type ErrorType string

const (
	ErrorTypeConfiguration          ErrorType = "configuration"
	ErrorTypeAuthenticationRequired ErrorType = "authentication_required"
	ErrorTypeAccessDenied           ErrorType = "access_denied"
	ErrorTypeUnsupportedConstraint  ErrorType = "unsupported_constraint"
	ErrorTypeInvalidRequest         ErrorType = "invalid_request"
	ErrorTypeServerError            ErrorType = "server_error"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Type.
var (
	ErrConfiguration          = errors.New("configuration error")
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrAccessDenied           = errors.New("access denied")
	ErrUnsupportedConstraint  = errors.New("unsupported constraint")
)

// Error is a structured security error with type, code, subject and message.
type Error struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Subject string    `json:"subject,omitempty"`
	Message string    `json:"message"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Subject != "" {
		msg += fmt.Sprintf(" (subject: %s)", e.Subject)
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is the sentinel matching the error type.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Type == ErrorTypeConfiguration || e.Type == ErrorTypeUnsupportedConstraint
	case ErrAuthenticationRequired:
		return e.Type == ErrorTypeAuthenticationRequired
	case ErrAccessDenied:
		return e.Type == ErrorTypeAccessDenied
	case ErrUnsupportedConstraint:
		return e.Type == ErrorTypeUnsupportedConstraint
	}
	return false
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.cause = cause
	return &c
}

// ErrorResponse wraps an Error for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *Error `json:"error"`
}

// NewConfigurationError creates an Error for an invalid security setup.
func NewConfigurationError(subject, message string) *Error {
	return &Error{
		Type:    ErrorTypeConfiguration,
		Subject: subject,
		Message: message,
	}
}

// NewAuthenticationRequiredError creates an Error signalling that the caller
// must (re)authenticate.
func NewAuthenticationRequiredError(code, message string) *Error {
	return &Error{
		Type:    ErrorTypeAuthenticationRequired,
		Code:    code,
		Message: message,
	}
}

// NewAccessDeniedError creates an Error for a refused authorization check.
func NewAccessDeniedError(subject, message string) *Error {
	return &Error{
		Type:    ErrorTypeAccessDenied,
		Subject: subject,
		Message: message,
	}
}

// NewUnsupportedConstraintError creates an Error for a row-security rule that
// cannot be translated.
func NewUnsupportedConstraintError(subject, message string) *Error {
	return &Error{
		Type:    ErrorTypeUnsupportedConstraint,
		Subject: subject,
		Message: message,
	}
}

// NewInvalidRequestError creates an Error for malformed client input.
func NewInvalidRequestError(subject, message string) *Error {
	return &Error{
		Type:    ErrorTypeInvalidRequest,
		Subject: subject,
		Message: message,
	}
}

// NewServerError creates an Error for internal failures.
func NewServerError(message string) *Error {
	return &Error{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// AsError extracts an *Error from err, converting unknown errors into a
// server error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewServerError(err.Error())
}
