// Package llmerrors provides the error taxonomy reported by the chat agent and its model clients.
package llmerrors

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
)

// ErrorType categorizes agent errors.
type ErrorType int8

const (
	// ErrorTypeUnknown is reported for errors that were never classified.
	ErrorTypeUnknown ErrorType = iota

	// ErrorTypeValidation represents invalid caller input (blank message, temperature out of
	// range, non-positive max tokens, missing model). Raised before any network call.
	ErrorTypeValidation
	// ErrorTypeConfiguration represents a missing or unusable setting (API key, provider).
	ErrorTypeConfiguration
	// ErrorTypeAPI represents a failure reported by the model API, with an optional HTTP status.
	ErrorTypeAPI
	// ErrorTypeTimeout represents an exceeded deadline.
	ErrorTypeTimeout
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeUnknown:
		return "unknown"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeConfiguration:
		return "configuration"
	case ErrorTypeAPI:
		return "api"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return "invalid"
	}
}

// Error represents a classified agent error.
type Error struct {
	Err        error     // Wrapped underlying error
	Message    string    // Human-readable error message
	Type       ErrorType // Classified error type
	StatusCode int       // HTTP status code if applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		if e.StatusCode != 0 {
			return fmt.Sprintf("%s error (status %d): %s", e.Type.String(), e.StatusCode, e.Message)
		}
		return fmt.Sprintf("%s error: %s", e.Type.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %v", e.Type.String(), e.Err)
	}
	return fmt.Sprintf("%s error: status %d", e.Type.String(), e.StatusCode)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.Type
	}
	return ErrorTypeUnknown
}

// NewError creates a new classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithStatus creates a new classified error with HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewErrorWithCause creates a new classified error wrapping another error.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{
		Type:    errorType,
		Err:     cause,
		Message: message,
	}
}

// NewAPIError classifies a provider failure that carried an HTTP status. A zero status falls back
// to Classify.
func NewAPIError(statusCode int, cause error) error {
	if statusCode == 0 {
		return Classify(cause)
	}
	msg := "request failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Type: ErrorTypeAPI, StatusCode: statusCode, Err: cause, Message: msg}
}

// Validation is shorthand for a validation error with a formatted message.
func Validation(format string, args ...any) *Error {
	return NewError(ErrorTypeValidation, fmt.Sprintf(format, args...))
}

// Configuration is shorthand for a configuration error with a formatted message.
func Configuration(format string, args ...any) *Error {
	return NewError(ErrorTypeConfiguration, fmt.Sprintf(format, args...))
}

// Classify turns an arbitrary failure from a model call into a typed error. Already typed errors
// pass through; exceeded deadlines become ErrorTypeTimeout; everything else is ErrorTypeAPI.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(ErrorTypeTimeout, err, "request deadline exceeded")
	}
	return NewErrorWithCause(ErrorTypeAPI, err, err.Error())
}

// SanitizePrompt creates a safe representation of a prompt for logging.
// For large prompts, it returns first/last portions plus a hash of the full content.
func SanitizePrompt(prompt string, maxChars int) string {
	if len(prompt) <= maxChars {
		return prompt
	}

	halfMax := maxChars / 2
	if halfMax < 100 {
		halfMax = 100
	}
	if 2*halfMax >= len(prompt) {
		return prompt
	}

	first := prompt[:halfMax]
	last := prompt[len(prompt)-halfMax:]

	hash := sha256.Sum256([]byte(prompt))
	hashStr := fmt.Sprintf("%x", hash)[:16]

	return fmt.Sprintf("%s...[%d chars, hash:%s]...%s",
		first, len(prompt), hashStr, last)
}
