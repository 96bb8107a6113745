// Package apperr defines the error taxonomy shared by the store, AI, RAG,
// CLI and HTTP layers. Every error type here satisfies
// models.RecoverableError so callers can render code, context and a hint
// without knowing the concrete type.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error classification.
type Code string

// Error codes.
const (
	CodeValidation      Code = "VALIDATION"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeVersionConflict Code = "VERSION_CONFLICT"
	CodeDatabase        Code = "DATABASE_ERROR"
	CodeExternalService Code = "EXTERNAL_SERVICE_ERROR"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeTimeout         Code = "TIMEOUT"
	CodeInternal        Code = "INTERNAL"
)

// HTTPStatus maps a code to the status the HTTP API responds with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeVersionConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeExternalService:
		return http.StatusBadGateway
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is checks across packages.
var (
	ErrValidation      = &AppError{Code: CodeValidation, Message: "validation failed"}
	ErrNotFound        = &AppError{Code: CodeNotFound, Message: "not found"}
	ErrConflict        = &AppError{Code: CodeConflict, Message: "conflict"}
	ErrVersionConflict = &AppError{Code: CodeVersionConflict, Message: "version conflict: record was modified by another process"}
	ErrDatabase        = &AppError{Code: CodeDatabase, Message: "database error"}
	ErrExternalService = &AppError{Code: CodeExternalService, Message: "external service error"}
)

// AppError is the general-purpose domain error.
type AppError struct {
	Code    Code
	Message string
	Details map[string]string
	Hint    string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil && e.Message != "" {
		return e.Message + ": " + e.Cause.Error()
	}
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches any AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func (e *AppError) ErrorCode() string { return string(e.Code) }

func (e *AppError) Context() map[string]string {
	if len(e.Details) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.Details))
	for k, v := range e.Details {
		out[k] = v
	}
	return out
}

func (e *AppError) SuggestedAction() string { return e.Hint }

// HTTPStatus returns the status for this error's code.
func (e *AppError) HTTPStatus() int { return e.Code.HTTPStatus() }

// New creates an AppError without a cause.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap creates an AppError around cause.
func Wrap(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Validation reports an invalid input field.
func Validation(field, message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: fmt.Sprintf("invalid %s: %s", field, message),
		Details: map[string]string{"field": field},
	}
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", entity),
		Details: map[string]string{"entity": entity, "id": id},
		Hint:    fmt.Sprintf("lore list to see existing %s ids", entity),
	}
}

// CodeOf returns the classification of err, walking the wrap chain.
// Unclassified errors are INTERNAL; deadline expiry is TIMEOUT.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var rec interface{ ErrorCode() string }
	if errors.As(err, &rec) {
		return Code(rec.ErrorCode())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeInternal
}

// HTTPStatusOf maps any error to an HTTP status.
func HTTPStatusOf(err error) int {
	return CodeOf(err).HTTPStatus()
}

// IsRetryable reports whether the operation that produced err may succeed
// if attempted again unchanged.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ IsRetryable() bool }
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	switch CodeOf(err) {
	case CodeRateLimited, CodeTimeout:
		return true
	}
	return false
}
