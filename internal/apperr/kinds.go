package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dotcommander/lore/internal/models"
)

var (
	_ models.RecoverableError = (*AppError)(nil)
	_ models.RecoverableError = (*DatabaseError)(nil)
	_ models.RecoverableError = (*ExternalServiceError)(nil)
	_ models.RecoverableError = (*VersionConflictError)(nil)
)

// DatabaseError wraps a driver failure with the operation that hit it.
type DatabaseError struct {
	Op        string
	Entity    string
	ID        string
	Retryable bool
	Cause     error
}

func (e *DatabaseError) Error() string {
	msg := "database " + e.Op + " failed"
	if e.Entity != "" {
		msg = fmt.Sprintf("database %s %s failed", e.Op, e.Entity)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DatabaseError) Unwrap() error     { return e.Cause }
func (e *DatabaseError) ErrorCode() string { return string(CodeDatabase) }
func (e *DatabaseError) IsRetryable() bool { return e.Retryable }
func (e *DatabaseError) Is(target error) bool {
	return target == ErrDatabase
}
func (e *DatabaseError) Context() map[string]string {
	ctx := map[string]string{"op": e.Op}
	if e.Entity != "" {
		ctx["entity"] = e.Entity
	}
	if e.ID != "" {
		ctx["id"] = e.ID
	}
	return ctx
}
func (e *DatabaseError) SuggestedAction() string {
	if e.Retryable {
		return "the database was busy; retry the command"
	}
	return "lore doctor"
}

// VersionConflictError is returned when an optimistic update loses a race.
type VersionConflictError struct {
	Entity   string
	ID       string
	Expected int
	Actual   int
}

func (e *VersionConflictError) Error() string {
	return "version conflict: record was modified by another process"
}
func (e *VersionConflictError) ErrorCode() string { return string(CodeVersionConflict) }
func (e *VersionConflictError) Context() map[string]string {
	return map[string]string{
		"entity":           e.Entity,
		"id":               e.ID,
		"expected_version": strconv.Itoa(e.Expected),
		"actual_version":   strconv.Itoa(e.Actual),
	}
}
func (e *VersionConflictError) SuggestedAction() string {
	return fmt.Sprintf("lore get %s, then retry with --version %d", e.ID, e.Actual)
}
func (e *VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

// ExternalServiceError wraps a failure talking to an AI provider, cache or
// blob store.
type ExternalServiceError struct {
	Service    string
	Op         string
	StatusCode int
	Retryable  bool
	// Open is set when a circuit breaker rejected the call without trying.
	Open  bool
	Cause error
}

func (e *ExternalServiceError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Service, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExternalServiceError) Unwrap() error     { return e.Cause }
func (e *ExternalServiceError) IsRetryable() bool { return e.Retryable }
func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrExternalService
}

func (e *ExternalServiceError) ErrorCode() string {
	switch {
	case e.Open:
		return string(CodeUnavailable)
	case e.StatusCode == http.StatusTooManyRequests:
		return string(CodeRateLimited)
	case errors.Is(e.Cause, context.DeadlineExceeded):
		return string(CodeTimeout)
	}
	return string(CodeExternalService)
}

func (e *ExternalServiceError) Context() map[string]string {
	ctx := map[string]string{"service": e.Service, "op": e.Op}
	if e.StatusCode != 0 {
		ctx["status_code"] = strconv.Itoa(e.StatusCode)
	}
	return ctx
}

func (e *ExternalServiceError) SuggestedAction() string {
	switch Code(e.ErrorCode()) {
	case CodeUnavailable:
		return "the provider is failing repeatedly; wait for the breaker to reset or switch --provider"
	case CodeRateLimited:
		return "slow down or raise ai.rate_limit in config.yaml"
	case CodeTimeout:
		return "raise ai.timeout in config.yaml"
	}
	return "lore doctor"
}

// External builds an ExternalServiceError, classifying retryability from the
// HTTP status when one is known.
func External(service, op string, status int, cause error) *ExternalServiceError {
	retryable := status == http.StatusTooManyRequests || status >= 500 ||
		errors.Is(cause, context.DeadlineExceeded)
	return &ExternalServiceError{
		Service:    service,
		Op:         op,
		StatusCode: status,
		Retryable:  retryable,
		Cause:      cause,
	}
}
