package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_IsMatchesByCode(t *testing.T) {
	err := NotFound("knowledge", "kn_1")
	wrapped := fmt.Errorf("lookup: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.False(t, errors.Is(wrapped, ErrValidation))
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.Equal(t, http.StatusNotFound, HTTPStatusOf(wrapped))
	assert.Equal(t, "kn_1", err.Context()["id"])
}

func TestAppError_MessageIncludesCause(t *testing.T) {
	err := Wrap(CodeInternal, "encode item", errors.New("boom"))
	assert.Equal(t, "encode item: boom", err.Error())
	assert.Equal(t, "boom", errors.Unwrap(err).Error())
}

func TestCodeOf_Defaults(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, CodeTimeout, CodeOf(fmt.Errorf("x: %w", context.DeadlineExceeded)))
}

func TestDatabaseError(t *testing.T) {
	err := &DatabaseError{Op: "insert", Entity: "knowledge", ID: "kn_1", Retryable: true, Cause: errors.New("database is locked")}

	assert.True(t, errors.Is(err, ErrDatabase))
	assert.True(t, IsRetryable(err))
	assert.Equal(t, CodeDatabase, CodeOf(err))
	assert.Equal(t, "database insert knowledge failed: database is locked", err.Error())
	assert.Equal(t, "kn_1", err.Context()["id"])
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusOf(err))
}

func TestVersionConflictError(t *testing.T) {
	err := &VersionConflictError{Entity: "knowledge", ID: "kn_1", Expected: 1, Actual: 3}
	wrapped := fmt.Errorf("update: %w", err)

	assert.True(t, errors.Is(wrapped, ErrVersionConflict))
	assert.Equal(t, CodeVersionConflict, CodeOf(wrapped))
	assert.Equal(t, http.StatusConflict, HTTPStatusOf(wrapped))
	assert.Contains(t, err.SuggestedAction(), "--version 3")
}

func TestExternalServiceError_Classification(t *testing.T) {
	cases := []struct {
		name      string
		err       *ExternalServiceError
		code      Code
		retryable bool
		status    int
	}{
		{"rate limited", External("gemini", "generate", http.StatusTooManyRequests, errors.New("quota")), CodeRateLimited, true, http.StatusTooManyRequests},
		{"server error", External("ollama", "embed", http.StatusBadGateway, errors.New("bad gateway")), CodeExternalService, true, http.StatusBadGateway},
		{"client error", External("ollama", "embed", http.StatusBadRequest, errors.New("bad model")), CodeExternalService, false, http.StatusBadGateway},
		{"timeout", External("cli", "generate", 0, context.DeadlineExceeded), CodeTimeout, true, http.StatusGatewayTimeout},
		{"breaker open", &ExternalServiceError{Service: "gemini", Op: "generate", Open: true}, CodeUnavailable, false, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.True(t, errors.Is(tc.err, ErrExternalService))
			assert.Equal(t, tc.code, CodeOf(tc.err))
			assert.Equal(t, tc.retryable, IsRetryable(tc.err))
			assert.Equal(t, tc.status, HTTPStatusOf(tc.err))
			assert.NotEmpty(t, tc.err.SuggestedAction())
		})
	}
}

func TestValidation(t *testing.T) {
	err := Validation("title", "required")
	assert.Equal(t, "invalid title: required", err.Error())
	assert.Equal(t, "title", err.Context()["field"])
	assert.False(t, IsRetryable(err))
}
