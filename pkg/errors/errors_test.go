package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestErrorTypes(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		typ    ErrorType
		status int
	}{
		{"validation", NewValidationError("bad"), ErrorTypeValidation, http.StatusBadRequest},
		{"not found", NewNotFoundError("signal"), ErrorTypeNotFound, http.StatusNotFound},
		{"forbidden", NewForbiddenError(""), ErrorTypeForbidden, http.StatusForbidden},
		{"conflict", NewConflictError("busy"), ErrorTypeConflict, http.StatusConflict},
		{"not configured", NewAccountNotConfiguredError("none"), ErrorTypeAccountNotConfigured, http.StatusUnprocessableEntity},
		{"ambiguous", NewAccountAmbiguousError("two"), ErrorTypeAccountAmbiguous, http.StatusUnprocessableEntity},
		{"analysis", NewAnalysisFailedError("x", nil), ErrorTypeAnalysisFailed, http.StatusBadGateway},
		{"reflection", NewReflectionFailedError("x", nil), ErrorTypeReflectionFailed, http.StatusBadGateway},
		{"synthesis", NewSynthesisFailedError("x", nil), ErrorTypeSynthesisFailed, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.True(t, IsType(fmt.Errorf("wrapped: %w", tt.err), tt.typ))
		})
	}
}

func TestNewNotFoundError_Message(t *testing.T) {
	assert.Equal(t, "cluster not found", NewNotFoundError("cluster").Message)
}

func TestIsRetryable(t *testing.T) {
	cause := stderrors.New("503")
	assert.True(t, IsRetryable(NewProviderError("openai", true, cause)))
	assert.False(t, IsRetryable(NewProviderError("openai", false, cause)))
	assert.False(t, IsRetryable(NewValidationError("bad")))
	assert.False(t, IsRetryable(cause))
	assert.ErrorIs(t, NewProviderError("openai", true, cause), cause)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ctx"))

	wrapped := Wrap(NewConflictError("busy"), "run analysis")
	assert.True(t, IsConflict(wrapped))
	assert.Equal(t, "run analysis: busy", GetAppError(wrapped).Message)

	plain := Wrapf(stderrors.New("boom"), "load %s", "realm")
	assert.True(t, IsInternal(plain))
}

func TestErrorHandler_Handle(t *testing.T) {
	h := NewErrorHandler(zap.NewNop(), false)

	t.Run("app error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		h.Handle(rec, req, NewForbiddenError("realm mismatch"))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "FORBIDDEN", body.Type)
		assert.Equal(t, "realm mismatch", body.Message)
	})

	t.Run("provider error is masked", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		h.Handle(rec, req, NewProviderError("openai", true, stderrors.New("api key sk-123 rejected")))

		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "INTERNAL", body.Type)
		assert.NotContains(t, body.Message, "sk-123")
	})

	t.Run("plain error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		h.Handle(rec, req, stderrors.New("boom"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
