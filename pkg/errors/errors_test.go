package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NewNotFoundError("chunk", "c1"), IsNotFound},
		{"validation", NewValidationError("name is required"), IsValidation},
		{"unauthenticated", NewUnauthenticatedError(""), IsUnauthenticated},
		{"conflict", NewConflictError("duplicate"), IsConflict},
		{"insufficient funds", NewInsufficientFundsError("u1", 50, 75), IsInsufficientFunds},
		{"wrapped not found", fmt.Errorf("outer: %w", NewNotFoundError("notebook", "n1")), IsNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
		})
	}
}

func TestIsVersionConflict(t *testing.T) {
	assert.True(t, IsVersionConflict(NewVersionConflictError("user", "u1")))
	assert.True(t, IsConflict(NewVersionConflictError("user", "u1")))
	assert.False(t, IsVersionConflict(NewConflictError("duplicate").WithCode(CodeDuplicateConnection)))
	assert.False(t, IsVersionConflict(fmt.Errorf("plain")))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ctx"))

	wrapped := Wrap(NewNotFoundError("tag", "t1"), "deleting tag")
	assert.True(t, IsNotFound(wrapped))
	assert.Contains(t, wrapped.Error(), "deleting tag")

	plain := Wrapf(fmt.Errorf("boom"), "step %d", 2)
	assert.True(t, IsType(plain, ErrorTypeInternal))
}

func TestErrorHandler(t *testing.T) {
	handler := NewErrorHandler(zap.NewNop(), false)

	t.Run("insufficient funds maps to 402", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/shards/debit", nil)

		handler.Handle(rec, req, NewInsufficientFundsError("u1", 50, 75))

		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, string(ErrorTypeInsufficientFunds), body.Type)
	})

	t.Run("database errors hide detail", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)

		handler.Handle(rec, req, NewDatabaseError("query", fmt.Errorf("throttled")))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "An internal error occurred", body.Message)
	})

	t.Run("plain errors are internal", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)

		handler.Handle(rec, req, fmt.Errorf("boom"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
