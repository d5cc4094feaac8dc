package errors

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway/pkg/gwerrors"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	t.Run("passes through successful response", func(t *testing.T) {
		t.Parallel()

		handler := ErrorHandler(func(w http.ResponseWriter, _ *http.Request) error {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("success"))
			return nil
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "success", rec.Body.String())
	})

	t.Run("converts invalid_request error to HTTP response with message", func(t *testing.T) {
		t.Parallel()

		handler := ErrorHandler(func(_ http.ResponseWriter, _ *http.Request) error {
			return gwerrors.NewInvalidRequestError("invalid input", nil)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "invalid input")
	})

	t.Run("converts not_found error to HTTP response with message", func(t *testing.T) {
		t.Parallel()

		handler := ErrorHandler(func(_ http.ResponseWriter, _ *http.Request) error {
			return gwerrors.NewNotFoundError("resource not found", nil)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Contains(t, rec.Body.String(), "resource not found")
	})

	t.Run("converts conflict error to HTTP response with message", func(t *testing.T) {
		t.Parallel()

		handler := ErrorHandler(func(_ http.ResponseWriter, _ *http.Request) error {
			return gwerrors.NewConflictError("resource already exists", nil)
		})

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, rec.Body.String(), "resource already exists")
	})

	t.Run("converts internal error to generic HTTP response", func(t *testing.T) {
		t.Parallel()

		handler := ErrorHandler(func(_ http.ResponseWriter, _ *http.Request) error {
			return gwerrors.NewInternalError("sensitive database error details", nil)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		// Should NOT contain the sensitive error details
		require.False(t, strings.Contains(rec.Body.String(), "sensitive"))
		// Should contain generic message
		require.Contains(t, rec.Body.String(), "Internal Server Error")
	})

	t.Run("error without kind defaults to 500 with generic message", func(t *testing.T) {
		t.Parallel()

		handler := ErrorHandler(func(_ http.ResponseWriter, _ *http.Request) error {
			return errors.New("plain error without kind")
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		// Should NOT contain the original error details
		require.False(t, strings.Contains(rec.Body.String(), "plain error"))
		// Should contain generic message
		require.Contains(t, rec.Body.String(), "Internal Server Error")
	})

	t.Run("handles wrapped error with kind", func(t *testing.T) {
		t.Parallel()

		sentinelErr := gwerrors.NewNotFoundError("not found", nil)

		handler := ErrorHandler(func(_ http.ResponseWriter, _ *http.Request) error {
			return fmt.Errorf("route lookup failed: %w", sentinelErr)
		})

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Contains(t, rec.Body.String(), "route lookup failed")
	})
}

func TestHandlerWithError_Type(t *testing.T) {
	t.Parallel()

	// Ensure HandlerWithError can be used as expected
	var handler HandlerWithError = func(w http.ResponseWriter, _ *http.Request) error {
		w.WriteHeader(http.StatusOK)
		return nil
	}

	wrapped := ErrorHandler(handler)
	require.NotNil(t, wrapped)
}

func TestJSONRPCError(t *testing.T) {
	t.Parallel()

	e := JSONRPCError(gwerrors.NewValidationError("bad schema", nil))
	require.Equal(t, -32602, e.Code)
	require.Equal(t, "validation: bad schema", e.Message)
	require.Equal(t, "validation", e.Data["kind"])
}

func TestWriteJSONRPCError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONRPCError(rec, 1, gwerrors.NewNotFoundError("tool missing", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"jsonrpc":"2.0"`)
	require.Contains(t, rec.Body.String(), "tool missing")
}
