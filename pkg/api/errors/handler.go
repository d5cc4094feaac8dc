// Package errors provides HTTP and JSON-RPC error handling utilities for
// the gateway's admin API and protocol adapters.
package errors

import (
	"encoding/json"
	"net/http"

	"github.com/agentgateway/agentgateway/pkg/gwerrors"
	"github.com/agentgateway/agentgateway/pkg/logger"
)

// HandlerWithError is an HTTP handler that can return an error.
// This signature allows handlers to return errors instead of manually
// writing error responses, enabling centralized error handling.
type HandlerWithError func(http.ResponseWriter, *http.Request) error

// ErrorHandler wraps a HandlerWithError and converts returned errors
// into appropriate HTTP responses.
//
// The decorator:
//   - Returns early if no error is returned (handler already wrote response)
//   - Extracts HTTP status code from the error using gwerrors.Code()
//   - For 5xx errors: logs full error details, returns generic message to client
//   - For 4xx errors: returns error message to client
//
// Usage:
//
//	r.Get("/{name}", apierrors.ErrorHandler(routes.getSnapshot))
func ErrorHandler(fn HandlerWithError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			// No error returned, handler already wrote the response
			return
		}

		// Extract HTTP status code from the error
		code := gwerrors.Code(err)

		// For 5xx errors, log the full error but return a generic message
		if code >= http.StatusInternalServerError {
			logger.Errorf("internal server error: %v", err)
			http.Error(w, http.StatusText(code), code)
			return
		}

		// For 4xx errors, return the error message to the client
		http.Error(w, err.Error(), code)
	}
}

// jsonRPCError is the JSON-RPC 2.0 error object shape used by both the MCP
// and A2A adapters.
type jsonRPCError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// JSONRPCError builds the error object for a JSON-RPC response body from
// err, tagging it with the originating gwerrors.Kind when available.
func JSONRPCError(err error) jsonRPCError {
	e := jsonRPCError{
		Code:    gwerrors.JSONRPCCode(err),
		Message: err.Error(),
	}
	if gwErr, ok := err.(*gwerrors.Error); ok {
		e.Data = map[string]any{"kind": string(gwErr.Kind)}
	}
	return e
}

// WriteJSONRPCError writes a complete JSON-RPC 2.0 error envelope to w.
func WriteJSONRPCError(w http.ResponseWriter, id any, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // JSON-RPC errors ride on a 200 transport status
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   JSONRPCError(err),
	})
}
