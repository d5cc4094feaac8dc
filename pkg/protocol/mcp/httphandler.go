package mcp

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/server"
)

// NewStreamableHandler returns the http.Handler for the streamable-HTTP
// MCP transport: POST path with SSE-framed streaming responses and a
// resumable Mcp-Session-Id.
func (a *Adapter) NewStreamableHandler(path string) http.Handler {
	return server.NewStreamableHTTPServer(
		a.mcpServer,
		server.WithEndpointPath(path),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return WithIdentity(ctx, identityFromContext(r.Context()))
		}),
	)
}

// NewSSEHandler returns the http.Handler for the legacy two-endpoint SSE
// transport (GET for the event stream, POST for correlated messages),
// kept for clients that predate the streamable-HTTP transport.
func (a *Adapter) NewSSEHandler(basePath string) http.Handler {
	return server.NewSSEServer(
		a.mcpServer,
		server.WithBasePath(basePath),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return WithIdentity(ctx, identityFromContext(r.Context()))
		}),
	)
}

// IdentityMiddleware wraps next so identity (set by an upstream Authn
// policy, e.g. via the router's request-headers phase) is visible to the
// MCP transport's context funcs, which only receive *http.Request.
func IdentityMiddleware(identityOf func(*http.Request) map[string]any, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithIdentity(r.Context(), identityOf(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
