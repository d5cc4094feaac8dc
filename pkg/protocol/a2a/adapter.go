// Package a2a implements the Agent-to-Agent protocol adapter: a JSON-RPC
// 2.0 reverse proxy in front of a backend A2A peer, with agent-card URL
// rewriting so downstream traffic stays mediated by the gateway.
package a2a

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agentgateway/agentgateway/pkg/logger"
	"github.com/agentgateway/agentgateway/pkg/router"
)

// Method names this adapter recognizes on the JSON-RPC envelope, per
// §A2A: message/send, message/stream, tasks/get, tasks/cancel.
const (
	MethodMessageSend   = "message/send"
	MethodMessageStream = "message/stream"
	MethodTasksGet      = "tasks/get"
	MethodTasksCancel   = "tasks/cancel"
)

var knownMethods = map[string]bool{
	MethodMessageSend:   true,
	MethodMessageStream: true,
	MethodTasksGet:      true,
	MethodTasksCancel:   true,
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Adapter proxies one listener's A2A traffic to a single backend peer.
type Adapter struct {
	backendURL      string // e.g. "http://backend:9001"
	externalBaseURL string // the gateway's own externally visible base URL
	pool            *router.Pool
}

// NewAdapter builds an Adapter proxying to backendURL, rewriting any
// backend-rooted absolute URL in responses to externalBaseURL.
func NewAdapter(backendURL, externalBaseURL string, pool *router.Pool) *Adapter {
	return &Adapter{
		backendURL:      strings.TrimRight(backendURL, "/"),
		externalBaseURL: strings.TrimRight(externalBaseURL, "/"),
		pool:            pool,
	}
}

// ServeAgentCard handles GET /.well-known/agent.json: fetches the
// backend's card and rewrites every "url" field rooted at the backend
// to point at the gateway instead, per §A2A URL rewriting.
func (a *Adapter) ServeAgentCard(w http.ResponseWriter, r *http.Request) {
	client := a.pool.Get()
	defer a.pool.Put(client)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, a.backendURL+"/.well-known/agent.json", nil)
	if err != nil {
		http.Error(w, "building backend request", http.StatusBadGateway)
		return
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Errorw("fetching agent card from backend", "backend", a.backendURL, "error", err)
		http.Error(w, "backend unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	var card map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		http.Error(w, "decoding backend agent card", http.StatusBadGateway)
		return
	}

	rewriteURLs(card, a.backendURL, a.externalBaseURL)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(card)
}

// rewriteURLs walks value recursively, replacing any string whose value
// starts with backendURL with externalBaseURL, so every absolute URL the
// backend advertises about itself routes back through the gateway.
func rewriteURLs(value any, backendURL, externalBaseURL string) {
	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			if s, ok := child.(string); ok && strings.HasPrefix(s, backendURL) {
				v[k] = externalBaseURL + strings.TrimPrefix(s, backendURL)
				continue
			}
			rewriteURLs(child, backendURL, externalBaseURL)
		}
	case []any:
		for i, child := range v {
			if s, ok := child.(string); ok && strings.HasPrefix(s, backendURL) {
				v[i] = externalBaseURL + strings.TrimPrefix(s, backendURL)
				continue
			}
			rewriteURLs(child, backendURL, externalBaseURL)
		}
	}
}

// ServeJSONRPC handles the listener-root JSON-RPC 2.0 endpoint: decodes
// the envelope only far enough to validate the method name, then
// forwards the raw request body to the backend and streams its response
// back verbatim (so message/stream's SSE framing passes through
// untouched).
func (a *Adapter) ServeJSONRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPCError(w, nil, -32700, "failed to read request body")
		return
	}

	var env rpcEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeRPCError(w, nil, -32700, "invalid JSON-RPC envelope")
		return
	}
	if !knownMethods[env.Method] {
		writeRPCError(w, env.ID, -32601, fmt.Sprintf("method %q not supported", env.Method))
		return
	}

	client := a.pool.Get()
	defer a.pool.Put(client)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, a.backendURL, strings.NewReader(string(body)))
	if err != nil {
		writeRPCError(w, env.ID, -32603, "building backend request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if accept := r.Header.Get("Accept"); accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.Errorw("a2a backend request failed", "backend", a.backendURL, "method", env.Method, "error", err)
		writeRPCError(w, env.ID, -32000, "backend unavailable")
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Errorw("streaming a2a backend response", "backend", a.backendURL, "method", env.Method, "error", err)
	}
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rpcEnvelope{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}
