package gateway

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agentgateway/agentgateway/pkg/config"
	"github.com/agentgateway/agentgateway/pkg/gwerrors"
	"github.com/agentgateway/agentgateway/pkg/logger"
	"github.com/agentgateway/agentgateway/pkg/protocol/a2a"
	"github.com/agentgateway/agentgateway/pkg/protocol/llm"
	"github.com/agentgateway/agentgateway/pkg/router"
	"github.com/agentgateway/agentgateway/pkg/router/policy"
)

// handlerFor returns the request handler for the bind listening on
// address. It re-reads g.rt on every call, so a config reload that
// leaves address's listener set unchanged takes effect immediately for
// already-running listeners.
func (g *Gateway) handlerFor(address string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rt := g.rt.Load()
		if rt == nil {
			http.Error(w, "gateway not ready", http.StatusServiceUnavailable)
			return
		}

		if l := firstMCPListener(rt, address); l != nil {
			g.serveMCP(rt, l, w, r)
			return
		}

		g.serveRouted(rt, address, w, r)
	}
}

func firstMCPListener(rt *runtime, address string) *config.Listener {
	for _, l := range rt.listenersByAddress[address] {
		if l.Protocol == config.ProtocolMCP {
			return l
		}
	}
	return nil
}

// serveMCP mounts a protocol-MCP listener's adapter directly: tool
// routing is mediated by the registry and Session Manager, not by
// per-request route/backend matching.
func (g *Gateway) serveMCP(rt *runtime, l *config.Listener, w http.ResponseWriter, r *http.Request) {
	adapter, ok := rt.mcpAdapters[l.ID]
	if !ok {
		http.Error(w, "mcp listener misconfigured", http.StatusInternalServerError)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/sse") || strings.HasPrefix(r.URL.Path, "/message"):
		adapter.NewSSEHandler("/sse").ServeHTTP(w, r)
	default:
		adapter.NewStreamableHandler("/mcp").ServeHTTP(w, r)
	}
}

// serveRouted handles the generic bind->listener->route->backend path
// for http/http2/tls/a2a listeners: it resolves the request against the
// routing table, runs the request-phase policy chain, dispatches to the
// matched backend, then runs the response-phase policy chain.
func (g *Gateway) serveRouted(rt *runtime, address string, w http.ResponseWriter, r *http.Request) {
	req := router.Request{
		Host:    r.Host,
		Path:    r.URL.Path,
		Method:  r.Method,
		Headers: firstHeaderValues(r.Header),
	}

	sel, err := rt.idx.Resolve(address, req)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	mctx := &policy.MatchContext{
		Request: map[string]any{"host": req.Host, "path": req.Path, "method": req.Method},
		Headers: req.Headers,
	}

	if err := router.RunRequestPhases(r.Context(), sel.Chain, mctx); err != nil {
		runResponsePhasesBestEffort(r, sel, mctx)
		writeGatewayError(w, err)
		return
	}
	applyHeaders(r.Header, mctx.Headers)

	g.dispatchBackend(sel, w, r)

	// Response-phase policies (authz-on-response, rate-limit bookkeeping,
	// response-body header_transform CEL side effects) run after the
	// backend has already streamed its reply: they observe the exchange
	// for telemetry/accounting but cannot mutate headers or status that
	// dispatchBackend already wrote to w.
	if err := router.RunResponsePhases(r.Context(), sel.Chain, mctx); err != nil {
		logger.Warnw("response-phase policy failed after backend dispatch", "route", sel.Route.ID, "error", err)
	}
}

func runResponsePhasesBestEffort(r *http.Request, sel *router.Selection, mctx *policy.MatchContext) {
	if err := router.RunResponsePhases(r.Context(), sel.Chain, mctx); err != nil {
		logger.Warnw("response-phase policy failed after request-phase rejection", "route", sel.Route.ID, "error", err)
	}
}

// dispatchBackend forwards the request to sel's backend, chosen by
// Backend.Kind.
func (g *Gateway) dispatchBackend(sel *router.Selection, w http.ResponseWriter, r *http.Request) {
	b := sel.Backend
	switch b.Kind {
	case config.BackendHTTP:
		g.forwardHTTP(sel, w, r)
	case config.BackendLLM:
		llm.NewAdapter(b.LLM.URL, g.pool).Forward(w, r, func(*llm.Request) {})
	case config.BackendA2A:
		a2aAdapter := a2a.NewAdapter(b.A2A.URL, g.externalBaseURL, g.pool)
		if r.URL.Path == "/.well-known/agent.json" {
			a2aAdapter.ServeAgentCard(w, r)
			return
		}
		a2aAdapter.ServeJSONRPC(w, r)
	default:
		http.Error(w, "route resolved to an unroutable backend kind", http.StatusInternalServerError)
	}
}

// forwardHTTP proxies to the first URL in sel.Backend.HTTP.URLs, retrying
// according to the route's upstream-phase Retry policy (if any). Multi-
// URL fan-out (load balancing across candidates) is left to a future
// policy; today the first candidate is always used.
func (g *Gateway) forwardHTTP(sel *router.Selection, w http.ResponseWriter, r *http.Request) {
	b := sel.Backend.HTTP
	if b == nil || len(b.URLs) == 0 {
		http.Error(w, "http backend has no urls configured", http.StatusInternalServerError)
		return
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "reading request body", http.StatusBadRequest)
			return
		}
	}

	retry := sel.Chain.RetryOf()
	attempts := 1
	if retry != nil {
		attempts += retry.MaxRetries()
	}

	var resp *http.Response
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err = g.forwardHTTPOnce(r, b.URLs[0], body)
		last := attempt == attempts-1
		if err != nil {
			if !last && retry != nil && retry.ShouldRetryOnError(r.Method) {
				continue
			}
			break
		}
		if last || retry == nil || !retry.ShouldRetry(r.Method, resp.StatusCode) {
			break
		}
		resp.Body.Close()
	}

	if err != nil {
		logger.Errorw("http backend request failed", "backend", b.URLs[0], "error", err)
		http.Error(w, "backend unavailable", http.StatusBadGateway)
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
		logger.Errorw("streaming http backend response", "backend", b.URLs[0], "error", err)
	}
}

// forwardHTTPOnce issues a single attempt against target, replaying body
// as the request payload so retries can reuse it.
func (g *Gateway) forwardHTTPOnce(r *http.Request, baseURL string, body []byte) (*http.Response, error) {
	client := g.pool.Get()
	defer g.pool.Put(client)

	target := strings.TrimRight(baseURL, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	upstream, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building backend request: %w", err)
	}
	for k, vs := range r.Header {
		if k == "Content-Length" || k == "Host" {
			continue
		}
		for _, v := range vs {
			upstream.Header.Add(k, v)
		}
	}

	return client.Do(upstream)
}

func firstHeaderValues(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// applyHeaders writes a header_transform policy's add/set/remove
// results from mctx back onto the real outbound request headers.
func applyHeaders(h http.Header, mctx map[string]string) {
	for k := range h {
		if _, ok := mctx[k]; !ok {
			h.Del(k)
		}
	}
	for k, v := range mctx {
		h.Set(k, v)
	}
}

func writeGatewayError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), gwerrors.Code(err))
}
