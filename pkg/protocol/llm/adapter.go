// Package llm implements the LLM provider passthrough adapter: it parses
// only the fields routing/policy needs and forwards every other field to
// the upstream provider unmodified, preserving provider-specific request
// and response extensions.
package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/agentgateway/agentgateway/pkg/logger"
	"github.com/agentgateway/agentgateway/pkg/router"
)

// knownRequestFields are the only chat-completion request fields this
// adapter actually looks at, per §LLM passthrough: model (routing),
// stream (response framing), messages (content-based policies).
var knownRequestFields = []string{"model", "stream", "messages"}

// Request is a parsed LLM request: known fields typed for policy and
// routing use, Rest holding every other field verbatim.
type Request struct {
	Model    string          `json:"-"`
	Stream   bool            `json:"-"`
	Messages json.RawMessage `json:"-"`
	Rest     map[string]json.RawMessage `json:"-"`
}

// ParseRequest decodes body into a Request, splitting the known fields
// out of Rest without losing any provider-specific extension field.
func ParseRequest(body []byte) (*Request, error) {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding llm request body: %w", err)
	}

	req := &Request{Rest: raw}

	if m, ok := raw["model"]; ok {
		if err := json.Unmarshal(m, &req.Model); err != nil {
			return nil, fmt.Errorf("decoding model field: %w", err)
		}
	}
	if s, ok := raw["stream"]; ok {
		if err := json.Unmarshal(s, &req.Stream); err != nil {
			return nil, fmt.Errorf("decoding stream field: %w", err)
		}
	}
	if msgs, ok := raw["messages"]; ok {
		req.Messages = msgs
	}
	for _, k := range knownRequestFields {
		delete(req.Rest, k)
	}

	return req, nil
}

// MarshalJSON re-serializes Request by writing known fields first, then
// spreading Rest's entries over them — per contract, Rest is not
// expected to collide with a known field, but if it ever did this
// ordering is what makes the collision well-defined (last write wins).
func (r *Request) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Rest)+3)

	if r.Model != "" {
		b, err := json.Marshal(r.Model)
		if err != nil {
			return nil, err
		}
		out["model"] = b
	}
	if r.Stream {
		out["stream"] = json.RawMessage("true")
	}
	if r.Messages != nil {
		out["messages"] = r.Messages
	}
	for k, v := range r.Rest {
		out[k] = v
	}

	return json.Marshal(out)
}

// Adapter proxies chat-completion-shaped requests to a single LLM
// provider endpoint.
type Adapter struct {
	backendURL string
	pool       *router.Pool
}

// NewAdapter builds an Adapter proxying to backendURL (a provider's
// completions endpoint).
func NewAdapter(backendURL string, pool *router.Pool) *Adapter {
	return &Adapter{backendURL: backendURL, pool: pool}
}

// Forward parses body only far enough to know model/stream/messages,
// lets policy hooks observe the parsed Request, then re-serializes and
// forwards the request to the backend, streaming the response back
// verbatim (SSE framing intact for stream:true requests).
func (a *Adapter) Forward(w http.ResponseWriter, r *http.Request, onParsed func(*Request)) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	parsed, err := ParseRequest(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if onParsed != nil {
		onParsed(parsed)
	}

	outBody, err := json.Marshal(parsed)
	if err != nil {
		http.Error(w, "failed to re-encode request", http.StatusInternalServerError)
		return
	}

	client := a.pool.Get()
	defer a.pool.Put(client)

	upstream, err := http.NewRequestWithContext(r.Context(), http.MethodPost, a.backendURL, bytes.NewReader(outBody))
	if err != nil {
		http.Error(w, "building backend request", http.StatusBadGateway)
		return
	}
	for k, vs := range r.Header {
		if k == "Content-Length" || k == "Host" {
			continue
		}
		for _, v := range vs {
			upstream.Header.Add(k, v)
		}
	}

	resp, err := client.Do(upstream)
	if err != nil {
		logger.Errorw("llm backend request failed", "backend", a.backendURL, "model", parsed.Model, "error", err)
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
		logger.Errorw("streaming llm backend response", "backend", a.backendURL, "model", parsed.Model, "error", err)
	}
}
