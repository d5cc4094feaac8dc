// Package config implements the gateway's configuration reconciliation
// engine: it merges static, local-file, and xDS inputs into immutable,
// versioned Snapshots and publishes them to subscribers.
package config

import (
	"time"

	"github.com/agentgateway/agentgateway/pkg/registry"
)

// Source identifies where a resource came from, used for precedence
// during merge (static < local < xds).
type Source int

const (
	SourceStatic Source = iota
	SourceLocal
	SourceXDS
)

func (s Source) String() string {
	switch s {
	case SourceStatic:
		return "static"
	case SourceLocal:
		return "local"
	case SourceXDS:
		return "xds"
	default:
		return "unknown"
	}
}

// Protocol is the wire protocol a Listener speaks.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTP2 Protocol = "http2"
	ProtocolTLS   Protocol = "tls"
	ProtocolMCP   Protocol = "mcp"
	ProtocolA2A   Protocol = "a2a"
)

// Bind is a listening address and the listeners that accept on it.
type Bind struct {
	Address     string   `json:"address" yaml:"address"`
	ListenerIDs []string `json:"listener_ids,omitempty" yaml:"listener_ids,omitempty"`
}

// TLSConfig carries the minimal TLS material a Listener needs.
type TLSConfig struct {
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
}

// Listener binds a protocol to an ordered set of routes.
type Listener struct {
	ID       string     `json:"id" yaml:"id"`
	Protocol Protocol   `json:"protocol" yaml:"protocol"`
	TLS      *TLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
	RouteIDs []string   `json:"route_ids,omitempty" yaml:"route_ids,omitempty"`
}

// PathMatch selects exactly one of Exact, Prefix, or Regex.
type PathMatch struct {
	Exact  string `json:"exact,omitempty" yaml:"exact,omitempty"`
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Regex  string `json:"regex,omitempty" yaml:"regex,omitempty"`
}

// HeaderMatch matches a single header by exact string or regex.
type HeaderMatch struct {
	Name  string `json:"name" yaml:"name"`
	Exact string `json:"exact,omitempty" yaml:"exact,omitempty"`
	Regex string `json:"regex,omitempty" yaml:"regex,omitempty"`
}

// RouteMatch is the set of constraints a request must satisfy for a Route
// to apply. All non-empty fields must match (logical AND).
type RouteMatch struct {
	Host    string        `json:"host,omitempty" yaml:"host,omitempty"`
	Path    *PathMatch    `json:"path,omitempty" yaml:"path,omitempty"`
	Headers []HeaderMatch `json:"headers,omitempty" yaml:"headers,omitempty"`
	Methods []string      `json:"methods,omitempty" yaml:"methods,omitempty"`
}

// PolicyPhase is the point in the request/response lifecycle a Policy
// executes at.
type PolicyPhase string

const (
	PhaseRequestHeaders  PolicyPhase = "request-headers"
	PhaseRequestBody     PolicyPhase = "request-body"
	PhaseUpstream        PolicyPhase = "upstream"
	PhaseResponseHeaders PolicyPhase = "response-headers"
	PhaseResponseBody    PolicyPhase = "response-body"
)

// PolicyKind identifies which policy implementation a Policy configures.
type PolicyKind string

const (
	PolicyAuthn            PolicyKind = "authn"
	PolicyAuthz            PolicyKind = "authz"
	PolicyHeaderTransform   PolicyKind = "header_transform"
	PolicyRateLimit         PolicyKind = "rate_limit"
	PolicyRetry             PolicyKind = "retry"
)

// HeaderOp is one add/set/remove operation applied by a header_transform
// policy. Value may be a literal or a CEL expression (IsCEL).
type HeaderOp struct {
	Op    string `json:"op" yaml:"op"` // "add", "set", "remove"
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
	IsCEL bool   `json:"is_cel,omitempty" yaml:"is_cel,omitempty"`
}

// Policy is one named, phased policy attached to a Route.
type Policy struct {
	Kind     PolicyKind    `json:"kind" yaml:"kind"`
	Phase    PolicyPhase   `json:"phase" yaml:"phase"`
	Deadline time.Duration `json:"deadline,omitempty" yaml:"deadline,omitempty"`

	// Authz: a boolean CEL expression.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`

	// HeaderTransform
	Headers []HeaderOp `json:"headers,omitempty" yaml:"headers,omitempty"`

	// RateLimit
	KeyExpression string        `json:"key_expression,omitempty" yaml:"key_expression,omitempty"`
	Limit         float64       `json:"limit,omitempty" yaml:"limit,omitempty"`
	Burst         int           `json:"burst,omitempty" yaml:"burst,omitempty"`
	Window        time.Duration `json:"window,omitempty" yaml:"window,omitempty"`

	// Retry
	MaxRetries       int      `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	RetryableStatus  []int    `json:"retryable_status,omitempty" yaml:"retryable_status,omitempty"`
	IdempotentOnly   bool     `json:"idempotent_only,omitempty" yaml:"idempotent_only,omitempty"`

	// Authn
	JWKSURL  string   `json:"jwks_url,omitempty" yaml:"jwks_url,omitempty"`
	Issuer   string   `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	Audience []string `json:"audience,omitempty" yaml:"audience,omitempty"`
}

// Route selects a Backend for requests matching Match, after running its
// Policies.
type Route struct {
	ID         string     `json:"id" yaml:"id"`
	Match      RouteMatch `json:"match" yaml:"match"`
	Policies   []Policy   `json:"policies,omitempty" yaml:"policies,omitempty"`
	BackendRef string     `json:"backend_ref" yaml:"backend_ref"`
}

// BackendKind tags which variant of Backend is populated.
type BackendKind string

const (
	BackendHTTP BackendKind = "http"
	BackendMCP  BackendKind = "mcp"
	BackendA2A  BackendKind = "a2a"
	BackendLLM  BackendKind = "llm"
)

// Backend is a tagged-variant upstream target. Exactly the field named by
// Kind is populated.
type Backend struct {
	ID   string      `json:"id" yaml:"id"`
	Kind BackendKind `json:"kind" yaml:"kind"`

	HTTP *HTTPBackend `json:"http,omitempty" yaml:"http,omitempty"`
	MCP  *MCPBackend  `json:"mcp,omitempty" yaml:"mcp,omitempty"`
	A2A  *A2ABackend  `json:"a2a,omitempty" yaml:"a2a,omitempty"`
	LLM  *LLMBackend  `json:"llm,omitempty" yaml:"llm,omitempty"`
}

// HTTPBackend fans a request out to one of several candidate URLs.
type HTTPBackend struct {
	URLs []string `json:"urls" yaml:"urls"`
}

// MCPBackend names the upstream MCP servers that back this route.
type MCPBackend struct {
	Servers []string `json:"servers" yaml:"servers"`
}

// A2ABackend is a single A2A peer endpoint.
type A2ABackend struct {
	URL string `json:"url" yaml:"url"`
}

// LLMBackend is an LLM provider passthrough target.
type LLMBackend struct {
	Provider          string   `json:"provider" yaml:"provider"`
	Model             string   `json:"model" yaml:"model"`
	URL               string   `json:"url" yaml:"url"`
	PassthroughFields []string `json:"passthrough_fields,omitempty" yaml:"passthrough_fields,omitempty"`
}

// Admin describes the static (startup-only) admin/process-level config.
type Admin struct {
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

// Document is the top-level shape of a config file or an xDS resource
// bundle: the raw, unmerged unit accepted from one Source.
type Document struct {
	Admin    *Admin           `json:"static,omitempty" yaml:"static,omitempty"`
	Binds    []Bind           `json:"binds,omitempty" yaml:"binds,omitempty"`
	Listeners []Listener      `json:"listeners,omitempty" yaml:"listeners,omitempty"`
	Routes   []Route          `json:"routes,omitempty" yaml:"routes,omitempty"`
	Backends []Backend          `json:"backends,omitempty" yaml:"backends,omitempty"`
	Registry *registry.Document `json:"registry,omitempty" yaml:"registry,omitempty"`
}
