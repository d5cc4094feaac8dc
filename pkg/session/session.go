// Package session implements the MCP Session Manager: per-client session
// lifecycle, tool visibility filtering, and tool-call dispatch into the
// Composition Engine.
package session

import (
	"time"

	"github.com/google/uuid"
)

// ClientInfo is the identifying information an MCP client sends with
// initialize.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	// Caller optionally names the identity a client asserts itself to be
	// acting on behalf of. The MCP adapter fills it from the initialize
	// request's _meta.caller.
	Caller map[string]any `json:"caller,omitempty"`
}

// Capabilities is the negotiated MCP capability set for a session.
type Capabilities struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
	Streaming bool `json:"streaming"`
}

// Session is one client's MCP connection state, created on a successful
// initialize and immutable in its identity fields thereafter.
type Session struct {
	ID              string
	ClientInfo      ClientInfo
	CallerIdentity  map[string]any // set once, on first initialize; thereafter immutable
	Capabilities    Capabilities
	ProtocolVersion string
	CreatedAt       time.Time
	LastSeen        time.Time

	backends *backendSubSessions
}

// NewSession creates a new session, capturing caller identity per §4.4:
// clientInfo.caller if present, else the authenticated identity from the
// request.
func NewSession(clientInfo ClientInfo, protocolVersion string, authenticatedIdentity map[string]any) *Session {
	identity := clientInfo.Caller
	if identity == nil {
		identity = authenticatedIdentity
	}
	now := time.Now()
	return &Session{
		ID:              uuid.NewString(),
		ClientInfo:      clientInfo,
		CallerIdentity:  identity,
		ProtocolVersion: protocolVersion,
		CreatedAt:       now,
		LastSeen:        now,
		backends:        newBackendSubSessions(),
	}
}

// Touch refreshes LastSeen, keeping the session alive against the idle
// reaper.
func (s *Session) Touch() { s.LastSeen = time.Now() }

// Idle reports whether the session has been silent for longer than ttl.
func (s *Session) Idle(ttl time.Duration) bool {
	return time.Since(s.LastSeen) > ttl
}
