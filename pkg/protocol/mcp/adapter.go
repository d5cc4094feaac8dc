// Package mcp adapts the gateway's Session Manager to the Model Context
// Protocol's streamable-HTTP and legacy SSE transports.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentgateway/agentgateway/pkg/logger"
	"github.com/agentgateway/agentgateway/pkg/session"
)

type contextKey string

const identityContextKey contextKey = "agentgateway-identity"

// WithIdentity attaches an authenticated caller's claims to ctx, for a
// session created from a request carrying it to pick up as its
// CallerIdentity.
func WithIdentity(ctx context.Context, identity map[string]any) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey, identity)
}

func identityFromContext(ctx context.Context) map[string]any {
	identity, _ := ctx.Value(identityContextKey).(map[string]any)
	return identity
}

// Adapter bridges one *session.Manager to an mcp-go *server.MCPServer:
// every transport-level client session mcp-go registers gets its own
// gateway session.Session, and only the tools that session's caller
// identity may see are ever added to it.
type Adapter struct {
	mgr       *session.Manager
	mcpServer *server.MCPServer

	mu       sync.Mutex
	sessions map[string]*session.Session      // mcp-go session ID -> gateway session
	pending  map[string]pendingInitialization // mcp-go session ID -> initialize request, captured before OnRegisterSession fires
}

// pendingInitialization holds what AddAfterInitialize observes about a
// client's initialize request, for onRegister to pick up once mcp-go
// hands it the matching session.
type pendingInitialization struct {
	clientInfo      session.ClientInfo
	protocolVersion string
}

// NewAdapter builds an Adapter and its underlying mcp-go server,
// identifying the gateway as name/version in the initialize response.
func NewAdapter(mgr *session.Manager, name, version string) *Adapter {
	a := &Adapter{
		mgr:      mgr,
		sessions: make(map[string]*session.Session),
		pending:  make(map[string]pendingInitialization),
	}

	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(a.onInitialize)
	hooks.AddOnRegisterSession(a.onRegister)
	hooks.AddOnUnregisterSession(a.onUnregister)

	a.mcpServer = server.NewMCPServer(
		name, version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithHooks(hooks),
	)
	return a
}

// Server returns the underlying mcp-go server, for wiring into a
// streamable-HTTP or SSE transport.
func (a *Adapter) Server() *server.MCPServer { return a.mcpServer }

// onInitialize runs once mcp-go has parsed and answered a client's
// initialize request but before OnRegisterSession fires for it, so it
// stashes the client's name, version, and asserted caller identity for
// onRegister to pick up instead of synthesizing an empty one. The caller
// is read from the request's _meta.caller; a caller member inside the
// clientInfo object is not read.
func (a *Adapter) onInitialize(ctx context.Context, _ any, message *mcp.InitializeRequest, result *mcp.InitializeResult) {
	cs, ok := server.ClientSessionFromContext(ctx)
	if !ok {
		return
	}

	info := pendingInitialization{
		clientInfo: session.ClientInfo{
			Name:    message.Params.ClientInfo.Name,
			Version: message.Params.ClientInfo.Version,
			Caller:  callerFromMeta(message.Params.Meta),
		},
		protocolVersion: result.ProtocolVersion,
	}

	a.mu.Lock()
	a.pending[cs.SessionID()] = info
	a.mu.Unlock()
}

// callerFromMeta pulls the "caller" entry out of an initialize request's
// _meta bag, where clients assert which identity they're acting on
// behalf of, if any.
func callerFromMeta(meta *mcp.Meta) map[string]any {
	if meta == nil {
		return nil
	}
	caller, ok := meta.AdditionalFields["caller"].(map[string]any)
	if !ok {
		return nil
	}
	return caller
}

func (a *Adapter) onRegister(ctx context.Context, cs server.ClientSession) {
	identity := identityFromContext(ctx)

	a.mu.Lock()
	info, ok := a.pending[cs.SessionID()]
	delete(a.pending, cs.SessionID())
	a.mu.Unlock()

	protocolVersion := "2025-06-18"
	clientInfo := session.ClientInfo{}
	if ok {
		clientInfo = info.clientInfo
		protocolVersion = info.protocolVersion
	}

	sess := a.mgr.Initialize(clientInfo, protocolVersion, identity)

	a.mu.Lock()
	a.sessions[cs.SessionID()] = sess
	a.mu.Unlock()

	tools, err := a.mgr.ListTools(sess)
	if err != nil {
		logger.Errorw("listing tools for new mcp session", "session", cs.SessionID(), "error", err)
		return
	}

	serverTools := make([]server.ServerTool, 0, len(tools))
	for _, t := range tools {
		serverTools = append(serverTools, server.ServerTool{
			Tool:    toMCPTool(t),
			Handler: a.handlerFor(sess, t.Name),
		})
	}
	a.mcpServer.AddSessionTools(cs.SessionID(), serverTools...)
}

func (a *Adapter) onUnregister(_ context.Context, cs server.ClientSession) {
	a.mu.Lock()
	sess, ok := a.sessions[cs.SessionID()]
	delete(a.sessions, cs.SessionID())
	a.mu.Unlock()
	if ok {
		a.mgr.Close(sess.ID)
	}
}

func toMCPTool(t session.ToolDescriptor) mcp.Tool {
	return mcp.Tool{
		Name:           t.Name,
		Description:    t.Description,
		RawInputSchema: t.InputSchema,
	}
}

func (a *Adapter) handlerFor(sess *session.Session, toolName string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args map[string]any
		if req.Params.Arguments != nil {
			asMap, ok := req.Params.Arguments.(map[string]any)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("tool %q requires object arguments", toolName)), nil
			}
			args = asMap
		}

		result, err := a.mgr.CallTool(ctx, sess, toolName, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toCallToolResult(result), nil
	}
}

func toCallToolResult(result *session.CallResult) *mcp.CallToolResult {
	var text string
	if s, ok := result.Content.(string); ok {
		text = s
	} else if raw, err := json.Marshal(result.Content); err == nil {
		text = string(raw)
	} else {
		text = fmt.Sprintf("%v", result.Content)
	}

	out := mcp.NewToolResultText(text)
	if result.StructuredContent != nil {
		out.StructuredContent = result.StructuredContent
	}
	return out
}
