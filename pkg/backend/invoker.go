// Package backend dispatches Composition Engine leaf calls to backend
// MCP servers over streamable HTTP.
package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentgateway/agentgateway/pkg/gwerrors"
)

// MCPInvoker implements composer.BackendInvoker against real backend MCP
// servers, dialing lazily and reusing one client per server name for the
// life of the process.
type MCPInvoker struct {
	mu      sync.Mutex
	targets map[string]string // registry server name -> streamable-HTTP base URL
	clients map[string]*client.Client
}

// NewMCPInvoker builds an MCPInvoker. targets maps a registry server name
// (the `server` field of a `source` implementation) to the base URL of
// its streamable-HTTP MCP endpoint.
func NewMCPInvoker(targets map[string]string) *MCPInvoker {
	return &MCPInvoker{targets: targets, clients: make(map[string]*client.Client)}
}

// SetTargets replaces the server-name-to-URL table, e.g. after a config
// reload adds or removes backend MCP servers. Existing live clients for
// servers no longer present are not closed: they stay cached (and are
// still returned for that server name) until Close.
func (inv *MCPInvoker) SetTargets(targets map[string]string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.targets = targets
}

// InvokeBackendTool calls tool on the named backend server with args,
// establishing and initializing a client connection on first use.
func (inv *MCPInvoker) InvokeBackendTool(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	c, err := inv.clientFor(ctx, server)
	if err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args

	res, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, gwerrors.NewUpstreamUnavailableError(fmt.Sprintf("calling %q on backend server %q", tool, server), err)
	}
	if res.IsError {
		return nil, gwerrors.NewUpstreamUnavailableError(fmt.Sprintf("backend server %q tool %q returned an error result", server, tool), nil)
	}
	return extractContent(res), nil
}

func (inv *MCPInvoker) clientFor(ctx context.Context, server string) (*client.Client, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if c, ok := inv.clients[server]; ok {
		return c, nil
	}

	target, ok := inv.targets[server]
	if !ok {
		return nil, gwerrors.NewNotFoundError(fmt.Sprintf("no dial target configured for backend server %q", server), nil)
	}

	c, err := client.NewStreamableHttpClient(target)
	if err != nil {
		return nil, fmt.Errorf("dialing backend server %q: %w", server, err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("starting transport for backend server %q: %w", server, err)
	}
	if _, err := c.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initializing backend server %q: %w", server, err)
	}

	inv.clients[server] = c
	return c, nil
}

// Close shuts down every live backend connection, e.g. on process exit.
func (inv *MCPInvoker) Close() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for name, c := range inv.clients {
		_ = c.Close()
		delete(inv.clients, name)
	}
}

func extractContent(res *mcp.CallToolResult) any {
	if res.StructuredContent != nil {
		return res.StructuredContent
	}
	if len(res.Content) == 1 {
		if tc, ok := res.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return res.Content
}

// TargetsFromServers builds a server-name-to-URL table from servers (the
// entries of MCP backends' MCP.Servers lists): each entry is treated
// as the dial target for the registry server of the same name (the
// gateway's config format has no separate URL field for registry
// servers, so the server name itself doubles as the address operators
// configure).
func TargetsFromServers(servers []string) map[string]string {
	targets := make(map[string]string, len(servers))
	for _, s := range servers {
		targets[s] = s
	}
	return targets
}
