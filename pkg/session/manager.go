package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentgateway/agentgateway/pkg/cel"
	"github.com/agentgateway/agentgateway/pkg/gwerrors"
	"github.com/agentgateway/agentgateway/pkg/logger"
	"github.com/agentgateway/agentgateway/pkg/registry"
)

// DefaultSessionTTL is the idle timeout ReapIdleSessions applies unless
// WithTTL overrides it (10 min). Nothing in this module calls
// ReapIdleSessions on a schedule, so sessions leave the table only
// through Close or an explicit ReapIdleSessions call.
const DefaultSessionTTL = 10 * time.Minute

// Invoker runs a registry tool's composition against args, and evaluates
// a standalone composition Spec (e.g. output_transform) against a value.
// Satisfied by *composer.Engine.
type Invoker interface {
	InvokeTool(ctx context.Context, name string, args any) (any, error)
	EvalTransform(ctx context.Context, spec *registry.Spec, value any) (any, error)
}

// ToolDescriptor is the wire-shaped view of a registry tool returned from
// tools/list: schema already dereferenced and hide_fields stripped.
type ToolDescriptor struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
}

// CallResult is the outcome of a tools/call dispatch. StructuredContent
// is populated whenever the tool declares an OutputSchema, per §4.4's
// mandate that implementations MUST populate it (the legacy omission
// behaviour is explicitly called out as a bug, not a design choice).
type CallResult struct {
	Content           any
	StructuredContent any
}

// Manager owns the session table, the resolved registry snapshot it
// gates visibility against, and the Composition Engine used to dispatch
// tools/call.
type Manager struct {
	table      *Table
	registry   *registry.Resolved
	invoker    Invoker
	visibility *cel.Engine
	ttl        time.Duration
}

// NewManager builds a Manager. visEngine may be nil if no visibility
// predicates are used by any tool (allow-all only).
func NewManager(reg *registry.Resolved, invoker Invoker, visEngine *cel.Engine) *Manager {
	return &Manager{
		table:      NewTable(),
		registry:   reg,
		invoker:    invoker,
		visibility: visEngine,
		ttl:        DefaultSessionTTL,
	}
}

// WithTTL overrides the idle-session reap timeout (default 10 min).
func (m *Manager) WithTTL(ttl time.Duration) *Manager {
	m.ttl = ttl
	return m
}

// SetRegistry swaps in a newly published registry snapshot for
// subsequent tools/list and tools/call requests. Existing sessions are
// unaffected in their identity; only the tool catalog they see changes.
func (m *Manager) SetRegistry(reg *registry.Resolved) { m.registry = reg }

// Initialize creates a new session per §4.4.
func (m *Manager) Initialize(clientInfo ClientInfo, protocolVersion string, authenticatedIdentity map[string]any) *Session {
	s := NewSession(clientInfo, protocolVersion, authenticatedIdentity)
	m.table.Put(s)
	return s
}

// Session looks up an existing session by id, touching it if found.
func (m *Manager) Session(id string) (*Session, error) {
	s := m.table.Get(id)
	if s == nil {
		return nil, gwerrors.NewNotFoundError(fmt.Sprintf("unknown session %q", id), nil)
	}
	s.Touch()
	return s, nil
}

// Close removes and releases a session, e.g. on client disconnect.
func (m *Manager) Close(id string) { m.table.Delete(id) }

// ReapIdleSessions removes every session idle longer than the
// configured TTL. It runs only when called; no background loop in this
// module calls it.
func (m *Manager) ReapIdleSessions() {
	n := m.table.ReapIdle(m.ttl)
	if n > 0 {
		logger.Infow("reaped idle sessions", "count", n)
	}
}

// ListTools returns the subset of registry tools visible to sess's
// caller identity, dereferenced and hide_fields-stripped per §4.4.
func (m *Manager) ListTools(sess *Session) ([]ToolDescriptor, error) {
	var out []ToolDescriptor
	for name, tool := range m.registry.Tools {
		visible, err := m.isVisible(tool, sess.CallerIdentity)
		if err != nil {
			return nil, err
		}
		if !visible {
			continue
		}

		inputSchema, err := m.registry.DereferenceInputSchema(tool)
		if err != nil {
			return nil, gwerrors.NewInternalError(fmt.Sprintf("dereferencing schema for tool %q", name), err)
		}

		var outputSchema json.RawMessage
		if tool.OutputSchema != nil {
			raw, err := derefSchemaRef(m.registry, *tool.OutputSchema)
			if err != nil {
				return nil, err
			}
			outputSchema = raw
		}

		out = append(out, ToolDescriptor{
			Name:         name,
			Description:  tool.Description,
			InputSchema:  inputSchema,
			OutputSchema: outputSchema,
		})
	}
	return out, nil
}

// CallTool dispatches a tools/call: re-checks visibility, invokes the
// Composition Engine, applies output_transform, and validates +
// populates structuredContent when the tool declares an OutputSchema.
func (m *Manager) CallTool(ctx context.Context, sess *Session, toolName string, args map[string]any) (*CallResult, error) {
	tool, ok := m.registry.Tools[toolName]
	if !ok {
		return nil, gwerrors.NewNotFoundError(fmt.Sprintf("unknown tool %q", toolName), nil)
	}

	visible, err := m.isVisible(tool, sess.CallerIdentity)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, gwerrors.NewForbiddenError(fmt.Sprintf("tool %q is not visible to this caller", toolName), nil)
	}

	raw, err := m.invoker.InvokeTool(ctx, toolName, args)
	if err != nil {
		return nil, err
	}

	if tool.OutputTransform != nil {
		transformed, err := m.invoker.EvalTransform(ctx, tool.OutputTransform, raw)
		if err != nil {
			// Errors in output_transform are surfaced as internal, with the
			// raw output preserved only in telemetry, per §7.
			logger.Errorw("output_transform failed", "tool", toolName, "raw_output", raw, "error", err)
			return nil, gwerrors.NewInternalError("output_transform failed", err)
		}
		raw = transformed
	}

	result := &CallResult{Content: raw}

	if tool.OutputSchema != nil {
		schemaJSON, err := derefSchemaRef(m.registry, *tool.OutputSchema)
		if err != nil {
			return nil, err
		}
		if err := registry.ValidateAgainstSchema(schemaJSON, raw); err != nil {
			return nil, err
		}
		// §4.4 mandates structuredContent whenever outputSchema is present.
		result.StructuredContent = raw
	}

	return result, nil
}

func (m *Manager) isVisible(tool registry.Tool, identity map[string]any) (bool, error) {
	if tool.Visibility == nil {
		return true, nil
	}
	if len(tool.Visibility.AllowList) > 0 {
		caller, _ := identity["id"].(string)
		for _, allowed := range tool.Visibility.AllowList {
			if allowed == caller {
				return true, nil
			}
		}
		return false, nil
	}
	if tool.Visibility.Expression == "" {
		return true, nil
	}
	if m.visibility == nil {
		return false, gwerrors.NewInternalError("tool has a visibility expression but no CEL engine is configured", nil)
	}
	expr, err := m.visibility.Compile(tool.Visibility.Expression)
	if err != nil {
		return false, gwerrors.NewInternalError("compiling visibility expression", err)
	}
	return expr.EvaluateBool(map[string]any{
		"claims": identity,
		"tool":   map[string]any{"name": tool.Name},
	})
}

func derefSchemaRef(reg *registry.Resolved, ref registry.SchemaRef) (json.RawMessage, error) {
	if !ref.IsRef() {
		return ref.Inline, nil
	}
	s, ok := reg.Schemas[ref.Ref]
	if !ok {
		return nil, gwerrors.NewInternalError(fmt.Sprintf("unresolved $ref %q", ref.Ref), nil)
	}
	return s.JSON, nil
}
