package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway/pkg/cel"
	"github.com/agentgateway/agentgateway/pkg/registry"
)

// fakeInvoker is a stub Invoker driven by name -> handler maps, grounded
// on the composer package's own fakeBackend test double.
type fakeInvoker struct {
	tools      map[string]func(args any) (any, error)
	transforms func(spec *registry.Spec, value any) (any, error)
}

func (f *fakeInvoker) InvokeTool(_ context.Context, name string, args any) (any, error) {
	h, ok := f.tools[name]
	if !ok {
		return nil, assert.AnError
	}
	return h(args)
}

func (f *fakeInvoker) EvalTransform(_ context.Context, spec *registry.Spec, value any) (any, error) {
	if f.transforms == nil {
		return value, nil
	}
	return f.transforms(spec, value)
}

func resolveRegistry(t *testing.T, doc *registry.Document) *registry.Resolved {
	t.Helper()
	r, err := registry.Resolve(doc)
	require.NoError(t, err)
	return r
}

func TestManager_ListTools_VisibilityAllowAll(t *testing.T) {
	t.Parallel()

	reg := resolveRegistry(t, &registry.Document{
		Tools: []registry.Tool{{
			Name:           "echo",
			InputSchema:    registry.SchemaRef{Inline: []byte(`{"type":"object"}`)},
			Implementation: registry.Implementation{Kind: registry.ImplSource, Source: &registry.Source{Server: "demo", Tool: "echo"}},
		}},
	})

	m := NewManager(reg, &fakeInvoker{}, nil)
	sess := m.Initialize(ClientInfo{Name: "client"}, "2025-06-18", nil)

	tools, err := m.ListTools(sess)
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
}

func TestManager_ListTools_AllowListFiltersCaller(t *testing.T) {
	t.Parallel()

	reg := resolveRegistry(t, &registry.Document{
		Tools: []registry.Tool{{
			Name:           "admin_tool",
			InputSchema:    registry.SchemaRef{Inline: []byte(`{}`)},
			Visibility:     &registry.Visibility{AllowList: []string{"alice"}},
			Implementation: registry.Implementation{Kind: registry.ImplSource, Source: &registry.Source{Server: "demo", Tool: "admin"}},
		}},
	})

	m := NewManager(reg, &fakeInvoker{}, nil)

	bob := m.Initialize(ClientInfo{Caller: map[string]any{"id": "bob"}}, "2025-06-18", nil)
	tools, err := m.ListTools(bob)
	require.NoError(t, err)
	assert.Empty(t, tools)

	alice := m.Initialize(ClientInfo{Caller: map[string]any{"id": "alice"}}, "2025-06-18", nil)
	tools, err = m.ListTools(alice)
	require.NoError(t, err)
	require.Len(t, tools, 1)
}

func TestManager_ListTools_CELVisibility(t *testing.T) {
	t.Parallel()

	reg := resolveRegistry(t, &registry.Document{
		Tools: []registry.Tool{{
			Name:        "secret_tool",
			InputSchema: registry.SchemaRef{Inline: []byte(`{}`)},
			Visibility:  &registry.Visibility{Expression: `claims.role == "admin"`},
			Implementation: registry.Implementation{
				Kind:   registry.ImplSource,
				Source: &registry.Source{Server: "demo", Tool: "secret"},
			},
		}},
	})

	visEngine, err := cel.NewVisibilityEngine()
	require.NoError(t, err)
	m := NewManager(reg, &fakeInvoker{}, visEngine)

	viewer := m.Initialize(ClientInfo{Caller: map[string]any{"role": "viewer"}}, "2025-06-18", nil)
	tools, err := m.ListTools(viewer)
	require.NoError(t, err)
	assert.Empty(t, tools)

	admin := m.Initialize(ClientInfo{Caller: map[string]any{"role": "admin"}}, "2025-06-18", nil)
	tools, err = m.ListTools(admin)
	require.NoError(t, err)
	require.Len(t, tools, 1)
}

func TestManager_CallTool_NotFound(t *testing.T) {
	t.Parallel()

	reg := resolveRegistry(t, &registry.Document{})
	m := NewManager(reg, &fakeInvoker{}, nil)
	sess := m.Initialize(ClientInfo{}, "2025-06-18", nil)

	_, err := m.CallTool(context.Background(), sess, "missing", nil)
	require.Error(t, err)
}

func TestManager_CallTool_Forbidden(t *testing.T) {
	t.Parallel()

	reg := resolveRegistry(t, &registry.Document{
		Tools: []registry.Tool{{
			Name:           "admin_tool",
			InputSchema:    registry.SchemaRef{Inline: []byte(`{}`)},
			Visibility:     &registry.Visibility{AllowList: []string{"alice"}},
			Implementation: registry.Implementation{Kind: registry.ImplSource, Source: &registry.Source{Server: "demo", Tool: "admin"}},
		}},
	})

	m := NewManager(reg, &fakeInvoker{}, nil)
	bob := m.Initialize(ClientInfo{Caller: map[string]any{"id": "bob"}}, "2025-06-18", nil)

	_, err := m.CallTool(context.Background(), bob, "admin_tool", nil)
	require.Error(t, err)
}

func TestManager_CallTool_StructuredContentPopulatedWhenOutputSchemaPresent(t *testing.T) {
	t.Parallel()

	outputSchema := registry.SchemaRef{Inline: []byte(`{
		"type": "object",
		"properties": {"greeting": {"type": "string"}},
		"required": ["greeting"]
	}`)}

	reg := resolveRegistry(t, &registry.Document{
		Tools: []registry.Tool{{
			Name:           "greet",
			InputSchema:    registry.SchemaRef{Inline: []byte(`{}`)},
			OutputSchema:   &outputSchema,
			Implementation: registry.Implementation{Kind: registry.ImplSource, Source: &registry.Source{Server: "demo", Tool: "greet"}},
		}},
	})

	invoker := &fakeInvoker{tools: map[string]func(args any) (any, error){
		"greet": func(any) (any, error) { return map[string]any{"greeting": "hi"}, nil },
	}}

	m := NewManager(reg, invoker, nil)
	sess := m.Initialize(ClientInfo{}, "2025-06-18", nil)

	res, err := m.CallTool(context.Background(), sess, "greet", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"greeting": "hi"}, res.Content)
	assert.Equal(t, map[string]any{"greeting": "hi"}, res.StructuredContent)
}

func TestManager_CallTool_OutputSchemaViolationRejected(t *testing.T) {
	t.Parallel()

	outputSchema := registry.SchemaRef{Inline: []byte(`{
		"type": "object",
		"properties": {"greeting": {"type": "string"}},
		"required": ["greeting"]
	}`)}

	reg := resolveRegistry(t, &registry.Document{
		Tools: []registry.Tool{{
			Name:           "greet",
			InputSchema:    registry.SchemaRef{Inline: []byte(`{}`)},
			OutputSchema:   &outputSchema,
			Implementation: registry.Implementation{Kind: registry.ImplSource, Source: &registry.Source{Server: "demo", Tool: "greet"}},
		}},
	})

	invoker := &fakeInvoker{tools: map[string]func(args any) (any, error){
		"greet": func(any) (any, error) { return map[string]any{}, nil },
	}}

	m := NewManager(reg, invoker, nil)
	sess := m.Initialize(ClientInfo{}, "2025-06-18", nil)

	_, err := m.CallTool(context.Background(), sess, "greet", map[string]any{})
	require.Error(t, err)
}

func TestManager_CallTool_AppliesOutputTransform(t *testing.T) {
	t.Parallel()

	transformSpec := &registry.Spec{Kind: registry.SpecSchemaMap}

	reg := resolveRegistry(t, &registry.Document{
		Tools: []registry.Tool{{
			Name:            "wrapped",
			InputSchema:     registry.SchemaRef{Inline: []byte(`{}`)},
			OutputTransform: transformSpec,
			Implementation:  registry.Implementation{Kind: registry.ImplSource, Source: &registry.Source{Server: "demo", Tool: "wrapped"}},
		}},
	})

	invoker := &fakeInvoker{
		tools: map[string]func(args any) (any, error){
			"wrapped": func(any) (any, error) { return map[string]any{"raw": true}, nil },
		},
		transforms: func(spec *registry.Spec, value any) (any, error) {
			assert.Same(t, transformSpec, spec)
			return map[string]any{"transformed": true}, nil
		},
	}

	m := NewManager(reg, invoker, nil)
	sess := m.Initialize(ClientInfo{}, "2025-06-18", nil)

	res, err := m.CallTool(context.Background(), sess, "wrapped", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"transformed": true}, res.Content)
}

func TestManager_SessionLifecycle(t *testing.T) {
	t.Parallel()

	reg := resolveRegistry(t, &registry.Document{})
	m := NewManager(reg, &fakeInvoker{}, nil)

	sess := m.Initialize(ClientInfo{Name: "client"}, "2025-06-18", nil)
	require.NotEmpty(t, sess.ID)

	got, err := m.Session(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	m.Close(sess.ID)
	_, err = m.Session(sess.ID)
	require.Error(t, err)
}

func TestManager_ReapIdleSessions(t *testing.T) {
	t.Parallel()

	reg := resolveRegistry(t, &registry.Document{})
	m := NewManager(reg, &fakeInvoker{}, nil).WithTTL(0)

	sess := m.Initialize(ClientInfo{}, "2025-06-18", nil)
	m.ReapIdleSessions()

	_, err := m.Session(sess.ID)
	require.Error(t, err)
}
