package composer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway/pkg/registry"
)

// fakeBackend is a stub BackendInvoker driven by a name -> handler map,
// grounded on the teacher's pattern of fake collaborators implementing a
// narrow interface for unit tests without network I/O.
type fakeBackend struct {
	handlers map[string]func(args map[string]any) (any, error)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{handlers: map[string]func(args map[string]any) (any, error){}}
}

func (f *fakeBackend) on(server, tool string, fn func(args map[string]any) (any, error)) {
	f.handlers[server+"/"+tool] = fn
}

func (f *fakeBackend) InvokeBackendTool(_ context.Context, server, tool string, args map[string]any) (any, error) {
	h, ok := f.handlers[server+"/"+tool]
	if !ok {
		return nil, assert.AnError
	}
	return h(args)
}

func resolveRegistry(t *testing.T, doc *registry.Document) *registry.Resolved {
	t.Helper()
	r, err := registry.Resolve(doc)
	require.NoError(t, err)
	return r
}

func TestEngine_InvokeTool_Source(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.on("demo", "echo", func(args map[string]any) (any, error) {
		return args, nil
	})

	reg := resolveRegistry(t, &registry.Document{
		Tools: []registry.Tool{{
			Name:        "echo",
			InputSchema: registry.SchemaRef{Inline: []byte(`{}`)},
			Implementation: registry.Implementation{
				Kind:   registry.ImplSource,
				Source: &registry.Source{Server: "demo", Tool: "echo", Defaults: map[string]any{"greeting": "hi"}},
			},
		}},
	})

	engine := NewEngine(reg, backend)
	out, err := engine.InvokeTool(context.Background(), "echo", map[string]any{"name": "a"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"greeting": "hi", "name": "a"}, out)
}

// TestEngine_Pipeline_FetchAndSummarize mirrors end-to-end scenario 3:
// fetch returns {text:"hi"}, summarize echoes {summary:$.text}.
func TestEngine_Pipeline_FetchAndSummarize(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.on("demo", "fetch", func(map[string]any) (any, error) {
		return map[string]any{"text": "hi"}, nil
	})
	backend.on("demo", "summarize", func(args map[string]any) (any, error) {
		return map[string]any{"summary": args["text"]}, nil
	})

	spec := &registry.Spec{
		Kind: registry.SpecPipeline,
		Pipeline: &registry.Pipeline{
			Steps: []registry.Step{
				{
					ID: "fetch",
					Operation: &registry.Spec{
						Kind:   registry.SpecSource,
						Source: &registry.Source{Server: "demo", Tool: "fetch"},
					},
				},
				{
					ID: "summarize",
					Operation: &registry.Spec{
						Kind:   registry.SpecSource,
						Source: &registry.Source{Server: "demo", Tool: "summarize"},
					},
				},
			},
		},
	}

	reg := resolveRegistry(t, &registry.Document{
		Tools: []registry.Tool{{
			Name:           "fetch_and_summarize",
			InputSchema:    registry.SchemaRef{Inline: []byte(`{}`)},
			Implementation: registry.Implementation{Kind: registry.ImplSpec, Spec: spec},
		}},
	})

	engine := NewEngine(reg, backend)
	out, err := engine.InvokeTool(context.Background(), "fetch_and_summarize", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"summary": "hi"}, out)
}

// TestEngine_ScatterGather_FlattenSortLimit mirrors end-to-end scenario 4:
// targets a,b return [{s:0.3},{s:0.7}] and [{s:0.9}]; flatten, sort desc
// by $.s, limit 2 yields [{s:0.9},{s:0.7}].
func TestEngine_ScatterGather_FlattenSortLimit(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend()
	backend.on("demo", "a", func(map[string]any) (any, error) {
		return []any{map[string]any{"s": 0.3}, map[string]any{"s": 0.7}}, nil
	})
	backend.on("demo", "b", func(map[string]any) (any, error) {
		return []any{map[string]any{"s": 0.9}}, nil
	})

	spec := &registry.Spec{
		Kind: registry.SpecScatterGather,
		ScatterGather: &registry.ScatterGather{
			Targets: []registry.Target{
				{Spec: &registry.Spec{Kind: registry.SpecSource, Source: &registry.Source{Server: "demo", Tool: "a"}}},
				{Spec: &registry.Spec{Kind: registry.SpecSource, Source: &registry.Source{Server: "demo", Tool: "b"}}},
			},
			Aggregation: registry.Aggregation{Ops: []registry.AggregationOp{
				{Op: "flatten"},
				{Op: "sort", Field: "s", Order: "desc"},
				{Op: "limit", Count: 2},
			}},
		},
	}

	reg := resolveRegistry(t, &registry.Document{
		Tools: []registry.Tool{{
			Name:           "combined",
			InputSchema:    registry.SchemaRef{Inline: []byte(`{}`)},
			Implementation: registry.Implementation{Kind: registry.ImplSpec, Spec: spec},
		}},
	})

	engine := NewEngine(reg, backend)
	out, err := engine.InvokeTool(context.Background(), "combined", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, []any{
		map[string]any{"s": 0.9},
		map[string]any{"s": 0.7},
	}, out)
}

func TestEngine_Filter(t *testing.T) {
	t.Parallel()

	spec := &registry.Spec{
		Kind: registry.SpecFilter,
		Filter: &registry.Filter{
			Predicate: registry.Predicate{Field: "age", Op: registry.FilterGe, Value: float64(18)},
		},
	}

	reg := resolveRegistry(t, &registry.Document{
		Tools: []registry.Tool{{
			Name:           "adults",
			InputSchema:    registry.SchemaRef{Inline: []byte(`{}`)},
			Implementation: registry.Implementation{Kind: registry.ImplSpec, Spec: spec},
		}},
	})

	engine := NewEngine(reg, newFakeBackend())
	out, err := engine.InvokeTool(context.Background(), "adults", []any{
		map[string]any{"name": "a", "age": 10.0},
		map[string]any{"name": "b", "age": 20.0},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"name": "b", "age": 20.0}}, out)
}

func TestEngine_CycleDetection_AtRuntime(t *testing.T) {
	t.Parallel()

	reg := resolveRegistry(t, &registry.Document{})
	// Bypass Resolve's static cycle check by injecting tools directly so we
	// can exercise the runtime resolution-stack guard.
	reg.Tools["a"] = registry.Tool{
		Name: "a",
		Implementation: registry.Implementation{
			Kind: registry.ImplSpec,
			Spec: &registry.Spec{Kind: registry.SpecToolRef, ToolName: "a"},
		},
	}

	engine := NewEngine(reg, newFakeBackend())
	_, err := engine.InvokeTool(context.Background(), "a", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestEngine_SchemaMap_Template(t *testing.T) {
	t.Parallel()

	spec := &registry.Spec{
		Kind: registry.SpecSchemaMap,
		SchemaMap: &registry.SchemaMap{
			Fields: map[string]registry.FieldMapping{
				"greeting": {
					Template: &registry.TemplateMapping{
						Template: "hello ${name}",
						Vars:     map[string]string{"name": "$.name"},
					},
				},
			},
		},
	}

	reg := resolveRegistry(t, &registry.Document{
		Tools: []registry.Tool{{
			Name:           "greet",
			InputSchema:    registry.SchemaRef{Inline: []byte(`{}`)},
			Implementation: registry.Implementation{Kind: registry.ImplSpec, Spec: spec},
		}},
	})

	engine := NewEngine(reg, newFakeBackend())
	out, err := engine.InvokeTool(context.Background(), "greet", map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"greeting": "hello world"}, out)
}
