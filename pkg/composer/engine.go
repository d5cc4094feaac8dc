// Package composer implements the Composition Engine: it evaluates a
// virtual tool's registry.Spec against a uniform Invoke(tool, args) ->
// value interface, dispatching leaf invocations to backend sources or to
// other composed tools.
package composer

import (
	"context"
	"fmt"

	"github.com/agentgateway/agentgateway/pkg/gwerrors"
	"github.com/agentgateway/agentgateway/pkg/registry"
)

// BackendInvoker dispatches a direct (source) tool call to the named
// backend server. Implemented by the MCP Session Manager's backend
// sub-session pool.
type BackendInvoker interface {
	InvokeBackendTool(ctx context.Context, server, tool string, args map[string]any) (any, error)
}

// defaultMaxDepth is the cycle-protection resolution stack's default
// maximum depth, per the composition engine's cycle-protection design.
const defaultMaxDepth = 16

// Engine evaluates registry.Spec compositions against a Resolved
// registry, dispatching leaf calls through a BackendInvoker.
type Engine struct {
	registry *registry.Resolved
	backend  BackendInvoker
	maxDepth int
}

// NewEngine builds an Engine bound to reg for tool/schema lookups and
// backend for leaf dispatch.
func NewEngine(reg *registry.Resolved, backend BackendInvoker) *Engine {
	return &Engine{registry: reg, backend: backend, maxDepth: defaultMaxDepth}
}

// WithMaxDepth overrides the cycle-protection resolution stack's depth
// limit (default 16).
func (e *Engine) WithMaxDepth(n int) *Engine {
	e.maxDepth = n
	return e
}

// resolution tracks the in-flight call stack for cycle protection.
type resolution struct {
	stack    []string
	maxDepth int
}

func newResolution(maxDepth int) *resolution {
	return &resolution{maxDepth: maxDepth}
}

func (r *resolution) push(name string) error {
	for _, s := range r.stack {
		if s == name {
			return gwerrors.NewCycleError(fmt.Sprintf("tool %q is already on the resolution stack", name), nil)
		}
	}
	if len(r.stack) >= r.maxDepth {
		return gwerrors.NewCycleError(fmt.Sprintf("resolution stack exceeded max depth %d", r.maxDepth), nil)
	}
	r.stack = append(r.stack, name)
	return nil
}

func (r *resolution) pop() {
	r.stack = r.stack[:len(r.stack)-1]
}

// InvokeTool runs the named registry tool's implementation against args
// and returns its result. args is typically a map[string]any for a
// top-level MCP tool call, but compositions may pass any JSON-like value
// (e.g. an array, for a tool whose root operation is a filter or
// map_each).
func (e *Engine) InvokeTool(ctx context.Context, name string, args any) (any, error) {
	res := newResolution(e.maxDepth)
	return e.invokeToolRef(ctx, name, args, res)
}

func (e *Engine) invokeToolRef(ctx context.Context, name string, args any, res *resolution) (any, error) {
	if err := res.push(name); err != nil {
		return nil, err
	}
	defer res.pop()

	tool, ok := e.registry.Tools[name]
	if !ok {
		return nil, gwerrors.NewNotFoundError(fmt.Sprintf("unknown tool %q", name), nil)
	}

	switch tool.Implementation.Kind {
	case registry.ImplSource:
		argsMap, _ := args.(map[string]any)
		return e.invokeSource(ctx, tool.Implementation.Source, argsMap)
	case registry.ImplSpec:
		return e.evalSpec(ctx, tool.Implementation.Spec, args, res)
	default:
		return nil, gwerrors.NewInternalError(fmt.Sprintf("tool %q has no implementation", name), nil)
	}
}

// invokeSource applies §4.3(1): merge defaults under args, then call the
// backend tool. hide_fields only affects the advertised schema (handled
// by registry.Resolved.DereferenceInputSchema), not the call itself.
func (e *Engine) invokeSource(ctx context.Context, src *registry.Source, args map[string]any) (any, error) {
	if src == nil {
		return nil, gwerrors.NewInternalError("source implementation is nil", nil)
	}
	merged := make(map[string]any, len(src.Defaults)+len(args))
	for k, v := range src.Defaults {
		merged[k] = v
	}
	for k, v := range args {
		merged[k] = v
	}

	out, err := e.backend.InvokeBackendTool(ctx, src.Server, src.Tool, merged)
	if err != nil {
		return nil, newLeafError(src.Server+"/"+src.Tool, merged, err)
	}
	return out, nil
}

// EvalTransform evaluates a standalone composition Spec (e.g. a tool's
// output_transform) against value, using a fresh resolution stack.
func (e *Engine) EvalTransform(ctx context.Context, spec *registry.Spec, value any) (any, error) {
	res := newResolution(e.maxDepth)
	return e.evalSpec(ctx, spec, value, res)
}

// evalSpec dispatches a composition Spec to its variant evaluator.
func (e *Engine) evalSpec(ctx context.Context, spec *registry.Spec, args any, res *resolution) (any, error) {
	if spec == nil {
		return nil, gwerrors.NewInternalError("composition spec is nil", nil)
	}
	switch spec.Kind {
	case registry.SpecToolRef:
		return e.invokeToolRef(ctx, spec.ToolName, args, res)
	case registry.SpecSource:
		argsMap, _ := args.(map[string]any)
		return e.invokeSource(ctx, spec.Source, argsMap)
	case registry.SpecPipeline:
		return e.evalPipeline(ctx, spec.Pipeline, args, res)
	case registry.SpecScatterGather:
		return e.evalScatterGather(ctx, spec.ScatterGather, args, res)
	case registry.SpecFilter:
		return e.evalFilter(spec.Filter, args)
	case registry.SpecMapEach:
		return e.evalMapEach(ctx, spec.MapEach, args, res)
	case registry.SpecSchemaMap:
		return e.evalSchemaMap(spec.SchemaMap, args)
	default:
		return nil, gwerrors.NewInternalError(fmt.Sprintf("unknown composition kind %q", spec.Kind), nil)
	}
}
