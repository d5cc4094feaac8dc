// Package cel wraps google/cel-go behind the small Engine/CompiledExpression
// shape the gateway's router, composer, and session manager share for
// match expressions, authorization checks, rate-limit keys, and tool
// visibility predicates.
package cel

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
)

// Engine holds a compiled cel.Env plus a cache of programs already
// compiled against it, keyed by source text. Route policies whose
// expression text is unchanged across a config reload reuse the same
// compiled Program instead of recompiling, per the gateway's design notes
// on expression evaluation performance.
type Engine struct {
	env *cel.Env

	mu    sync.Mutex
	cache map[string]*CompiledExpression
}

// NewEngine builds an Engine with the given CEL environment options (e.g.
// cel.Variable declarations for the fields an expression may reference).
func NewEngine(opts ...cel.EnvOption) (*Engine, error) {
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating cel environment: %w", err)
	}
	return &Engine{env: env, cache: make(map[string]*CompiledExpression)}, nil
}

// CompiledExpression is a parsed and type-checked CEL program ready for
// repeated evaluation against different activation contexts.
type CompiledExpression struct {
	source  string
	program cel.Program
}

// Source returns the original expression text.
func (c *CompiledExpression) Source() string { return c.source }

// Compile parses, checks, and plans src, returning a cached
// CompiledExpression if src has already been compiled against this
// Engine.
func (e *Engine) Compile(src string) (*CompiledExpression, error) {
	e.mu.Lock()
	if cached, ok := e.cache[src]; ok {
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	ast, issues := e.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compiling expression %q: %w", src, issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("planning expression %q: %w", src, err)
	}

	compiled := &CompiledExpression{source: src, program: prg}

	e.mu.Lock()
	e.cache[src] = compiled
	e.mu.Unlock()

	return compiled, nil
}

// Evaluate runs the compiled program against vars and returns the raw CEL
// result value.
func (c *CompiledExpression) Evaluate(vars map[string]any) (ref.Val, error) {
	out, _, err := c.program.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("evaluating expression %q: %w", c.source, err)
	}
	return out, nil
}

// EvaluateBool runs the compiled program and coerces the result to a bool.
// It returns an error if the expression does not evaluate to a CEL bool,
// matching the requirement that match/authz expressions be boolean-typed.
func (c *CompiledExpression) EvaluateBool(vars map[string]any) (bool, error) {
	out, err := c.Evaluate(vars)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to bool, got %T", c.source, out.Value())
	}
	return b, nil
}

// EvaluateString runs the compiled program and coerces the result to a
// string. Used for rate-limit key expressions and header-transform values.
func (c *CompiledExpression) EvaluateString(vars map[string]any) (string, error) {
	out, err := c.Evaluate(vars)
	if err != nil {
		return "", err
	}
	s, ok := out.Value().(string)
	if !ok {
		return "", fmt.Errorf("expression %q did not evaluate to string, got %T", c.source, out.Value())
	}
	return s, nil
}
