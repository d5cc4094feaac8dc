package cel

import (
	"testing"

	"github.com/google/cel-go/cel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_CompileAndEvaluateBool(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)))
	require.NoError(t, err)

	expr, err := engine.Compile(`request["method"] == "GET"`)
	require.NoError(t, err)

	match, err := expr.EvaluateBool(map[string]any{"request": map[string]any{"method": "GET"}})
	require.NoError(t, err)
	assert.True(t, match)

	match, err = expr.EvaluateBool(map[string]any{"request": map[string]any{"method": "POST"}})
	require.NoError(t, err)
	assert.False(t, match)
}

func TestEngine_CompileCachesBySource(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)))
	require.NoError(t, err)

	a, err := engine.Compile(`request["path"] == "/a"`)
	require.NoError(t, err)
	b, err := engine.Compile(`request["path"] == "/a"`)
	require.NoError(t, err)

	assert.Same(t, a, b)
}

func TestEngine_CompileError(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine()
	require.NoError(t, err)

	_, err = engine.Compile(`this is not valid cel`)
	assert.Error(t, err)
}

func TestCompiledExpression_EvaluateBool_TypeMismatch(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine()
	require.NoError(t, err)

	expr, err := engine.Compile(`"not-a-bool"`)
	require.NoError(t, err)

	_, err = expr.EvaluateBool(nil)
	assert.Error(t, err)
}

func TestCompiledExpression_EvaluateString(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)))
	require.NoError(t, err)

	expr, err := engine.Compile(`headers["x-tenant"]`)
	require.NoError(t, err)

	got, err := expr.EvaluateString(map[string]any{"headers": map[string]string{"x-tenant": "acme"}})
	require.NoError(t, err)
	assert.Equal(t, "acme", got)
}

func TestNewRouteEngine(t *testing.T) {
	t.Parallel()

	engine, err := NewRouteEngine()
	require.NoError(t, err)

	expr, err := engine.Compile(`request["method"] == "POST" && headers["x-api-key"] != ""`)
	require.NoError(t, err)

	match, err := expr.EvaluateBool(map[string]any{
		"request": map[string]any{"method": "POST"},
		"headers": map[string]string{"x-api-key": "secret"},
		"claims":  map[string]any{},
	})
	require.NoError(t, err)
	assert.True(t, match)
}

func TestNewVisibilityEngine(t *testing.T) {
	t.Parallel()

	engine, err := NewVisibilityEngine()
	require.NoError(t, err)

	expr, err := engine.Compile(`"admin" in claims["roles"]`)
	require.NoError(t, err)

	match, err := expr.EvaluateBool(map[string]any{
		"claims": map[string]any{"roles": []string{"admin", "user"}},
		"tool":   map[string]any{"name": "delete_all"},
	})
	require.NoError(t, err)
	assert.True(t, match)
}
