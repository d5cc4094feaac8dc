package composer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalJSONPath(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"text": "hi",
		"items": []any{
			map[string]any{"s": 0.3},
			map[string]any{"s": 0.7},
		},
		"nested": map[string]any{
			"deep": map[string]any{"value": "found"},
		},
	}

	tests := []struct {
		name string
		path string
		want any
	}{
		{"root", "$", doc},
		{"child", "$.text", "hi"},
		{"index", "$.items[0]", map[string]any{"s": 0.3}},
		{"child then path", "$.items[1].s", 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := EvalJSONPath(tt.path, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalJSONPath_Wildcard(t *testing.T) {
	t.Parallel()

	doc := map[string]any{"items": []any{1.0, 2.0, 3.0}}
	got, err := EvalJSONPath("$.items[*]", doc)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{1.0, 2.0, 3.0}, got)
}

func TestEvalJSONPath_RecursiveDescent(t *testing.T) {
	t.Parallel()

	doc := map[string]any{
		"a": map[string]any{"value": 1.0},
		"b": map[string]any{"c": map[string]any{"value": 2.0}},
	}
	got, err := EvalJSONPath("$..value", doc)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{1.0, 2.0}, got)
}

func TestEvalJSONPath_Errors(t *testing.T) {
	t.Parallel()

	_, err := EvalJSONPath("no-dollar", map[string]any{})
	assert.Error(t, err)

	_, err = EvalJSONPath("$.missing", map[string]any{})
	assert.Error(t, err)

	_, err = EvalJSONPath("$[0]", map[string]any{})
	assert.Error(t, err)
}
