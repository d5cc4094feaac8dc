package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgateway/agentgateway/pkg/cel"
	"github.com/agentgateway/agentgateway/pkg/config"
	"github.com/agentgateway/agentgateway/pkg/gwerrors"
)

func TestAuthz_AllowsAndDenies(t *testing.T) {
	t.Parallel()

	engine, err := cel.NewRouteEngine()
	require.NoError(t, err)

	p, err := NewAuthz(engine, config.Policy{
		Kind:       config.PolicyAuthz,
		Phase:      config.PhaseRequestHeaders,
		Expression: `claims.role == "admin"`,
	})
	require.NoError(t, err)

	mctx := &MatchContext{Claims: map[string]any{"role": "admin"}}
	assert.NoError(t, p.Execute(context.Background(), mctx))

	mctx = &MatchContext{Claims: map[string]any{"role": "viewer"}}
	err = p.Execute(context.Background(), mctx)
	require.Error(t, err)
	assert.True(t, gwerrors.IsForbidden(err))
}

func TestHeaderTransform_AddSetRemove(t *testing.T) {
	t.Parallel()

	engine, err := cel.NewRouteEngine()
	require.NoError(t, err)

	p, err := NewHeaderTransform(engine, config.Policy{
		Kind:  config.PolicyHeaderTransform,
		Phase: config.PhaseRequestHeaders,
		Headers: []config.HeaderOp{
			{Op: "set", Name: "x-static", Value: "v1"},
			{Op: "remove", Name: "x-drop"},
		},
	})
	require.NoError(t, err)

	mctx := &MatchContext{Headers: map[string]string{"x-drop": "bye"}}
	require.NoError(t, p.Execute(context.Background(), mctx))
	assert.Equal(t, "v1", mctx.Headers["x-static"])
	_, dropped := mctx.Headers["x-drop"]
	assert.False(t, dropped)
}

func TestRateLimit_AllowsThenDenies(t *testing.T) {
	t.Parallel()

	engine, err := cel.NewRouteEngine()
	require.NoError(t, err)

	p, err := NewRateLimit(engine, config.Policy{
		Kind:          config.PolicyRateLimit,
		Phase:         config.PhaseRequestHeaders,
		KeyExpression: `"fixed-key"`,
		Limit:         0,
		Burst:         1,
	})
	require.NoError(t, err)

	mctx := &MatchContext{Request: map[string]any{}, Headers: map[string]string{}, Claims: map[string]any{}}
	require.NoError(t, p.Execute(context.Background(), mctx))

	err = p.Execute(context.Background(), mctx)
	require.Error(t, err)
	assert.True(t, gwerrors.IsRateLimited(err))
}

func TestRetry_ShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewRetry(config.Policy{
		Kind:            config.PolicyRetry,
		Phase:           config.PhaseUpstream,
		MaxRetries:      3,
		RetryableStatus: []int{502, 503},
		IdempotentOnly:  true,
	})

	assert.True(t, p.ShouldRetry("GET", 503))
	assert.False(t, p.ShouldRetry("POST", 503))
	assert.False(t, p.ShouldRetry("GET", 404))
	assert.Equal(t, 3, p.MaxRetries())
}

func TestChain_PhaseSkipsRemainingOnFailure(t *testing.T) {
	t.Parallel()

	engine, err := cel.NewRouteEngine()
	require.NoError(t, err)

	deny, err := NewAuthz(engine, config.Policy{Phase: config.PhaseRequestHeaders, Expression: "false"})
	require.NoError(t, err)
	transform, err := NewHeaderTransform(engine, config.Policy{
		Phase:   config.PhaseRequestHeaders,
		Headers: []config.HeaderOp{{Op: "set", Name: "x-should-not-run", Value: "v"}},
	})
	require.NoError(t, err)

	chain := NewChain([]Policy{deny, transform})
	mctx := &MatchContext{Headers: map[string]string{}}
	err = chain.RunPhase(context.Background(), config.PhaseRequestHeaders, mctx)
	require.Error(t, err)
	_, ran := mctx.Headers["x-should-not-run"]
	assert.False(t, ran)
}
