// Package policy implements the router's phased policy chain: authn,
// authz, header transform, rate limit, and retry, each attached to a
// route and scoped to one of the five request/response phases.
package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/agentgateway/agentgateway/pkg/config"
	"github.com/agentgateway/agentgateway/pkg/gwerrors"
)

// MatchContext is the mutable evaluation context threaded through a
// route's policy chain. CEL expressions (authz, header-transform
// values, rate-limit keys) see Request/Headers/Claims.
type MatchContext struct {
	Request map[string]any
	Headers map[string]string
	Claims  map[string]any
}

// CELVars projects the match context into the variable set
// pkg/cel.NewRouteEngine's environment declares.
func (c *MatchContext) CELVars() map[string]any {
	return map[string]any{
		"request": c.Request,
		"headers": c.Headers,
		"claims":  c.Claims,
	}
}

// Policy is one phased policy implementation. Execute runs it against
// ctx and returns an error on authn/authz/rate-limit failure or an
// expression evaluation error; Retry's Execute always returns nil.
type Policy interface {
	Phase() config.PolicyPhase
	Execute(ctx context.Context, mctx *MatchContext) error
}

// Chain is an ordered, phase-grouped set of policies attached to one
// route.
type Chain struct {
	byPhase map[config.PolicyPhase][]Policy
}

// NewChain groups policies by phase, preserving within-phase
// declaration order.
func NewChain(policies []Policy) *Chain {
	c := &Chain{byPhase: make(map[config.PolicyPhase][]Policy)}
	for _, p := range policies {
		c.byPhase[p.Phase()] = append(c.byPhase[p.Phase()], p)
	}
	return c
}

// RunPhase executes every policy in phase sequentially. If one fails,
// the remaining policies in that phase are skipped (err is still
// returned), but the caller is expected to still run later phases so
// response transforms can run against a failure response.
func (c *Chain) RunPhase(ctx context.Context, phase config.PolicyPhase, mctx *MatchContext) error {
	for _, p := range c.byPhase[phase] {
		if err := runWithDeadline(ctx, p, mctx); err != nil {
			return err
		}
	}
	return nil
}

func runWithDeadline(ctx context.Context, p Policy, mctx *MatchContext) error {
	deadline, ok := deadlineOf(p)
	if !ok || deadline <= 0 {
		return p.Execute(ctx, mctx)
	}

	dctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Execute(dctx, mctx) }()

	select {
	case err := <-done:
		return err
	case <-dctx.Done():
		return errTimeout(p)
	}
}

// deadliner is implemented by policies that declare a soft per-policy
// deadline (all of them, via their config.Policy.Deadline field).
type deadliner interface {
	Deadline() time.Duration
}

func deadlineOf(p Policy) (time.Duration, bool) {
	d, ok := p.(deadliner)
	if !ok {
		return 0, false
	}
	return d.Deadline(), true
}

func errTimeout(p Policy) error {
	return gwerrors.NewUpstreamTimeoutError(fmt.Sprintf("policy in phase %q exceeded its deadline", p.Phase()), nil)
}
