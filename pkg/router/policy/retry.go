package policy

import (
	"context"
	"time"

	"github.com/agentgateway/agentgateway/pkg/config"
)

// Retry is an upstream-phase policy governing retry budget and
// conditions. It does not itself drive the retry loop (pkg/gateway's
// forwardHTTP does, consulting ShouldRetry); Execute is a no-op
// so Retry can still sit in a phase's policy list alongside policies
// that do act during Execute.
type Retry struct {
	phase           config.PolicyPhase
	deadline        time.Duration
	maxRetries      int
	retryableStatus map[int]bool
	idempotentOnly  bool
}

var idempotentMethods = map[string]bool{
	"GET": true, "HEAD": true, "PUT": true, "DELETE": true, "OPTIONS": true, "TRACE": true,
}

// NewRetry builds a Retry policy from its config.
func NewRetry(p config.Policy) *Retry {
	statuses := make(map[int]bool, len(p.RetryableStatus))
	for _, s := range p.RetryableStatus {
		statuses[s] = true
	}
	return &Retry{
		phase:           p.Phase,
		deadline:        p.Deadline,
		maxRetries:      p.MaxRetries,
		retryableStatus: statuses,
		idempotentOnly:  p.IdempotentOnly,
	}
}

func (r *Retry) Phase() config.PolicyPhase { return r.phase }
func (r *Retry) Deadline() time.Duration   { return r.deadline }
func (r *Retry) Execute(context.Context, *MatchContext) error { return nil }

// MaxRetries returns the configured retry budget.
func (r *Retry) MaxRetries() int { return r.maxRetries }

// ShouldRetry reports whether a response with the given status, for a
// request with the given method, qualifies for another attempt under
// this policy's conditions.
func (r *Retry) ShouldRetry(method string, status int) bool {
	if r.idempotentOnly && !idempotentMethods[method] {
		return false
	}
	if len(r.retryableStatus) == 0 {
		return status >= 500
	}
	return r.retryableStatus[status]
}

// ShouldRetryOnError reports whether a transport-level failure (no
// response received at all) for a request with the given method
// qualifies for another attempt under this policy's conditions.
func (r *Retry) ShouldRetryOnError(method string) bool {
	return !r.idempotentOnly || idempotentMethods[method]
}

// RetryOf returns the upstream-phase Retry policy attached to c, or nil
// if the route declared none. The backend dispatcher consults this to
// drive its own retry loop, since Retry.Execute is a no-op.
func (c *Chain) RetryOf() *Retry {
	for _, p := range c.byPhase[config.PhaseUpstream] {
		if r, ok := p.(*Retry); ok {
			return r
		}
	}
	return nil
}
