package policy

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentgateway/agentgateway/pkg/cel"
	"github.com/agentgateway/agentgateway/pkg/config"
	"github.com/agentgateway/agentgateway/pkg/gwerrors"
)

// RateLimit evaluates a CEL expression to a string key and enforces a
// per-key token bucket.
type RateLimit struct {
	phase      config.PolicyPhase
	deadline   time.Duration
	key        *cel.CompiledExpression
	limit      rate.Limit
	burst      int
	mu         sync.Mutex
	buckets    map[string]*rate.Limiter
}

// NewRateLimit compiles p.KeyExpression and prepares a per-key bucket
// pool sized by p.Limit (tokens/sec) and p.Burst.
func NewRateLimit(engine *cel.Engine, p config.Policy) (*RateLimit, error) {
	key, err := engine.Compile(p.KeyExpression)
	if err != nil {
		return nil, gwerrors.NewInvalidRequestError("compiling rate_limit key expression", err)
	}
	burst := p.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimit{
		phase:   p.Phase,
		deadline: p.Deadline,
		key:     key,
		limit:   rate.Limit(p.Limit),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}, nil
}

func (r *RateLimit) Phase() config.PolicyPhase { return r.phase }
func (r *RateLimit) Deadline() time.Duration   { return r.deadline }

func (r *RateLimit) Execute(_ context.Context, mctx *MatchContext) error {
	key, err := r.key.EvaluateString(mctx.CELVars())
	if err != nil {
		return gwerrors.NewInternalError("evaluating rate_limit key expression", err)
	}

	limiter := r.limiterFor(key)
	if !limiter.Allow() {
		return gwerrors.NewRateLimitedError("rate limit exceeded for key "+key, nil)
	}
	return nil
}

func (r *RateLimit) limiterFor(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.buckets[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.buckets[key] = l
	}
	return l
}
