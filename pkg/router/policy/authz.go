package policy

import (
	"context"
	"time"

	"github.com/agentgateway/agentgateway/pkg/cel"
	"github.com/agentgateway/agentgateway/pkg/config"
	"github.com/agentgateway/agentgateway/pkg/gwerrors"
)

// Authz evaluates a boolean CEL expression over the match context;
// false fails the request with forbidden.
type Authz struct {
	phase      config.PolicyPhase
	deadline   time.Duration
	expression *cel.CompiledExpression
}

// NewAuthz compiles p.Expression against engine.
func NewAuthz(engine *cel.Engine, p config.Policy) (*Authz, error) {
	expr, err := engine.Compile(p.Expression)
	if err != nil {
		return nil, gwerrors.NewInvalidRequestError("compiling authz expression", err)
	}
	return &Authz{phase: p.Phase, deadline: p.Deadline, expression: expr}, nil
}

func (a *Authz) Phase() config.PolicyPhase { return a.phase }
func (a *Authz) Deadline() time.Duration   { return a.deadline }

func (a *Authz) Execute(_ context.Context, mctx *MatchContext) error {
	ok, err := a.expression.EvaluateBool(mctx.CELVars())
	if err != nil {
		return gwerrors.NewInternalError("evaluating authz expression", err)
	}
	if !ok {
		return gwerrors.NewForbiddenError("authz policy denied the request", nil)
	}
	return nil
}
