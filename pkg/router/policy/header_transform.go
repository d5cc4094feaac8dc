package policy

import (
	"time"

	"context"

	"github.com/agentgateway/agentgateway/pkg/cel"
	"github.com/agentgateway/agentgateway/pkg/config"
	"github.com/agentgateway/agentgateway/pkg/gwerrors"
)

// HeaderTransform applies add/set/remove header operations, where a
// value may be a literal string or a compiled CEL expression.
type HeaderTransform struct {
	phase    config.PolicyPhase
	deadline time.Duration
	ops      []headerOp
}

type headerOp struct {
	op         string
	name       string
	literal    string
	expression *cel.CompiledExpression
}

// NewHeaderTransform compiles every CEL-valued op against engine; engine
// may be nil if no op in p.Headers sets IsCEL.
func NewHeaderTransform(engine *cel.Engine, p config.Policy) (*HeaderTransform, error) {
	ops := make([]headerOp, 0, len(p.Headers))
	for _, h := range p.Headers {
		op := headerOp{op: h.Op, name: h.Name, literal: h.Value}
		if h.IsCEL {
			if engine == nil {
				return nil, gwerrors.NewInvalidRequestError("header_transform uses a CEL value but no engine is configured", nil)
			}
			expr, err := engine.Compile(h.Value)
			if err != nil {
				return nil, gwerrors.NewInvalidRequestError("compiling header_transform expression", err)
			}
			op.expression = expr
		}
		ops = append(ops, op)
	}
	return &HeaderTransform{phase: p.Phase, deadline: p.Deadline, ops: ops}, nil
}

func (h *HeaderTransform) Phase() config.PolicyPhase { return h.phase }
func (h *HeaderTransform) Deadline() time.Duration   { return h.deadline }

func (h *HeaderTransform) Execute(_ context.Context, mctx *MatchContext) error {
	if mctx.Headers == nil {
		mctx.Headers = make(map[string]string)
	}
	for _, op := range h.ops {
		value := op.literal
		if op.expression != nil {
			v, err := op.expression.EvaluateString(mctx.CELVars())
			if err != nil {
				return gwerrors.NewInternalError("evaluating header_transform expression", err)
			}
			value = v
		}
		switch op.op {
		case "add", "set":
			mctx.Headers[op.name] = value
		case "remove":
			delete(mctx.Headers, op.name)
		default:
			return gwerrors.NewInternalError("unknown header_transform op "+op.op, nil)
		}
	}
	return nil
}
