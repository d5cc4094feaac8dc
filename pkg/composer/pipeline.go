package composer

import (
	"context"
	"fmt"

	"github.com/agentgateway/agentgateway/pkg/gwerrors"
	"github.com/agentgateway/agentgateway/pkg/registry"
)

// evalPipeline runs an ordered sequence of steps. By default each step's
// input is the previous step's output (or the initial args for the
// first); a step may instead declare an explicit Input reference into a
// named prior step or into the initial args.
//
// Steps whose declared inputs are already satisfied by earlier results
// could in principle run concurrently (the spec allows this as an
// optional optimization); this implementation runs steps sequentially in
// declaration order, which is always a valid schedule and keeps output
// ordering trivially deterministic.
func (e *Engine) evalPipeline(ctx context.Context, p *registry.Pipeline, initialArgs any, res *resolution) (any, error) {
	if p == nil || len(p.Steps) == 0 {
		return initialArgs, nil
	}

	outputs := make(map[string]any, len(p.Steps))
	var current any = initialArgs

	for _, step := range p.Steps {
		input, err := resolveStepInput(step, initialArgs, outputs, current)
		if err != nil {
			return nil, err
		}

		out, err := e.evalSpec(ctx, step.Operation, input, res)
		if err != nil {
			return nil, fmt.Errorf("pipeline step %q: %w", step.ID, err)
		}

		outputs[step.ID] = out
		current = out
	}

	return current, nil
}

// resolveStepInput determines a step's input per §4.3(2): the explicit
// Input reference if present, else the running "current" value (the
// previous step's output, or initialArgs for the first step).
func resolveStepInput(step registry.Step, initialArgs any, outputs map[string]any, current any) (any, error) {
	if step.Input == nil {
		return current, nil
	}

	var source any
	if step.Input.FromInput || step.Input.Step == "" {
		source = initialArgs
	} else {
		out, ok := outputs[step.Input.Step]
		if !ok {
			return nil, gwerrors.NewValidationError(
				fmt.Sprintf("step %q references unknown prior step %q", step.ID, step.Input.Step), nil)
		}
		source = out
	}

	if step.Input.Path == "" || step.Input.Path == "$" {
		return source, nil
	}
	return EvalJSONPath(step.Input.Path, source)
}
