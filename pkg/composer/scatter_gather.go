package composer

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentgateway/agentgateway/pkg/registry"
)

// scatterResult pairs one target's outcome with its declared order, so
// aggregation (and any error reporting) can recover source order for
// stable sort tie-breaks and deterministic partial-failure reporting.
type scatterResult struct {
	index int
	value any
	err   error
}

// evalScatterGather fans args out to every target concurrently, then
// runs Aggregation.Ops over the collected results in order.
func (e *Engine) evalScatterGather(ctx context.Context, sg *registry.ScatterGather, args any, res *resolution) (any, error) {
	if sg == nil || len(sg.Targets) == 0 {
		return []any{}, nil
	}

	if sg.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(sg.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	results := make([]scatterResult, len(sg.Targets))

	if sg.FailFast {
		g, gctx := errgroup.WithContext(ctx)
		for i, target := range sg.Targets {
			i, target := i, target
			g.Go(func() error {
				v, err := e.invokeTarget(gctx, target, args, res)
				results[i] = scatterResult{index: i, value: v, err: err}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		var wg sync.WaitGroup
		wg.Add(len(sg.Targets))
		for i, target := range sg.Targets {
			i, target := i, target
			go func() {
				defer wg.Done()
				v, err := e.invokeTarget(ctx, target, args, res)
				results[i] = scatterResult{index: i, value: v, err: err}
			}()
		}
		wg.Wait()
	}

	var values []any
	var failures []any
	for _, r := range results {
		if r.err != nil {
			failures = append(failures, map[string]any{"error": r.err.Error()})
			continue
		}
		values = append(values, r.value)
	}

	aggregated := applyAggregation(sg.Aggregation, values)

	if len(failures) > 0 && !sg.FailFast {
		return map[string]any{"results": aggregated, "failures": failures}, nil
	}
	return aggregated, nil
}

// invokeTarget evaluates one scatter-gather target: a bare tool name or a
// nested composition spec.
func (e *Engine) invokeTarget(ctx context.Context, target registry.Target, args any, res *resolution) (any, error) {
	if target.Tool != "" {
		argsMap, _ := args.(map[string]any)
		return e.invokeToolRef(ctx, target.Tool, argsMap, cloneResolution(res))
	}
	return e.evalSpec(ctx, target.Spec, args, cloneResolution(res))
}

// cloneResolution gives each concurrent branch its own resolution stack
// copy so sibling branches don't falsely trip each other's cycle
// detection while still inheriting the ancestor path.
func cloneResolution(res *resolution) *resolution {
	c := &resolution{maxDepth: res.maxDepth}
	c.stack = append(c.stack, res.stack...)
	return c
}

func applyAggregation(agg registry.Aggregation, values []any) []any {
	out := values
	for _, op := range agg.Ops {
		switch op.Op {
		case "flatten":
			out = flatten(out)
		case "merge":
			out = []any{mergeAll(out)}
		case "sort":
			out = sortByField(out, op.Field, op.Order)
		case "dedupe":
			out = dedupeByField(out, op.Field)
		case "limit":
			if op.Count >= 0 && op.Count < len(out) {
				out = out[:op.Count]
			}
		}
	}
	return out
}

func flatten(values []any) []any {
	var out []any
	for _, v := range values {
		if arr, ok := v.([]any); ok {
			out = append(out, arr...)
		} else {
			out = append(out, v)
		}
	}
	return out
}

func mergeAll(values []any) map[string]any {
	out := map[string]any{}
	for _, v := range values {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for k, fv := range m {
			out[k] = fv // later wins
		}
	}
	return out
}

func sortByField(values []any, field, order string) []any {
	out := slices.Clone(values)
	asc := order != "desc"
	slices.SortStableFunc(out, func(a, b any) int {
		av, aok := fieldValue(a, field)
		bv, bok := fieldValue(b, field)
		if !aok || !bok {
			return 0
		}
		c := compareAny(av, bv)
		if !asc {
			c = -c
		}
		return c
	})
	return out
}

func fieldValue(v any, field string) (any, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	fv, ok := m[field]
	return fv, ok
}

func compareAny(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			return cmp.Compare(av, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return cmp.Compare(av, bv)
		}
	}
	return 0
}

// dedupeByField keeps the first occurrence of each distinct field value,
// per the composition engine's "first occurrence wins" determinism rule.
func dedupeByField(values []any, field string) []any {
	seen := map[any]bool{}
	out := make([]any, 0, len(values))
	for _, v := range values {
		fv, ok := fieldValue(v, field)
		if !ok {
			out = append(out, v)
			continue
		}
		key := normalizeKey(fv)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func normalizeKey(v any) any {
	switch t := v.(type) {
	case map[string]any, []any:
		return fmt.Sprint(t)
	default:
		return t
	}
}
