package composer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentgateway/agentgateway/pkg/gwerrors"
	"github.com/agentgateway/agentgateway/pkg/registry"
)

// mapEachResult holds one element's outcome; it is stored at the
// element's input index, so results can be reassembled in input order
// once every goroutine has finished.
type mapEachResult struct {
	value any
	err   error
}

// evalMapEach applies Operation to every element of Input's array
// concurrently, honoring OnError (default abort) for per-element
// failures, per §4.3(5).
func (e *Engine) evalMapEach(ctx context.Context, m *registry.MapEach, args any, res *resolution) (any, error) {
	if m == nil {
		return nil, gwerrors.NewInternalError("map_each spec is nil", nil)
	}

	source := args
	if m.Input != nil {
		var err error
		source, err = resolveInputRef(m.Input, args)
		if err != nil {
			return nil, err
		}
	}

	arr, ok := source.([]any)
	if !ok {
		return nil, gwerrors.NewValidationError(fmt.Sprintf("map_each input is not an array, got %T", source), nil)
	}

	onError := m.OnError
	if onError == "" {
		onError = registry.OnErrorAbort
	}

	results := make([]mapEachResult, len(arr))

	if onError == registry.OnErrorAbort {
		// abort: the first failing element should stop the rest of the
		// fan-out as soon as possible, mirroring evalScatterGather's
		// FailFast branch.
		g, gctx := errgroup.WithContext(ctx)
		for i, item := range arr {
			i, item := i, item
			g.Go(func() error {
				v, err := e.evalSpec(gctx, m.Operation, item, cloneResolution(res))
				results[i] = mapEachResult{value: v, err: err}
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		// skip/collect: every element runs to completion regardless of
		// sibling failures, mirroring evalScatterGather's non-FailFast
		// branch.
		var wg sync.WaitGroup
		wg.Add(len(arr))
		for i, item := range arr {
			i, item := i, item
			go func() {
				defer wg.Done()
				v, err := e.evalSpec(ctx, m.Operation, item, cloneResolution(res))
				results[i] = mapEachResult{value: v, err: err}
			}()
		}
		wg.Wait()
	}

	out := make([]any, 0, len(arr))
	for _, r := range results {
		if r.err != nil {
			if onError == registry.OnErrorSkip {
				continue
			}
			out = append(out, map[string]any{"error": r.err.Error()})
			continue
		}
		out = append(out, r.value)
	}
	return out, nil
}
