package composer

import (
	"fmt"
	"strings"

	"github.com/agentgateway/agentgateway/pkg/gwerrors"
	"github.com/agentgateway/agentgateway/pkg/registry"
)

// evalFilter retains the elements of the input array satisfying
// Predicate, per §4.3(4).
func (e *Engine) evalFilter(f *registry.Filter, args any) (any, error) {
	if f == nil {
		return nil, gwerrors.NewInternalError("filter spec is nil", nil)
	}

	source := args
	if f.Input != nil {
		var err error
		source, err = resolveInputRef(f.Input, args)
		if err != nil {
			return nil, err
		}
	}

	arr, ok := source.([]any)
	if !ok {
		return nil, gwerrors.NewValidationError(fmt.Sprintf("filter input is not an array, got %T", source), nil)
	}

	out := make([]any, 0, len(arr))
	for _, item := range arr {
		match, err := matchPredicate(f.Predicate, item)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, item)
		}
	}
	return out, nil
}

func resolveInputRef(ref *registry.InputRef, args any) (any, error) {
	if ref.Path == "" || ref.Path == "$" {
		return args, nil
	}
	return EvalJSONPath(ref.Path, args)
}

func matchPredicate(p registry.Predicate, item any) (bool, error) {
	m, ok := item.(map[string]any)
	var field any
	if ok {
		field = m[p.Field]
	}

	switch p.Op {
	case registry.FilterEq:
		return compareEqual(field, p.Value), nil
	case registry.FilterNe:
		return !compareEqual(field, p.Value), nil
	case registry.FilterGt:
		return compareAny(field, p.Value) > 0, nil
	case registry.FilterGe:
		return compareAny(field, p.Value) >= 0, nil
	case registry.FilterLt:
		return compareAny(field, p.Value) < 0, nil
	case registry.FilterLe:
		return compareAny(field, p.Value) <= 0, nil
	case registry.FilterContains:
		return containsValue(field, p.Value), nil
	case registry.FilterIn:
		return containsValue(p.Value, field), nil
	default:
		return false, gwerrors.NewValidationError(fmt.Sprintf("unknown filter op %q", p.Op), nil)
	}
}

func compareEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func containsValue(container, needle any) bool {
	switch c := container.(type) {
	case []any:
		for _, v := range c {
			if compareEqual(v, needle) {
				return true
			}
		}
		return false
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(c, s)
	default:
		return false
	}
}
