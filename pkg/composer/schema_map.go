package composer

import (
	"fmt"
	"strings"

	"github.com/agentgateway/agentgateway/pkg/gwerrors"
	"github.com/agentgateway/agentgateway/pkg/registry"
)

// evalSchemaMap performs a structural projection from args to an output
// document, one field per entry in SchemaMap.Fields, per §4.3(6).
func (e *Engine) evalSchemaMap(sm *registry.SchemaMap, args any) (any, error) {
	if sm == nil {
		return nil, gwerrors.NewInternalError("schema_map spec is nil", nil)
	}
	return projectFields(sm.Fields, args)
}

func projectFields(fields map[string]registry.FieldMapping, source any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for name, mapping := range fields {
		v, err := projectField(mapping, source)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func projectField(m registry.FieldMapping, source any) (any, error) {
	switch {
	case m.Path != "":
		return EvalJSONPath(m.Path, source)

	case m.Coalesce != nil:
		for _, path := range m.Coalesce.Paths {
			v, err := EvalJSONPath(path, source)
			if err == nil && v != nil {
				return v, nil
			}
		}
		return nil, nil

	case m.Literal != nil:
		return m.Literal, nil

	case m.Template != nil:
		return expandTemplate(*m.Template, source)

	case m.Concat != nil:
		var parts []string
		for _, path := range m.Concat.Paths {
			v, err := EvalJSONPath(path, source)
			if err != nil {
				return nil, err
			}
			parts = append(parts, fmt.Sprint(v))
		}
		return strings.Join(parts, m.Concat.Separator), nil

	case m.Nested != nil:
		return projectFields(m.Nested, source)

	default:
		return nil, gwerrors.NewValidationError("field mapping has no variant set", nil)
	}
}

// expandTemplate substitutes ${name} placeholders in tm.Template using
// the JSONPath-resolved values named in tm.Vars, evaluated against
// source. This is a literal ${name} substitution, not Go's text/template
// syntax.
func expandTemplate(tm registry.TemplateMapping, source any) (string, error) {
	resolved := make(map[string]string, len(tm.Vars))
	for name, path := range tm.Vars {
		v, err := EvalJSONPath(path, source)
		if err != nil {
			return "", fmt.Errorf("template var %q: %w", name, err)
		}
		resolved[name] = fmt.Sprint(v)
	}

	var b strings.Builder
	s := tm.Template
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			b.WriteString(s)
			break
		}
		end += start

		b.WriteString(s[:start])
		name := s[start+2 : end]
		if v, ok := resolved[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	return b.String(), nil
}
