package registry

import (
	"encoding/json"
	"fmt"
)

// Resolved is a Document after $ref dereferencing and validation: schemas
// are indexed by ref, tools by name, for O(1) lookup on the request hot
// path.
type Resolved struct {
	Version SchemaVersion
	Schemas map[string]Schema // keyed by Ref()
	Servers map[string]Server
	Tools   map[string]Tool
	Agents  map[string]Agent
}

// Resolve validates doc and builds a Resolved registry from it. It
// dereferences every tool's $ref schemas against doc.Schemas, rejects
// duplicate tool names, and rejects composition cycles.
func Resolve(doc *Document) (*Resolved, error) {
	r := &Resolved{
		Version: doc.SchemaVersion,
		Schemas: make(map[string]Schema, len(doc.Schemas)),
		Servers: make(map[string]Server, len(doc.Servers)),
		Tools:   make(map[string]Tool, len(doc.Tools)),
		Agents:  make(map[string]Agent, len(doc.Agents)),
	}

	for _, s := range doc.Schemas {
		r.Schemas[s.Ref()] = s
	}
	for _, s := range doc.Servers {
		r.Servers[s.Name] = s
	}
	for _, a := range doc.Agents {
		r.Agents[a.Name] = a
	}

	for _, t := range doc.Tools {
		if _, dup := r.Tools[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name)
		}
		if err := validateSchemaRef(r, t.InputSchema); err != nil {
			return nil, fmt.Errorf("tool %q input_schema: %w", t.Name, err)
		}
		if t.OutputSchema != nil {
			if err := validateSchemaRef(r, *t.OutputSchema); err != nil {
				return nil, fmt.Errorf("tool %q output_schema: %w", t.Name, err)
			}
		}
		r.Tools[t.Name] = t
	}

	for name, t := range r.Tools {
		if err := detectCycle(r, name, t.Implementation, map[string]bool{}); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func validateSchemaRef(r *Resolved, ref SchemaRef) error {
	if !ref.IsRef() {
		return nil
	}
	if _, ok := r.Schemas[ref.Ref]; !ok {
		return fmt.Errorf("unresolved $ref %q", ref.Ref)
	}
	return nil
}

// DereferenceInputSchema returns the tool's resolved input-schema JSON
// with every key listed in a source implementation's HideFields removed
// from the schema's top-level "properties" object and "required" list,
// per §4.4's tools/list contract.
func (r *Resolved) DereferenceInputSchema(t Tool) (json.RawMessage, error) {
	raw, err := r.dereference(t.InputSchema)
	if err != nil {
		return nil, err
	}
	var hide []string
	if t.Implementation.Kind == ImplSource && t.Implementation.Source != nil {
		hide = t.Implementation.Source.HideFields
	}
	if len(hide) == 0 {
		return raw, nil
	}
	return stripFields(raw, hide)
}

func (r *Resolved) dereference(ref SchemaRef) (json.RawMessage, error) {
	if !ref.IsRef() {
		return ref.Inline, nil
	}
	s, ok := r.Schemas[ref.Ref]
	if !ok {
		return nil, fmt.Errorf("unresolved $ref %q", ref.Ref)
	}
	return s.JSON, nil
}

// stripFields removes the named top-level keys from a JSON-Schema
// "properties" object (and from the "required" list, if present).
func stripFields(raw json.RawMessage, fields []string) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding schema for field stripping: %w", err)
	}

	hide := make(map[string]bool, len(fields))
	for _, f := range fields {
		hide[f] = true
	}

	if props, ok := doc["properties"].(map[string]any); ok {
		for f := range hide {
			delete(props, f)
		}
	}
	if req, ok := doc["required"].([]any); ok {
		filtered := req[:0]
		for _, r := range req {
			if name, ok := r.(string); ok && hide[name] {
				continue
			}
			filtered = append(filtered, r)
		}
		doc["required"] = filtered
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding stripped schema: %w", err)
	}
	return out, nil
}

// detectCycle walks a tool implementation's composition graph, following
// tool_ref and pipeline/scatter-gather/map-each children, failing if name
// reappears on the current path.
func detectCycle(r *Resolved, name string, impl Implementation, onPath map[string]bool) error {
	if onPath[name] {
		return fmt.Errorf("composition cycle detected at tool %q", name)
	}
	onPath[name] = true
	defer delete(onPath, name)

	if impl.Kind != ImplSpec || impl.Spec == nil {
		return nil
	}
	return detectSpecCycle(r, impl.Spec, onPath)
}

func detectSpecCycle(r *Resolved, spec *Spec, onPath map[string]bool) error {
	if spec == nil {
		return nil
	}
	switch spec.Kind {
	case SpecToolRef:
		return followToolRef(r, spec.ToolName, onPath)
	case SpecPipeline:
		if spec.Pipeline == nil {
			return nil
		}
		for _, step := range spec.Pipeline.Steps {
			if err := detectSpecCycle(r, step.Operation, onPath); err != nil {
				return err
			}
		}
	case SpecScatterGather:
		if spec.ScatterGather == nil {
			return nil
		}
		for _, target := range spec.ScatterGather.Targets {
			if target.Tool != "" {
				if err := followToolRef(r, target.Tool, onPath); err != nil {
					return err
				}
			}
			if err := detectSpecCycle(r, target.Spec, onPath); err != nil {
				return err
			}
		}
	case SpecMapEach:
		if spec.MapEach == nil {
			return nil
		}
		return detectSpecCycle(r, spec.MapEach.Operation, onPath)
	case SpecFilter, SpecSchemaMap, SpecSource:
		// leaf operations: no nested tool references to follow.
		return nil
	}
	return nil
}

func followToolRef(r *Resolved, toolName string, onPath map[string]bool) error {
	t, ok := r.Tools[toolName]
	if !ok {
		return fmt.Errorf("composition references unknown tool %q", toolName)
	}
	return detectCycle(r, toolName, t.Implementation, onPath)
}
