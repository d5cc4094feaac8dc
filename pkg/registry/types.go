// Package registry defines the virtual-tool registry: the schemas,
// backend-server declarations, tool implementations, and (v2) agent
// metadata that the Composition Engine and MCP Session Manager consult to
// resolve and invoke tools.
package registry

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// SchemaVersion distinguishes the v1 (implementation-inline) registry
// document shape from the v2 (schemas + servers + agents, with $ref)
// shape.
type SchemaVersion string

const (
	SchemaVersion1 SchemaVersion = "1.0"
	SchemaVersion2 SchemaVersion = "2.0"
)

// Schema is a named, versioned JSON-Schema fragment, addressable from a
// tool's input/output schema as "#Name:Version".
type Schema struct {
	Name    string          `json:"name" yaml:"name"`
	Version string          `json:"version" yaml:"version"`
	JSON    json.RawMessage `json:"schema" yaml:"schema"`
}

// Ref returns the "#Name:Version" address other documents use to point
// at this schema.
func (s Schema) Ref() string { return "#" + s.Name + ":" + s.Version }

// ProvidedTool declares that a backend Server exposes one of its native
// tools at a given version.
type ProvidedTool struct {
	Tool    string `json:"tool" yaml:"tool"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Server declares a backend MCP server and the native tools it
// contributes to the registry.
type Server struct {
	Name     string         `json:"name" yaml:"name"`
	Version  string         `json:"version,omitempty" yaml:"version,omitempty"`
	Provides []ProvidedTool `json:"provides,omitempty" yaml:"provides,omitempty"`
}

// SchemaRef is either an inline JSON-Schema document or a "$ref" pointer
// into the registry's Schemas table.
type SchemaRef struct {
	Ref    string          `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Inline json.RawMessage `json:"inline,omitempty" yaml:"inline,omitempty"`
}

// IsRef reports whether this SchemaRef is a pointer rather than an inline
// document.
func (s SchemaRef) IsRef() bool { return s.Ref != "" }

// Source is a direct (non-composed) tool implementation: a mapping onto
// one backend server's native tool.
type Source struct {
	Server        string          `json:"server" yaml:"server"`
	Tool          string          `json:"tool" yaml:"tool"`
	ServerVersion string          `json:"server_version,omitempty" yaml:"server_version,omitempty"`
	Defaults      map[string]any  `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	HideFields    []string        `json:"hide_fields,omitempty" yaml:"hide_fields,omitempty"`
}

// ImplKind tags which variant of Implementation is populated.
type ImplKind string

const (
	ImplSource ImplKind = "source"
	ImplSpec   ImplKind = "spec"
)

// Implementation is a tagged-variant tool body: either a direct Source
// mapping or a composition Spec.
type Implementation struct {
	Kind   ImplKind `json:"kind" yaml:"kind"`
	Source *Source  `json:"source,omitempty" yaml:"source,omitempty"`
	Spec   *Spec    `json:"spec,omitempty" yaml:"spec,omitempty"`
}

// Tool is one entry in the registry: a name, its schemas, and how it is
// implemented.
type Tool struct {
	Name            string         `json:"name" yaml:"name"`
	Version         string         `json:"version,omitempty" yaml:"version,omitempty"`
	Description     string         `json:"description,omitempty" yaml:"description,omitempty"`
	InputSchema     SchemaRef      `json:"input_schema" yaml:"input_schema"`
	OutputSchema    *SchemaRef     `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	OutputTransform *Spec          `json:"output_transform,omitempty" yaml:"output_transform,omitempty"`
	Visibility      *Visibility    `json:"visibility,omitempty" yaml:"visibility,omitempty"`
	Implementation  Implementation `json:"implementation" yaml:"implementation"`
}

// Visibility gates which callers see a tool in tools/list. Exactly one of
// Expression or AllowList should be set; an empty Visibility means
// allow-all.
type Visibility struct {
	Expression string   `json:"expression,omitempty" yaml:"expression,omitempty"`
	AllowList  []string `json:"allow_list,omitempty" yaml:"allow_list,omitempty"`
}

// AgentSkill is one capability advertised by an A2A agent.
type AgentSkill struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Agent is v2 A2A agent metadata, including an SBOM-style dependency
// extension.
type Agent struct {
	Name         string       `json:"name" yaml:"name"`
	Skills       []AgentSkill `json:"skills,omitempty" yaml:"skills,omitempty"`
	Dependencies []string     `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
}

// Document is the registry as loaded from a config source, before
// resolution. Unknown top-level fields are preserved verbatim by Rest so
// unrecognized LLM/agent vocabulary round-trips across reloads, the same
// Rest-field idiom the llm adapter uses for provider request passthrough.
type Document struct {
	SchemaVersion SchemaVersion `json:"schemaVersion" yaml:"schemaVersion"`
	Schemas       []Schema      `json:"schemas,omitempty" yaml:"schemas,omitempty"`
	Servers       []Server      `json:"servers,omitempty" yaml:"servers,omitempty"`
	Tools         []Tool        `json:"tools,omitempty" yaml:"tools,omitempty"`
	Agents        []Agent       `json:"agents,omitempty" yaml:"agents,omitempty"`

	// Rest preserves unknown top-level keys verbatim across reloads.
	Rest map[string]json.RawMessage `json:"-" yaml:"-"`
}

// knownDocumentFields are Document's typed top-level keys; everything
// else decoded alongside them is captured into Rest instead of dropped.
var knownDocumentFields = []string{"schemaVersion", "schemas", "servers", "tools", "agents"}

// documentAlias has Document's fields and tags but none of its methods,
// so decoding into it doesn't recurse back into UnmarshalJSON/UnmarshalYAML.
type documentAlias Document

// UnmarshalJSON decodes the known fields normally, then re-decodes data
// into a raw key map and keeps whatever keys aren't among
// knownDocumentFields as Rest, so unrecognized registry vocabulary
// survives a reload verbatim.
func (d *Document) UnmarshalJSON(data []byte) error {
	var alias documentAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownDocumentFields {
		delete(raw, k)
	}

	*d = Document(alias)
	d.Rest = raw
	return nil
}

// MarshalJSON re-serializes Document by encoding the known fields, then
// layering Rest's entries over the result so unknown keys round-trip.
func (d Document) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(documentAlias(d))
	if err != nil {
		return nil, err
	}
	if len(d.Rest) == 0 {
		return b, nil
	}

	merged := make(map[string]json.RawMessage, len(d.Rest)+5)
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range d.Rest {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalYAML mirrors UnmarshalJSON for the YAML config-file path:
// decode the known fields through the alias, then walk the mapping
// node's own keys to capture whatever isn't among knownDocumentFields.
func (d *Document) UnmarshalYAML(node *yaml.Node) error {
	var alias documentAlias
	if err := node.Decode(&alias); err != nil {
		return err
	}

	known := make(map[string]bool, len(knownDocumentFields))
	for _, k := range knownDocumentFields {
		known[k] = true
	}

	rest := make(map[string]json.RawMessage)
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if known[key] {
				continue
			}
			var v any
			if err := node.Content[i+1].Decode(&v); err != nil {
				return err
			}
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			rest[key] = b
		}
	}

	*d = Document(alias)
	d.Rest = rest
	return nil
}

// MarshalYAML mirrors MarshalJSON: the known fields marshal through the
// alias, then Rest's entries are decoded back into plain values and
// merged in so the yaml encoder emits them as native YAML, not embedded
// JSON strings.
func (d Document) MarshalYAML() (any, error) {
	b, err := yaml.Marshal(documentAlias(d))
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any)
	if err := yaml.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, raw := range d.Rest {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		merged[k] = v
	}
	return merged, nil
}
