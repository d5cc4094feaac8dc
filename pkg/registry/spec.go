package registry

// SpecKind identifies which composition variant a Spec holds.
type SpecKind string

const (
	SpecSource        SpecKind = "source"
	SpecPipeline      SpecKind = "pipeline"
	SpecScatterGather SpecKind = "scatter_gather"
	SpecFilter        SpecKind = "filter"
	SpecMapEach       SpecKind = "map_each"
	SpecSchemaMap     SpecKind = "schema_map"
	// SpecToolRef names another registry tool directly, used as a leaf in
	// pipeline steps, scatter-gather targets, and map-each bodies.
	SpecToolRef SpecKind = "tool_ref"
)

// InputRef points at a value produced earlier in a composition: either a
// prior pipeline step's output or the composition's own initial args.
// Path is read from the initial args when FromInput is true or Step is
// empty, and from Step's output otherwise.
type InputRef struct {
	Step string `json:"step,omitempty" yaml:"step,omitempty"` // step id
	Path string `json:"path" yaml:"path"`                     // JSONPath, relative to the named source
	// FromInput is true when Path is relative to the initial args rather
	// than to Step's output.
	FromInput bool `json:"from_input,omitempty" yaml:"from_input,omitempty"`
}

// Step is one stage of a pipeline.
type Step struct {
	ID        string    `json:"id" yaml:"id"`
	Operation *Spec     `json:"operation" yaml:"operation"`
	Input     *InputRef `json:"input,omitempty" yaml:"input,omitempty"`
}

// Target is one fan-out destination of a scatter-gather: either a bare
// tool name or a nested composition.
type Target struct {
	Tool string `json:"tool,omitempty" yaml:"tool,omitempty"`
	Spec *Spec  `json:"spec,omitempty" yaml:"spec,omitempty"`
}

// AggregationOp is one step of a scatter-gather's aggregation pipeline,
// applied in the declared order.
type AggregationOp struct {
	Op      string `json:"op" yaml:"op"` // flatten, merge, sort, dedupe, limit
	Field   string `json:"field,omitempty" yaml:"field,omitempty"`
	Order   string `json:"order,omitempty" yaml:"order,omitempty"` // asc, desc
	Count   int    `json:"count,omitempty" yaml:"count,omitempty"`
}

// Aggregation is the ordered set of operations applied to scatter-gather
// results before they are returned.
type Aggregation struct {
	Ops []AggregationOp `json:"ops,omitempty" yaml:"ops,omitempty"`
}

// ScatterGather fans a call out to N targets concurrently and aggregates
// their results.
type ScatterGather struct {
	Targets     []Target     `json:"targets" yaml:"targets"`
	Aggregation Aggregation  `json:"aggregation,omitempty" yaml:"aggregation,omitempty"`
	TimeoutMS   int          `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	FailFast    bool         `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`
}

// FilterOp is the comparison a Filter predicate applies.
type FilterOp string

const (
	FilterEq       FilterOp = "eq"
	FilterNe       FilterOp = "ne"
	FilterGt       FilterOp = "gt"
	FilterGe       FilterOp = "ge"
	FilterLt       FilterOp = "lt"
	FilterLe       FilterOp = "le"
	FilterContains FilterOp = "contains"
	FilterIn       FilterOp = "in"
)

// Predicate is one filter condition evaluated against each array element.
type Predicate struct {
	Field string   `json:"field" yaml:"field"`
	Op    FilterOp `json:"op" yaml:"op"`
	Value any      `json:"value" yaml:"value"`
}

// Filter retains array elements whose Predicate evaluates true.
type Filter struct {
	Input     *InputRef `json:"input,omitempty" yaml:"input,omitempty"`
	Predicate Predicate `json:"predicate" yaml:"predicate"`
}

// OnError governs map-each's behavior when one element's invocation
// fails.
type OnError string

const (
	OnErrorAbort  OnError = "abort"
	OnErrorSkip   OnError = "skip"
	OnErrorCollect OnError = "collect"
)

// MapEach applies Operation to every element of Input's array.
type MapEach struct {
	Input     *InputRef `json:"input,omitempty" yaml:"input,omitempty"`
	Operation *Spec     `json:"operation" yaml:"operation"`
	OnError   OnError   `json:"on_error,omitempty" yaml:"on_error,omitempty"`
}

// FieldMapping is one output field's projection rule in a schema-map.
// Exactly one of Path, Coalesce, Literal, Template, Concat, Nested is set.
type FieldMapping struct {
	Path     string            `json:"path,omitempty" yaml:"path,omitempty"`
	Coalesce *CoalesceMapping  `json:"coalesce,omitempty" yaml:"coalesce,omitempty"`
	Literal  any               `json:"literal,omitempty" yaml:"literal,omitempty"`
	Template *TemplateMapping  `json:"template,omitempty" yaml:"template,omitempty"`
	Concat   *ConcatMapping    `json:"concat,omitempty" yaml:"concat,omitempty"`
	Nested   map[string]FieldMapping `json:"nested,omitempty" yaml:"nested,omitempty"`
}

// CoalesceMapping returns the first non-null value among Paths.
type CoalesceMapping struct {
	Paths []string `json:"paths" yaml:"paths"`
}

// TemplateMapping substitutes ${name} placeholders in Template using Vars
// (name -> JSONPath).
type TemplateMapping struct {
	Template string            `json:"template" yaml:"template"`
	Vars     map[string]string `json:"vars" yaml:"vars"`
}

// ConcatMapping joins the string form of each Paths value with Separator.
type ConcatMapping struct {
	Paths     []string `json:"paths" yaml:"paths"`
	Separator string   `json:"separator" yaml:"separator"`
}

// SchemaMap is a structural projection from an input document to an
// output document, one FieldMapping per output field.
type SchemaMap struct {
	Fields map[string]FieldMapping `json:"fields" yaml:"fields"`
}

// Pipeline is an ordered sequence of Steps; by default each step's input
// is the previous step's output (or the initial args for the first).
type Pipeline struct {
	Steps []Step `json:"steps" yaml:"steps"`
}

// Spec is a tagged-variant composition node. Exactly the field named by
// Kind is populated; SpecToolRef uses ToolName instead of a sub-struct.
type Spec struct {
	Kind SpecKind `json:"kind" yaml:"kind"`

	ToolName string `json:"tool,omitempty" yaml:"tool,omitempty"`

	Source        *Source        `json:"source,omitempty" yaml:"source,omitempty"`
	Pipeline      *Pipeline      `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
	ScatterGather *ScatterGather `json:"scatter_gather,omitempty" yaml:"scatter_gather,omitempty"`
	Filter        *Filter        `json:"filter,omitempty" yaml:"filter,omitempty"`
	MapEach       *MapEach       `json:"map_each,omitempty" yaml:"map_each,omitempty"`
	SchemaMap     *SchemaMap     `json:"schema_map,omitempty" yaml:"schema_map,omitempty"`
}
