package wdl

// Document is the structured text representation of a workflow
// definition. It is the single schema behind both the YAML and JSON
// forms of the WDL. Variant-specific node fields live in the flat
// Parameters map; the parser and exporter agree on the exact key set
// per variant so that parse(export(d)) reproduces d.
type Document struct {
	WorkflowID  string   `yaml:"workflow_id,omitempty" json:"workflow_id,omitempty"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string   `yaml:"version,omitempty" json:"version,omitempty"`
	Author      string   `yaml:"author,omitempty" json:"author,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	// Variables maps a name to either a bare literal (type inferred)
	// or a {type, value, sensitive} map.
	Variables map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`

	Nodes []NodeDoc `yaml:"nodes" json:"nodes"`

	// Connections and Edges are interchangeable on input; the
	// exporter always emits Edges.
	Connections []EdgeDoc `yaml:"connections,omitempty" json:"connections,omitempty"`
	Edges       []EdgeDoc `yaml:"edges,omitempty" json:"edges,omitempty"`

	MaxParallelNodes int `yaml:"max_parallel_nodes,omitempty" json:"max_parallel_nodes,omitempty"`
}

// NodeDoc is the document form of a workflow node. The Type string
// discriminates the variant; variant fields are read from Parameters.
type NodeDoc struct {
	ID             string            `yaml:"id" json:"id"`
	Type           string            `yaml:"type" json:"type"`
	Name           string            `yaml:"name,omitempty" json:"name,omitempty"`
	Description    string            `yaml:"description,omitempty" json:"description,omitempty"`
	TimeoutSeconds float64           `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Retry          *RetryDoc         `yaml:"retry,omitempty" json:"retry,omitempty"`
	SkipOnFailure  bool              `yaml:"skip_on_failure,omitempty" json:"skip_on_failure,omitempty"`
	Parameters     map[string]any    `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	InputMapping   map[string]string `yaml:"input_mapping,omitempty" json:"input_mapping,omitempty"`
	OutputMapping  map[string]string `yaml:"output_mapping,omitempty" json:"output_mapping,omitempty"`
	DependsOn      []string          `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Tags           []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Metadata       map[string]any    `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// RetryDoc is the document form of a retry policy.
type RetryDoc struct {
	Strategy            string   `yaml:"strategy" json:"strategy"`
	MaxAttempts         int      `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	InitialDelaySeconds float64  `yaml:"initial_delay_seconds,omitempty" json:"initial_delay_seconds,omitempty"`
	MaxDelaySeconds     float64  `yaml:"max_delay_seconds,omitempty" json:"max_delay_seconds,omitempty"`
	Multiplier          float64  `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
	RetryOnErrors       []string `yaml:"retry_on_errors,omitempty" json:"retry_on_errors,omitempty"`
}

// EdgeDoc is the document form of an edge. Condition is either a
// compact expression string ("var == value") or a
// {variable, operator, expected} map.
type EdgeDoc struct {
	ID        string         `yaml:"id,omitempty" json:"id,omitempty"`
	From      string         `yaml:"from" json:"from"`
	To        string         `yaml:"to" json:"to"`
	Condition any            `yaml:"condition,omitempty" json:"condition,omitempty"`
	Weight    int            `yaml:"weight,omitempty" json:"weight,omitempty"`
	Metadata  map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}
