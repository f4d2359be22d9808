package wdl

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/types"
)

// Builder provides a fluent API for constructing workflow definitions.
// Node ids are auto-generated as <prefix>_<counter> when omitted.
// Build validates the accumulated graph and fails atomically: no
// partial definition is ever returned.
type Builder struct {
	def     *Definition
	counter int
	logger  *zap.Logger
}

// NewBuilder creates a builder for a workflow with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		def: &Definition{
			Name:             name,
			Nodes:            make(map[string]*Node),
			DefaultVariables: make(map[string]Variable),
		},
		logger: zap.NewNop(),
	}
}

// WithLogger sets a custom logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger.With(zap.String("component", "wdl_builder"))
	return b
}

// WithDescription sets the workflow description.
func (b *Builder) WithDescription(desc string) *Builder {
	b.def.Description = desc
	return b
}

// WithVersion sets the workflow version.
func (b *Builder) WithVersion(version string) *Builder {
	b.def.Version = version
	return b
}

// WithAuthor sets the workflow author.
func (b *Builder) WithAuthor(author string) *Builder {
	b.def.Author = author
	return b
}

// WithMaxParallelNodes bounds concurrent node dispatch per execution.
func (b *Builder) WithMaxParallelNodes(n int) *Builder {
	b.def.MaxParallelNodes = n
	return b
}

// nextID generates an id as <prefix>_<counter>.
func (b *Builder) nextID(prefix string) string {
	b.counter++
	return fmt.Sprintf("%s_%d", prefix, b.counter)
}

func (b *Builder) addNode(id string, nodeType NodeType) *NodeBuilder {
	if id == "" {
		id = b.nextID(string(nodeType))
	}
	node := &Node{ID: id, Type: nodeType}
	b.def.Nodes[id] = node
	return &NodeBuilder{node: node, parent: b}
}

// AddStart adds a start node.
func (b *Builder) AddStart(id string) *NodeBuilder {
	return b.addNode(id, NodeTypeStart)
}

// AddEnd adds an end node.
func (b *Builder) AddEnd(id string) *NodeBuilder {
	return b.addNode(id, NodeTypeEnd)
}

// SpawnAgent adds an agent_spawn node.
func (b *Builder) SpawnAgent(id string, cfg AgentSpawnConfig) *NodeBuilder {
	if cfg.SpawnStrategy == "" {
		cfg.SpawnStrategy = SpawnImmediate
	}
	nb := b.addNode(id, NodeTypeAgentSpawn)
	nb.node.AgentSpawn = &cfg
	return nb
}

// ExecuteAgent adds an agent_execute node.
func (b *Builder) ExecuteAgent(id string, cfg AgentExecuteConfig) *NodeBuilder {
	nb := b.addNode(id, NodeTypeAgentExecute)
	nb.node.AgentExecute = &cfg
	return nb
}

// AddCondition adds a condition node.
func (b *Builder) AddCondition(id string, cfg ConditionConfig) *NodeBuilder {
	if cfg.LogicOperator == "" {
		cfg.LogicOperator = LogicAnd
	}
	nb := b.addNode(id, NodeTypeCondition)
	nb.node.Condition = &cfg
	return nb
}

// AddParallel adds a parallel node.
func (b *Builder) AddParallel(id string, cfg ParallelConfig) *NodeBuilder {
	if cfg.JoinStrategy == "" {
		cfg.JoinStrategy = JoinWaitAll
	}
	nb := b.addNode(id, NodeTypeParallel)
	nb.node.Parallel = &cfg
	return nb
}

// AddLoop adds a loop node.
func (b *Builder) AddLoop(id string, cfg LoopConfig) *NodeBuilder {
	if cfg.Type == LoopTypeFor && cfg.Step == 0 {
		cfg.Step = 1
	}
	nb := b.addNode(id, NodeTypeLoop)
	nb.node.Loop = &cfg
	return nb
}

// CallMCP adds an mcp_call node.
func (b *Builder) CallMCP(id string, cfg MCPCallConfig) *NodeBuilder {
	nb := b.addNode(id, NodeTypeMCPCall)
	nb.node.MCPCall = &cfg
	return nb
}

// AddHumanApproval adds a human_approval node.
func (b *Builder) AddHumanApproval(id string, cfg HumanApprovalConfig) *NodeBuilder {
	if cfg.Timeout == 0 {
		cfg.Timeout = 24 * time.Hour
	}
	nb := b.addNode(id, NodeTypeHumanApproval)
	nb.node.HumanApproval = &cfg
	return nb
}

// Connect adds an edge from one node to another, optionally gated by a
// condition.
func (b *Builder) Connect(from, to string, condition ...*Condition) *Builder {
	edge := Edge{
		ID:   fmt.Sprintf("edge_%s_%s", from, to),
		From: from,
		To:   to,
	}
	if len(condition) > 0 {
		edge.Condition = condition[0]
	}
	b.def.Edges = append(b.def.Edges, edge)
	return b
}

// ConnectWeighted adds an edge with a dispatch-priority weight.
func (b *Builder) ConnectWeighted(from, to string, weight int, condition ...*Condition) *Builder {
	b.Connect(from, to, condition...)
	b.def.Edges[len(b.def.Edges)-1].Weight = weight
	return b
}

// SetVariable declares a default workflow variable. The type tag is
// inferred from the value when not declared explicitly via
// SetTypedVariable.
func (b *Builder) SetVariable(name string, value any) *Builder {
	b.def.DefaultVariables[name] = Variable{
		Name:  name,
		Value: value,
		Type:  InferVariableType(value),
	}
	return b
}

// SetTypedVariable declares a default variable with an explicit type
// tag and sensitivity flag.
func (b *Builder) SetTypedVariable(v Variable) *Builder {
	b.def.DefaultVariables[v.Name] = v
	return b
}

// Build assigns a definition id if absent, validates the graph, and
// returns the definition. If any problem exists, construction aborts
// with a syntax error carrying the full problem list.
func (b *Builder) Build() (*Definition, error) {
	if b.def.ID == "" {
		b.def.ID = uuid.NewString()
	}

	if problems := Validate(b.def); len(problems) > 0 {
		b.logger.Warn("workflow build rejected",
			zap.String("name", b.def.Name),
			zap.Strings("problems", problems),
		)
		return nil, types.NewError(types.ErrSyntaxError,
			fmt.Sprintf("workflow %q failed validation with %d problem(s)", b.def.Name, len(problems))).
			WithProblems(problems)
	}

	b.logger.Info("workflow built",
		zap.String("id", b.def.ID),
		zap.String("name", b.def.Name),
		zap.Int("nodes", len(b.def.Nodes)),
		zap.Int("edges", len(b.def.Edges)),
	)
	return b.def, nil
}

// NodeBuilder configures an individual node before returning to the
// workflow builder via Done.
type NodeBuilder struct {
	node   *Node
	parent *Builder
}

// ID returns the id assigned to the node under construction.
func (nb *NodeBuilder) ID() string { return nb.node.ID }

// WithName sets the display name.
func (nb *NodeBuilder) WithName(name string) *NodeBuilder {
	nb.node.Name = name
	return nb
}

// WithDescription sets the node description.
func (nb *NodeBuilder) WithDescription(desc string) *NodeBuilder {
	nb.node.Description = desc
	return nb
}

// WithTimeout sets the per-node execution timeout.
func (nb *NodeBuilder) WithTimeout(timeout time.Duration) *NodeBuilder {
	nb.node.Timeout = timeout
	return nb
}

// WithRetry sets the node retry policy.
func (nb *NodeBuilder) WithRetry(cfg RetryConfig) *NodeBuilder {
	nb.node.Retry = &cfg
	return nb
}

// WithSkipOnFailure records the node as failed after exhausted retries
// without blocking dependents.
func (nb *NodeBuilder) WithSkipOnFailure() *NodeBuilder {
	nb.node.SkipOnFailure = true
	return nb
}

// WithDependsOn adds explicit predecessor ids independent of edges.
func (nb *NodeBuilder) WithDependsOn(ids ...string) *NodeBuilder {
	nb.node.DependsOn = append(nb.node.DependsOn, ids...)
	return nb
}

// WithInputMapping maps workflow variables to node inputs.
func (nb *NodeBuilder) WithInputMapping(mapping map[string]string) *NodeBuilder {
	nb.node.InputMapping = mapping
	return nb
}

// WithOutputMapping maps node outputs to workflow variables.
func (nb *NodeBuilder) WithOutputMapping(mapping map[string]string) *NodeBuilder {
	nb.node.OutputMapping = mapping
	return nb
}

// WithTags attaches tags to the node.
func (nb *NodeBuilder) WithTags(tags ...string) *NodeBuilder {
	nb.node.Tags = append(nb.node.Tags, tags...)
	return nb
}

// WithMetadata sets a metadata value.
func (nb *NodeBuilder) WithMetadata(key string, value any) *NodeBuilder {
	if nb.node.Metadata == nil {
		nb.node.Metadata = make(map[string]any)
	}
	nb.node.Metadata[key] = value
	return nb
}

// Done completes node configuration and returns the workflow builder.
func (nb *NodeBuilder) Done() *Builder {
	return nb.parent
}

// InferVariableType derives a variable type tag from a literal value.
func InferVariableType(value any) VariableType {
	switch value.(type) {
	case bool:
		return VariableTypeBoolean
	case int, int32, int64, float32, float64:
		return VariableTypeNumber
	case []any, []string:
		return VariableTypeArray
	case map[string]any:
		return VariableTypeObject
	default:
		return VariableTypeString
	}
}
