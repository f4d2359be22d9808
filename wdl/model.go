package wdl

import (
	"time"

	"github.com/BaSui01/flowforge/types"
)

// NodeType discriminates the node variants of a workflow graph.
type NodeType string

const (
	// NodeTypeStart marks a workflow entry point
	NodeTypeStart NodeType = "start"
	// NodeTypeEnd marks a workflow exit point
	NodeTypeEnd NodeType = "end"
	// NodeTypeAgentSpawn creates an agent via the agent runtime
	NodeTypeAgentSpawn NodeType = "agent_spawn"
	// NodeTypeAgentExecute runs a task on a spawned agent
	NodeTypeAgentExecute NodeType = "agent_execute"
	// NodeTypeCondition performs conditional branching
	NodeTypeCondition NodeType = "condition"
	// NodeTypeParallel fans out branches concurrently
	NodeTypeParallel NodeType = "parallel"
	// NodeTypeLoop performs bounded loop iteration
	NodeTypeLoop NodeType = "loop"
	// NodeTypeMCPCall invokes an external service via discovery
	NodeTypeMCPCall NodeType = "mcp_call"
	// NodeTypeHumanApproval suspends the path pending a human decision
	NodeTypeHumanApproval NodeType = "human_approval"
)

// LoopType defines the type of loop.
type LoopType string

const (
	// LoopTypeWhile re-evaluates its condition before each pass
	LoopTypeWhile LoopType = "while"
	// LoopTypeFor iterates start..end by step
	LoopTypeFor LoopType = "for"
	// LoopTypeForEach iterates over a variable holding a collection
	LoopTypeForEach LoopType = "foreach"
)

// JoinStrategy defines how a parallel node reconciles its branches.
type JoinStrategy string

const (
	// JoinWaitAll blocks until every branch completes
	JoinWaitAll JoinStrategy = "wait_all"
	// JoinWaitAny unblocks on the first branch completion
	JoinWaitAny JoinStrategy = "wait_any"
	// JoinWaitFirst unblocks on the first completion and cancels the rest
	JoinWaitFirst JoinStrategy = "wait_first"
	// JoinNoWait fires branches and continues immediately
	JoinNoWait JoinStrategy = "no_wait"
)

// SpawnStrategy controls when an agent_spawn node actually creates the agent.
type SpawnStrategy string

const (
	// SpawnImmediate blocks until the agent is created
	SpawnImmediate SpawnStrategy = "immediate"
	// SpawnLazy defers creation until the agent is first used
	SpawnLazy SpawnStrategy = "lazy"
	// SpawnOnDemand is an alias for lazy creation
	SpawnOnDemand SpawnStrategy = "on_demand"
)

// LogicOperator combines multiple conditions on a condition node.
type LogicOperator string

const (
	LogicAnd LogicOperator = "and"
	LogicOr  LogicOperator = "or"
	LogicXor LogicOperator = "xor"
)

// RetryStrategy selects the delay policy between attempts.
type RetryStrategy string

const (
	RetryNone               RetryStrategy = "none"
	RetryImmediate          RetryStrategy = "immediate"
	RetryExponentialBackoff RetryStrategy = "exponential_backoff"
	RetryLinearBackoff      RetryStrategy = "linear_backoff"
	RetryCustom             RetryStrategy = "custom"
)

// VariableType is the declared type tag of a workflow variable.
type VariableType string

const (
	VariableTypeString  VariableType = "string"
	VariableTypeNumber  VariableType = "number"
	VariableTypeBoolean VariableType = "boolean"
	VariableTypeArray   VariableType = "array"
	VariableTypeObject  VariableType = "object"
)

// RetryConfig defines retry behavior for a node.
type RetryConfig struct {
	Strategy     RetryStrategy
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// RetryOn restricts retries to matching error codes. Empty means
	// every retryable failure qualifies.
	RetryOn []types.ErrorCode
}

// Variable is a named, typed workflow variable.
type Variable struct {
	Name       string
	Value      any
	Type       VariableType
	Sensitive  bool
	SourceNode string
}

// AgentSpawnConfig carries the typed fields of an agent_spawn node.
type AgentSpawnConfig struct {
	AgentType     string
	Role          string
	Instructions  string
	Tools         []string
	SpawnStrategy SpawnStrategy
}

// AgentExecuteConfig carries the typed fields of an agent_execute node.
type AgentExecuteConfig struct {
	// AgentID references a spawned agent. Empty selects the most
	// recently spawned agent in the execution.
	AgentID            string
	TaskDescription    string
	ExpectedOutcome    string
	EvaluationCriteria []string
}

// ConditionConfig carries the typed fields of a condition node.
type ConditionConfig struct {
	Conditions    []Condition
	LogicOperator LogicOperator
	// TruePath and FalsePath are legacy node-id routing lists. Edges
	// gated by conditions are the preferred routing mechanism; path
	// lists are still honored for documents that carry them.
	TruePath  []string
	FalsePath []string
}

// ParallelConfig carries the typed fields of a parallel node.
type ParallelConfig struct {
	// Branches lists the node-id chains to run concurrently.
	Branches       [][]string
	JoinStrategy   JoinStrategy
	MaxConcurrency int
	BranchTimeout  time.Duration
}

// LoopConfig carries the typed fields of a loop node.
type LoopConfig struct {
	Type              LoopType
	IterationVariable string
	MaxIterations     int
	// Body lists the node ids re-executed each pass.
	Body []string
	// For loops: iterate StartValue..EndValue by Step.
	StartValue int
	EndValue   int
	Step       int
	// While loops: re-evaluated before each pass.
	Condition *Condition
	// ForEach loops: the variable holding the collection.
	IterableVariable string
}

// MCPCallConfig carries the typed fields of an mcp_call node.
type MCPCallConfig struct {
	ServerSelection    string
	CapabilityCategory string
	ServiceParameters  map[string]any
	FallbackServers    []string
	CacheResults       bool
}

// HumanApprovalConfig carries the typed fields of a human_approval node.
type HumanApprovalConfig struct {
	Message              string
	Options              []string
	DefaultAction        string
	NotificationChannels []string
	// Timeout after which DefaultAction applies. Zero means the
	// engine default (24h).
	Timeout time.Duration
}

// Node is a single node of a workflow graph. Exactly one of the variant
// config pointers is set for typed variants; start and end nodes carry
// only the common fields.
type Node struct {
	ID          string
	Type        NodeType
	Name        string
	Description string

	Timeout       time.Duration
	Retry         *RetryConfig
	SkipOnFailure bool

	InputMapping  map[string]string
	OutputMapping map[string]string
	// DependsOn lists explicit predecessor ids independent of edges.
	DependsOn []string
	Tags      []string
	Metadata  map[string]any

	AgentSpawn    *AgentSpawnConfig
	AgentExecute  *AgentExecuteConfig
	Condition     *ConditionConfig
	Parallel      *ParallelConfig
	Loop          *LoopConfig
	MCPCall       *MCPCallConfig
	HumanApproval *HumanApprovalConfig
}

// Edge is a directed connection between two nodes, optionally gated by
// a condition evaluated against the execution's variable context.
type Edge struct {
	ID        string
	From      string
	To        string
	Condition *Condition
	// Weight is a tie-break priority hint; higher dispatches first.
	Weight   int
	Metadata map[string]any
}

// Definition is the static, immutable workflow graph. It is created by
// the Builder or Parser and only read by the engine once execution
// begins.
type Definition struct {
	ID          string
	Name        string
	Description string
	Version     string
	Author      string
	Tags        []string

	Nodes            map[string]*Node
	Edges            []Edge
	DefaultVariables map[string]Variable

	// MaxParallelNodes bounds concurrent node dispatch per execution.
	// Zero means the engine default.
	MaxParallelNodes int
}

// GetNode retrieves a node by id.
func (d *Definition) GetNode(id string) (*Node, bool) {
	n, ok := d.Nodes[id]
	return n, ok
}

// NodesOfType returns the ids of all nodes with the given type.
func (d *Definition) NodesOfType(t NodeType) []string {
	var ids []string
	for id, n := range d.Nodes {
		if n.Type == t {
			ids = append(ids, id)
		}
	}
	return ids
}

// StartNodes returns the ids of all start nodes.
func (d *Definition) StartNodes() []string { return d.NodesOfType(NodeTypeStart) }

// EndNodes returns the ids of all end nodes.
func (d *Definition) EndNodes() []string { return d.NodesOfType(NodeTypeEnd) }

// InboundEdges returns the edges whose target is the given node.
func (d *Definition) InboundEdges(nodeID string) []Edge {
	var edges []Edge
	for _, e := range d.Edges {
		if e.To == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// OutboundEdges returns the edges whose source is the given node.
func (d *Definition) OutboundEdges(nodeID string) []Edge {
	var edges []Edge
	for _, e := range d.Edges {
		if e.From == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}
