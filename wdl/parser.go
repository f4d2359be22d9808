package wdl

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowforge/types"
)

// FromYAML parses a YAML workflow document into a Definition. Parsing
// checks document well-formedness only; run Validate on the result for
// structural checks (edge resolution, START/END presence).
func FromYAML(data string) (*Definition, error) {
	var doc Document
	if err := yaml.Unmarshal([]byte(data), &doc); err != nil {
		return nil, types.NewError(types.ErrSyntaxError, "malformed YAML document").WithCause(err)
	}
	return docToDefinition(&doc)
}

// FromJSON parses a JSON workflow document into a Definition.
func FromJSON(data string) (*Definition, error) {
	var doc Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, types.NewError(types.ErrSyntaxError, "malformed JSON document").WithCause(err)
	}
	return docToDefinition(&doc)
}

// LoadFromFile reads a workflow document from disk, selecting the
// format by file extension (.json parses as JSON, everything else as
// YAML).
func LoadFromFile(filename string) (*Definition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	if strings.HasSuffix(filename, ".json") {
		return FromJSON(string(data))
	}
	return FromYAML(string(data))
}

func docToDefinition(doc *Document) (*Definition, error) {
	if doc.Name == "" {
		return nil, types.NewError(types.ErrSyntaxError, "workflow name is required")
	}

	def := &Definition{
		ID:               doc.WorkflowID,
		Name:             doc.Name,
		Description:      doc.Description,
		Version:          doc.Version,
		Author:           doc.Author,
		Tags:             doc.Tags,
		Nodes:            make(map[string]*Node, len(doc.Nodes)),
		DefaultVariables: make(map[string]Variable, len(doc.Variables)),
		MaxParallelNodes: doc.MaxParallelNodes,
	}

	for name, raw := range doc.Variables {
		def.DefaultVariables[name] = parseVariable(name, raw)
	}

	for i, nd := range doc.Nodes {
		node, err := docToNode(&nd)
		if err != nil {
			return nil, types.NewError(types.ErrSyntaxError,
				fmt.Sprintf("node %d (%s): %v", i, nd.ID, err))
		}
		if _, dup := def.Nodes[node.ID]; dup {
			return nil, types.NewError(types.ErrSyntaxError,
				fmt.Sprintf("duplicate node id %q", node.ID))
		}
		def.Nodes[node.ID] = node
	}

	edgeDocs := doc.Edges
	if len(edgeDocs) == 0 {
		edgeDocs = doc.Connections
	}
	for i, ed := range edgeDocs {
		edge, err := docToEdge(&ed)
		if err != nil {
			return nil, types.NewError(types.ErrSyntaxError,
				fmt.Sprintf("edge %d (%s -> %s): %v", i, ed.From, ed.To, err))
		}
		def.Edges = append(def.Edges, edge)
	}

	return def, nil
}

// parseVariable accepts either a bare literal (type inferred from the
// value) or a {type, value, sensitive} map.
func parseVariable(name string, raw any) Variable {
	if m, ok := raw.(map[string]any); ok {
		if value, hasValue := m["value"]; hasValue {
			v := Variable{Name: name, Value: value}
			if t, ok := asString(m["type"]); ok && t != "" {
				v.Type = VariableType(t)
			} else {
				v.Type = InferVariableType(value)
			}
			if s, ok := m["sensitive"].(bool); ok {
				v.Sensitive = s
			}
			return v
		}
	}
	return Variable{Name: name, Value: raw, Type: InferVariableType(raw)}
}

func docToNode(nd *NodeDoc) (*Node, error) {
	if nd.ID == "" {
		return nil, fmt.Errorf("node id is required")
	}
	if nd.Type == "" {
		return nil, fmt.Errorf("node type is required")
	}

	node := &Node{
		ID:            nd.ID,
		Type:          NodeType(nd.Type),
		Name:          nd.Name,
		Description:   nd.Description,
		Timeout:       secondsToDuration(nd.TimeoutSeconds),
		SkipOnFailure: nd.SkipOnFailure,
		InputMapping:  nd.InputMapping,
		OutputMapping: nd.OutputMapping,
		DependsOn:     nd.DependsOn,
		Tags:          nd.Tags,
		Metadata:      nd.Metadata,
	}

	if nd.Retry != nil {
		node.Retry = docToRetry(nd.Retry)
	}

	params := nd.Parameters
	var err error
	switch node.Type {
	case NodeTypeStart, NodeTypeEnd:
		// no variant fields
	case NodeTypeAgentSpawn:
		node.AgentSpawn, err = paramsToAgentSpawn(params)
	case NodeTypeAgentExecute:
		node.AgentExecute, err = paramsToAgentExecute(params)
	case NodeTypeCondition:
		node.Condition, err = paramsToCondition(params)
	case NodeTypeParallel:
		node.Parallel, err = paramsToParallel(params)
	case NodeTypeLoop:
		node.Loop, err = paramsToLoop(params)
	case NodeTypeMCPCall:
		node.MCPCall, err = paramsToMCPCall(params)
	case NodeTypeHumanApproval:
		node.HumanApproval, err = paramsToHumanApproval(params)
	default:
		return nil, fmt.Errorf("unknown node type %q", nd.Type)
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

func docToRetry(rd *RetryDoc) *RetryConfig {
	cfg := &RetryConfig{
		Strategy:     RetryStrategy(rd.Strategy),
		MaxAttempts:  rd.MaxAttempts,
		InitialDelay: secondsToDuration(rd.InitialDelaySeconds),
		MaxDelay:     secondsToDuration(rd.MaxDelaySeconds),
		Multiplier:   rd.Multiplier,
	}
	for _, code := range rd.RetryOnErrors {
		cfg.RetryOn = append(cfg.RetryOn, types.ErrorCode(code))
	}
	return cfg
}

func docToEdge(ed *EdgeDoc) (Edge, error) {
	if ed.From == "" || ed.To == "" {
		return Edge{}, fmt.Errorf("edge requires from and to")
	}
	edge := Edge{
		ID:       ed.ID,
		From:     ed.From,
		To:       ed.To,
		Weight:   ed.Weight,
		Metadata: ed.Metadata,
	}
	if edge.ID == "" {
		edge.ID = fmt.Sprintf("edge_%s_%s", ed.From, ed.To)
	}
	if ed.Condition != nil {
		cond, err := parseConditionValue(ed.Condition)
		if err != nil {
			return Edge{}, err
		}
		edge.Condition = cond
	}
	return edge, nil
}

// parseConditionValue accepts a compact expression string or a
// {variable, operator, expected} map.
func parseConditionValue(raw any) (*Condition, error) {
	switch v := raw.(type) {
	case string:
		return ParseConditionExpr(v)
	case map[string]any:
		variable, _ := asString(v["variable"])
		if variable == "" {
			return nil, fmt.Errorf("condition requires a variable")
		}
		operator, _ := asString(v["operator"])
		if operator == "" {
			operator = string(OpEquals)
		}
		return &Condition{
			Variable: variable,
			Operator: ConditionOperator(operator),
			Expected: v["expected"],
		}, nil
	}
	return nil, fmt.Errorf("condition must be a string expression or a mapping, got %T", raw)
}

// --- Per-variant parameter readers ---
//
// Each reader consumes the exact flat key set the exporter emits for
// the variant.

func paramsToAgentSpawn(params map[string]any) (*AgentSpawnConfig, error) {
	cfg := &AgentSpawnConfig{SpawnStrategy: SpawnImmediate}
	if v, ok := asString(params["agent_type"]); ok {
		cfg.AgentType = v
	}
	if v, ok := asString(params["role"]); ok {
		cfg.Role = v
	}
	if v, ok := asString(params["instructions"]); ok {
		cfg.Instructions = v
	}
	cfg.Tools = asStringSlice(params["tools"])
	if v, ok := asString(params["spawn_strategy"]); ok && v != "" {
		cfg.SpawnStrategy = SpawnStrategy(v)
	}
	return cfg, nil
}

func paramsToAgentExecute(params map[string]any) (*AgentExecuteConfig, error) {
	cfg := &AgentExecuteConfig{}
	if v, ok := asString(params["agent_id"]); ok {
		cfg.AgentID = v
	}
	if v, ok := asString(params["task_description"]); ok {
		cfg.TaskDescription = v
	}
	if v, ok := asString(params["expected_outcome"]); ok {
		cfg.ExpectedOutcome = v
	}
	cfg.EvaluationCriteria = asStringSlice(params["evaluation_criteria"])
	return cfg, nil
}

func paramsToCondition(params map[string]any) (*ConditionConfig, error) {
	cfg := &ConditionConfig{LogicOperator: LogicAnd}
	if v, ok := asString(params["logic_operator"]); ok && v != "" {
		cfg.LogicOperator = LogicOperator(v)
	}
	if raw, ok := params["conditions"]; ok {
		list, isList := raw.([]any)
		if !isList {
			return nil, fmt.Errorf("conditions must be a list")
		}
		for i, item := range list {
			cond, err := parseConditionValue(item)
			if err != nil {
				return nil, fmt.Errorf("condition %d: %w", i, err)
			}
			cfg.Conditions = append(cfg.Conditions, *cond)
		}
	}
	cfg.TruePath = asStringSlice(params["true_path"])
	cfg.FalsePath = asStringSlice(params["false_path"])
	return cfg, nil
}

func paramsToParallel(params map[string]any) (*ParallelConfig, error) {
	cfg := &ParallelConfig{JoinStrategy: JoinWaitAll}
	if v, ok := asString(params["join_strategy"]); ok && v != "" {
		cfg.JoinStrategy = JoinStrategy(v)
	}
	cfg.MaxConcurrency = asInt(params["max_concurrency"])
	cfg.BranchTimeout = secondsToDuration(asFloat(params["branch_timeout_seconds"]))
	if raw, ok := params["branches"]; ok {
		list, isList := raw.([]any)
		if !isList {
			return nil, fmt.Errorf("branches must be a list of node-id lists")
		}
		for _, item := range list {
			cfg.Branches = append(cfg.Branches, asStringSlice(item))
		}
	}
	return cfg, nil
}

func paramsToLoop(params map[string]any) (*LoopConfig, error) {
	cfg := &LoopConfig{}
	if v, ok := asString(params["loop_type"]); ok {
		cfg.Type = LoopType(v)
	}
	if cfg.Type == "" {
		return nil, fmt.Errorf("loop_type is required")
	}
	if v, ok := asString(params["iteration_variable"]); ok {
		cfg.IterationVariable = v
	}
	cfg.MaxIterations = asInt(params["max_iterations"])
	cfg.Body = asStringSlice(params["loop_body"])
	cfg.StartValue = asInt(params["start_value"])
	cfg.EndValue = asInt(params["end_value"])
	cfg.Step = asInt(params["step"])
	if cfg.Type == LoopTypeFor && cfg.Step == 0 {
		cfg.Step = 1
	}
	if v, ok := asString(params["iterable_variable"]); ok {
		cfg.IterableVariable = v
	}
	if raw, ok := params["condition"]; ok && raw != nil {
		cond, err := parseConditionValue(raw)
		if err != nil {
			return nil, err
		}
		cfg.Condition = cond
	}
	return cfg, nil
}

func paramsToMCPCall(params map[string]any) (*MCPCallConfig, error) {
	cfg := &MCPCallConfig{}
	if v, ok := asString(params["server_selection"]); ok {
		cfg.ServerSelection = v
	}
	if v, ok := asString(params["capability_category"]); ok {
		cfg.CapabilityCategory = v
	}
	if m, ok := params["service_parameters"].(map[string]any); ok {
		cfg.ServiceParameters = m
	}
	cfg.FallbackServers = asStringSlice(params["fallback_servers"])
	if v, ok := params["cache_results"].(bool); ok {
		cfg.CacheResults = v
	}
	return cfg, nil
}

func paramsToHumanApproval(params map[string]any) (*HumanApprovalConfig, error) {
	cfg := &HumanApprovalConfig{Timeout: 24 * time.Hour}
	if v, ok := asString(params["approval_message"]); ok {
		cfg.Message = v
	}
	cfg.Options = asStringSlice(params["approval_options"])
	if v, ok := asString(params["default_action"]); ok {
		cfg.DefaultAction = v
	}
	cfg.NotificationChannels = asStringSlice(params["notification_channels"])
	if hours := asFloat(params["timeout_hours"]); hours > 0 {
		cfg.Timeout = time.Duration(hours * float64(time.Hour))
	}
	return cfg, nil
}

// --- Coercion helpers ---
//
// YAML and JSON decoding produce any-typed scalars and []any slices;
// these helpers normalize them.

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asStringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	}
	return nil
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
