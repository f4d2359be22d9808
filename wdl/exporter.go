package wdl

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Export converts a Definition into its document form. Nodes are
// emitted in id order so exports are deterministic; edge order is
// preserved. parse(export(d)) reproduces d's node-id set, edge set,
// and variable set.
func Export(def *Definition) *Document {
	doc := &Document{
		WorkflowID:       def.ID,
		Name:             def.Name,
		Description:      def.Description,
		Version:          def.Version,
		Author:           def.Author,
		Tags:             def.Tags,
		MaxParallelNodes: def.MaxParallelNodes,
	}

	if len(def.DefaultVariables) > 0 {
		doc.Variables = make(map[string]any, len(def.DefaultVariables))
		for name, v := range def.DefaultVariables {
			doc.Variables[name] = exportVariable(v)
		}
	}

	ids := make([]string, 0, len(def.Nodes))
	for id := range def.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		doc.Nodes = append(doc.Nodes, nodeToDoc(def.Nodes[id]))
	}

	for _, edge := range def.Edges {
		doc.Edges = append(doc.Edges, edgeToDoc(edge))
	}

	return doc
}

// ToYAML serializes a definition into its YAML document form.
func ToYAML(def *Definition) (string, error) {
	data, err := yaml.Marshal(Export(def))
	if err != nil {
		return "", fmt.Errorf("marshal workflow to YAML: %w", err)
	}
	return string(data), nil
}

// ToJSON serializes a definition into its JSON document form.
func ToJSON(def *Definition) (string, error) {
	data, err := json.MarshalIndent(Export(def), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal workflow to JSON: %w", err)
	}
	return string(data), nil
}

// SaveToFile writes the definition to disk, selecting the format by
// file extension the same way LoadFromFile does.
func SaveToFile(def *Definition, filename string) error {
	var out string
	var err error
	if len(filename) > 5 && filename[len(filename)-5:] == ".json" {
		out, err = ToJSON(def)
	} else {
		out, err = ToYAML(def)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, []byte(out), 0o644)
}

// exportVariable emits a bare literal when the declared type matches
// the inferred one and the variable is not sensitive; the typed map
// form otherwise.
func exportVariable(v Variable) any {
	if !v.Sensitive && (v.Type == "" || v.Type == InferVariableType(v.Value)) {
		return v.Value
	}
	m := map[string]any{
		"type":  string(v.Type),
		"value": v.Value,
	}
	if v.Sensitive {
		m["sensitive"] = true
	}
	return m
}

func nodeToDoc(node *Node) NodeDoc {
	nd := NodeDoc{
		ID:             node.ID,
		Type:           string(node.Type),
		Name:           node.Name,
		Description:    node.Description,
		TimeoutSeconds: durationToSeconds(node.Timeout),
		SkipOnFailure:  node.SkipOnFailure,
		InputMapping:   node.InputMapping,
		OutputMapping:  node.OutputMapping,
		DependsOn:      node.DependsOn,
		Tags:           node.Tags,
		Metadata:       node.Metadata,
	}

	if node.Retry != nil {
		nd.Retry = retryToDoc(node.Retry)
	}

	switch node.Type {
	case NodeTypeAgentSpawn:
		nd.Parameters = agentSpawnParams(node.AgentSpawn)
	case NodeTypeAgentExecute:
		nd.Parameters = agentExecuteParams(node.AgentExecute)
	case NodeTypeCondition:
		nd.Parameters = conditionParams(node.Condition)
	case NodeTypeParallel:
		nd.Parameters = parallelParams(node.Parallel)
	case NodeTypeLoop:
		nd.Parameters = loopParams(node.Loop)
	case NodeTypeMCPCall:
		nd.Parameters = mcpCallParams(node.MCPCall)
	case NodeTypeHumanApproval:
		nd.Parameters = humanApprovalParams(node.HumanApproval)
	}
	return nd
}

func retryToDoc(cfg *RetryConfig) *RetryDoc {
	rd := &RetryDoc{
		Strategy:            string(cfg.Strategy),
		MaxAttempts:         cfg.MaxAttempts,
		InitialDelaySeconds: durationToSeconds(cfg.InitialDelay),
		MaxDelaySeconds:     durationToSeconds(cfg.MaxDelay),
		Multiplier:          cfg.Multiplier,
	}
	for _, code := range cfg.RetryOn {
		rd.RetryOnErrors = append(rd.RetryOnErrors, string(code))
	}
	return rd
}

func edgeToDoc(edge Edge) EdgeDoc {
	ed := EdgeDoc{
		ID:       edge.ID,
		From:     edge.From,
		To:       edge.To,
		Weight:   edge.Weight,
		Metadata: edge.Metadata,
	}
	if edge.Condition != nil {
		ed.Condition = conditionToDoc(*edge.Condition)
	}
	return ed
}

// conditionToDoc emits the mapping form; it is lossless for every
// operator, unlike the compact expression form.
func conditionToDoc(c Condition) map[string]any {
	m := map[string]any{
		"variable": c.Variable,
		"operator": string(c.Operator),
	}
	if c.Expected != nil {
		m["expected"] = c.Expected
	}
	return m
}

// --- Per-variant parameter writers ---

func agentSpawnParams(cfg *AgentSpawnConfig) map[string]any {
	if cfg == nil {
		return nil
	}
	params := map[string]any{
		"agent_type":     cfg.AgentType,
		"spawn_strategy": string(cfg.SpawnStrategy),
	}
	if cfg.Role != "" {
		params["role"] = cfg.Role
	}
	if cfg.Instructions != "" {
		params["instructions"] = cfg.Instructions
	}
	if len(cfg.Tools) > 0 {
		params["tools"] = cfg.Tools
	}
	return params
}

func agentExecuteParams(cfg *AgentExecuteConfig) map[string]any {
	if cfg == nil {
		return nil
	}
	params := map[string]any{
		"task_description": cfg.TaskDescription,
	}
	if cfg.AgentID != "" {
		params["agent_id"] = cfg.AgentID
	}
	if cfg.ExpectedOutcome != "" {
		params["expected_outcome"] = cfg.ExpectedOutcome
	}
	if len(cfg.EvaluationCriteria) > 0 {
		params["evaluation_criteria"] = cfg.EvaluationCriteria
	}
	return params
}

func conditionParams(cfg *ConditionConfig) map[string]any {
	if cfg == nil {
		return nil
	}
	conditions := make([]any, 0, len(cfg.Conditions))
	for _, c := range cfg.Conditions {
		conditions = append(conditions, conditionToDoc(c))
	}
	params := map[string]any{
		"conditions":     conditions,
		"logic_operator": string(cfg.LogicOperator),
	}
	if len(cfg.TruePath) > 0 {
		params["true_path"] = cfg.TruePath
	}
	if len(cfg.FalsePath) > 0 {
		params["false_path"] = cfg.FalsePath
	}
	return params
}

func parallelParams(cfg *ParallelConfig) map[string]any {
	if cfg == nil {
		return nil
	}
	branches := make([]any, 0, len(cfg.Branches))
	for _, branch := range cfg.Branches {
		branches = append(branches, branch)
	}
	params := map[string]any{
		"branches":      branches,
		"join_strategy": string(cfg.JoinStrategy),
	}
	if cfg.MaxConcurrency > 0 {
		params["max_concurrency"] = cfg.MaxConcurrency
	}
	if cfg.BranchTimeout > 0 {
		params["branch_timeout_seconds"] = durationToSeconds(cfg.BranchTimeout)
	}
	return params
}

func loopParams(cfg *LoopConfig) map[string]any {
	if cfg == nil {
		return nil
	}
	params := map[string]any{
		"loop_type": string(cfg.Type),
	}
	if cfg.IterationVariable != "" {
		params["iteration_variable"] = cfg.IterationVariable
	}
	if cfg.MaxIterations > 0 {
		params["max_iterations"] = cfg.MaxIterations
	}
	if len(cfg.Body) > 0 {
		params["loop_body"] = cfg.Body
	}
	switch cfg.Type {
	case LoopTypeFor:
		params["start_value"] = cfg.StartValue
		params["end_value"] = cfg.EndValue
		params["step"] = cfg.Step
	case LoopTypeForEach:
		params["iterable_variable"] = cfg.IterableVariable
	case LoopTypeWhile:
		if cfg.Condition != nil {
			params["condition"] = conditionToDoc(*cfg.Condition)
		}
	}
	return params
}

func mcpCallParams(cfg *MCPCallConfig) map[string]any {
	if cfg == nil {
		return nil
	}
	params := map[string]any{
		"capability_category": cfg.CapabilityCategory,
		"cache_results":       cfg.CacheResults,
	}
	if cfg.ServerSelection != "" {
		params["server_selection"] = cfg.ServerSelection
	}
	if len(cfg.ServiceParameters) > 0 {
		params["service_parameters"] = cfg.ServiceParameters
	}
	if len(cfg.FallbackServers) > 0 {
		params["fallback_servers"] = cfg.FallbackServers
	}
	return params
}

func humanApprovalParams(cfg *HumanApprovalConfig) map[string]any {
	if cfg == nil {
		return nil
	}
	params := map[string]any{
		"approval_message": cfg.Message,
		"default_action":   cfg.DefaultAction,
	}
	if len(cfg.Options) > 0 {
		params["approval_options"] = cfg.Options
	}
	if len(cfg.NotificationChannels) > 0 {
		params["notification_channels"] = cfg.NotificationChannels
	}
	if cfg.Timeout > 0 {
		params["timeout_hours"] = float64(cfg.Timeout) / float64(time.Hour)
	}
	return params
}

func durationToSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
