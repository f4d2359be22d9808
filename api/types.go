package api

import "encoding/json"

// =============================================================================
// 📋 请求/响应 DTO
// =============================================================================

// ExecuteWorkflowRequest submits a workflow document for execution.
// Exactly one of WorkflowYAML or Definition must be set.
type ExecuteWorkflowRequest struct {
	// WorkflowYAML is a complete workflow document in YAML form.
	WorkflowYAML string `json:"workflow_yaml,omitempty"`
	// Definition is a complete workflow document in JSON form.
	Definition json.RawMessage `json:"definition,omitempty"`
	// Variables seed the execution's variable context, overriding
	// workflow defaults.
	Variables map[string]any `json:"variables,omitempty"`
}

// ExecuteWorkflowResponse carries the id of the started execution.
type ExecuteWorkflowResponse struct {
	ExecutionID string `json:"execution_id"`
}

// ValidateWorkflowRequest checks a workflow document without running it.
type ValidateWorkflowRequest struct {
	WorkflowYAML string          `json:"workflow_yaml,omitempty"`
	Definition   json.RawMessage `json:"definition,omitempty"`
}

// ValidateWorkflowResponse lists every structural problem found.
type ValidateWorkflowResponse struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// ResolveApprovalRequest submits a human decision for a pending approval.
type ResolveApprovalRequest struct {
	Option    string `json:"option"`
	DecidedBy string `json:"decided_by,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// InstantiateTemplateRequest materializes a template with parameters.
type InstantiateTemplateRequest struct {
	Parameters map[string]any `json:"parameters,omitempty"`
}

// InstantiateTemplateResponse returns the generated workflow document
// in both textual forms.
type InstantiateTemplateResponse struct {
	WorkflowYAML string          `json:"workflow_yaml"`
	Definition   json.RawMessage `json:"definition"`
}

// TemplateInfo describes one registered template.
type TemplateInfo struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Description string                   `json:"description"`
	Parameters  map[string]TemplateParam `json:"parameters"`
}

// TemplateParam describes one template parameter.
type TemplateParam struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}
