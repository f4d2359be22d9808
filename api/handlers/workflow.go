package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/api"
	"github.com/BaSui01/flowforge/engine"
	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/wdl"
)

// =============================================================================
// 🧩 工作流 Handler
// =============================================================================

// WorkflowHandler 处理工作流文档的提交与校验
type WorkflowHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(eng *engine.Engine, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		engine: eng,
		logger: logger.With(zap.String("component", "workflow_handler")),
	}
}

// decodeDefinition 接受 YAML 或 JSON 两种文档形式，拒绝同时提供
func decodeDefinition(workflowYAML string, definition []byte) (*wdl.Definition, *types.Error) {
	switch {
	case workflowYAML != "" && len(definition) > 0:
		return nil, types.NewError(types.ErrSyntaxError,
			"provide either workflow_yaml or definition, not both")
	case workflowYAML != "":
		def, err := wdl.FromYAML(workflowYAML)
		if err != nil {
			if apiErr, ok := err.(*types.Error); ok {
				return nil, apiErr
			}
			return nil, types.NewError(types.ErrSyntaxError, err.Error())
		}
		return def, nil
	case len(definition) > 0:
		def, err := wdl.FromJSON(string(definition))
		if err != nil {
			if apiErr, ok := err.(*types.Error); ok {
				return nil, apiErr
			}
			return nil, types.NewError(types.ErrSyntaxError, err.Error())
		}
		return def, nil
	default:
		return nil, types.NewError(types.ErrSyntaxError,
			"workflow_yaml or definition is required")
	}
}

// HandleExecute 处理 POST /api/v1/workflows/execute
// @Summary 提交工作流执行
// @Description 解析工作流文档并异步启动执行，立即返回执行 ID
// @Tags 工作流
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=api.ExecuteWorkflowResponse}
// @Failure 400 {object} Response "文档语法或结构错误"
// @Router /api/v1/workflows/execute [post]
func (h *WorkflowHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req api.ExecuteWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	def, apiErr := decodeDefinition(req.WorkflowYAML, req.Definition)
	if apiErr != nil {
		WriteError(w, apiErr, h.logger)
		return
	}

	id, err := h.engine.ExecuteWorkflow(r.Context(), def, req.Variables)
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("workflow submitted",
		zap.String("execution_id", id),
		zap.String("workflow", def.Name),
	)
	WriteSuccess(w, api.ExecuteWorkflowResponse{ExecutionID: id})
}

// HandleValidate 处理 POST /api/v1/workflows/validate
// @Summary 校验工作流文档
// @Description 解析并结构校验工作流文档，不执行
// @Tags 工作流
// @Accept json
// @Produce json
// @Success 200 {object} Response{data=api.ValidateWorkflowResponse}
// @Router /api/v1/workflows/validate [post]
func (h *WorkflowHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req api.ValidateWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	def, apiErr := decodeDefinition(req.WorkflowYAML, req.Definition)
	if apiErr != nil {
		// 语法错误也作为校验结果返回，而不是 4xx
		WriteSuccess(w, api.ValidateWorkflowResponse{
			Valid:    false,
			Problems: append([]string{apiErr.Message}, apiErr.Problems...),
		})
		return
	}

	problems := wdl.Validate(def)
	WriteSuccess(w, api.ValidateWorkflowResponse{
		Valid:    len(problems) == 0,
		Problems: problems,
	})
}
