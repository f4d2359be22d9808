package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/api"
	"github.com/BaSui01/flowforge/engine"
	"github.com/BaSui01/flowforge/internal/ctxkeys"
	"github.com/BaSui01/flowforge/types"
)

// =============================================================================
// ✅ 审批 Handler
// =============================================================================

// ApprovalHandler 处理人工审批的查询与决定提交
type ApprovalHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewApprovalHandler 创建审批处理器
func NewApprovalHandler(eng *engine.Engine, logger *zap.Logger) *ApprovalHandler {
	return &ApprovalHandler{
		engine: eng,
		logger: logger.With(zap.String("component", "approval_handler")),
	}
}

// HandleList 处理 GET /api/v1/approvals
// 可选 execution_id 查询参数过滤。
func (h *ApprovalHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	executionID := r.URL.Query().Get("execution_id")
	WriteSuccess(w, h.engine.PendingApprovals(executionID))
}

// HandleResolve 处理 POST /api/v1/approvals/{id}/resolve
// 决定人优先取请求体的 decided_by，其次 X-Actor 头。
func (h *ApprovalHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req api.ResolveApprovalRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Option == "" {
		WriteError(w, types.NewError(types.ErrSyntaxError, "option is required"), h.logger)
		return
	}

	ctx := r.Context()
	decidedBy := req.DecidedBy
	if decidedBy == "" {
		decidedBy = r.Header.Get("X-Actor")
	}
	if decidedBy != "" {
		ctx = ctxkeys.WithActor(ctx, decidedBy)
	}

	decision := engine.Decision{
		Option:    req.Option,
		DecidedBy: decidedBy,
		Comment:   req.Comment,
	}
	if err := h.engine.ResolveApproval(ctx, id, decision); err != nil {
		writeAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("approval resolved",
		zap.String("approval_id", id),
		zap.String("option", req.Option),
		zap.String("decided_by", decidedBy),
	)
	WriteSuccess(w, map[string]string{"approval_id": id, "option": req.Option})
}
