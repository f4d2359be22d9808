package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/engine"
	"github.com/BaSui01/flowforge/internal/ctxkeys"
	"github.com/BaSui01/flowforge/persistence"
)

// =============================================================================
// 🚦 执行 Handler
// =============================================================================

// ExecutionHandler 处理执行状态查询与生命周期控制
type ExecutionHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewExecutionHandler 创建执行处理器
func NewExecutionHandler(eng *engine.Engine, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{
		engine: eng,
		logger: logger.With(zap.String("component", "execution_handler")),
	}
}

// HandleList 处理 GET /api/v1/executions
// 支持 workflow_id / status / limit 查询参数。
func (h *ExecutionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := persistence.ListFilter{
		WorkflowID: q.Get("workflow_id"),
		Status:     q.Get("status"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	records, err := h.engine.ListExecutions(r.Context(), filter)
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, records)
}

// HandleStatus 处理 GET /api/v1/executions/{id}
func (h *ExecutionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := ctxkeys.WithExecutionID(r.Context(), id)

	st, err := h.engine.GetExecutionStatus(ctx, id)
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}
	WriteSuccess(w, st)
}

// HandleLog 处理 GET /api/v1/executions/{id}/log
func (h *ExecutionHandler) HandleLog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	entries, err := h.engine.GetExecutionLog(r.Context(), id)
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}
	WriteSuccess(w, entries)
}

// HandleCancel 处理 POST /api/v1/executions/{id}/cancel
func (h *ExecutionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel", h.engine.CancelExecution)
}

// HandlePause 处理 POST /api/v1/executions/{id}/pause
func (h *ExecutionHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "pause", h.engine.PauseExecution)
}

// HandleResume 处理 POST /api/v1/executions/{id}/resume
func (h *ExecutionHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resume", h.engine.ResumeExecution)
}

// HandleMetrics 处理 GET /api/v1/engine/metrics
func (h *ExecutionHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.engine.GetEngineMetrics())
}

// transition 应用一个生命周期操作并统一记录审计日志
func (h *ExecutionHandler) transition(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, string) error) {
	id := r.PathValue("id")
	actor := r.Header.Get("X-Actor")
	ctx := r.Context()
	if actor != "" {
		ctx = ctxkeys.WithActor(ctx, actor)
	}

	if err := fn(ctx, id); err != nil {
		writeAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("execution transition applied",
		zap.String("execution_id", id),
		zap.String("action", action),
		zap.String("actor", actor),
	)
	WriteSuccess(w, map[string]string{"execution_id": id, "action": action})
}
