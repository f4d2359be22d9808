package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/api"
	"github.com/BaSui01/flowforge/templates"
	"github.com/BaSui01/flowforge/wdl"
)

// =============================================================================
// 📐 模板 Handler
// =============================================================================

// TemplateHandler 处理模板库的浏览与实例化
type TemplateHandler struct {
	registry *templates.Registry
	logger   *zap.Logger
}

// NewTemplateHandler 创建模板处理器
func NewTemplateHandler(registry *templates.Registry, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{
		registry: registry,
		logger:   logger.With(zap.String("component", "template_handler")),
	}
}

// HandleList 处理 GET /api/v1/templates
func (h *TemplateHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list := h.registry.List()
	out := make([]api.TemplateInfo, 0, len(list))
	for _, t := range list {
		info := api.TemplateInfo{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Parameters:  make(map[string]api.TemplateParam, len(t.Parameters)),
		}
		for name, spec := range t.Parameters {
			info.Parameters[name] = api.TemplateParam{
				Type:        string(spec.Type),
				Required:    spec.Required,
				Default:     spec.Default,
				Description: spec.Description,
			}
		}
		out = append(out, info)
	}
	WriteSuccess(w, out)
}

// HandleInstantiate 处理 POST /api/v1/templates/{id}/instantiate
// 返回生成的工作流文档（YAML 与 JSON 双形式）。
func (h *TemplateHandler) HandleInstantiate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req api.InstantiateTemplateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	def, err := h.registry.Instantiate(id, req.Parameters)
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}

	yamlDoc, err := wdl.ToYAML(def)
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}
	jsonDoc, err := wdl.ToJSON(def)
	if err != nil {
		writeAnyError(w, err, h.logger)
		return
	}

	h.logger.Info("template instantiated", zap.String("template_id", id))
	WriteSuccess(w, api.InstantiateTemplateResponse{
		WorkflowYAML: yamlDoc,
		Definition:   json.RawMessage(jsonDoc),
	})
}
