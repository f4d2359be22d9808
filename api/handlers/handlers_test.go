package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/api"
	"github.com/BaSui01/flowforge/config"
	"github.com/BaSui01/flowforge/engine"
	"github.com/BaSui01/flowforge/templates"
	"github.com/BaSui01/flowforge/wdl"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	return engine.New(config.Default().Engine,
		engine.WithLogger(zap.NewNop()),
		engine.WithMetrics(prometheus.NewRegistry()),
	)
}

func linearYAML(t *testing.T) string {
	t.Helper()
	def, err := wdl.NewBuilder("linear").
		AddStart("start").Done().
		SpawnAgent("spawn", wdl.AgentSpawnConfig{
			AgentType: "worker",
			Role:      "analyst",
		}).Done().
		ExecuteAgent("work", wdl.AgentExecuteConfig{
			AgentID:         "spawn",
			TaskDescription: "summarize findings",
		}).WithOutputMapping(map[string]string{"result": "summary"}).Done().
		AddEnd("end").Done().
		Connect("start", "spawn").
		Connect("spawn", "work").
		Connect("work", "end").
		Build()
	require.NoError(t, err)

	doc, err := wdl.ToYAML(def)
	require.NoError(t, err)
	return doc
}

func postJSON(t *testing.T, target string, body any) *http.Request {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(buf))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// decodeData 解包统一响应信封中的 data 字段
func decodeData(t *testing.T, w *httptest.ResponseRecorder, out any) *Response {
	t.Helper()
	var resp struct {
		Success   bool            `json:"success"`
		Data      json.RawMessage `json:"data"`
		Error     *ErrorInfo      `json:"error"`
		Timestamp time.Time       `json:"timestamp"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	if out != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, out))
	}
	return &Response{Success: resp.Success, Error: resp.Error, Timestamp: resp.Timestamp}
}

// submitAndWait 通过 HTTP 提交一个工作流并等待其进入终态
func submitAndWait(t *testing.T, eng *engine.Engine, wf *WorkflowHandler, yamlDoc string) string {
	t.Helper()

	w := httptest.NewRecorder()
	wf.HandleExecute(w, postJSON(t, "/api/v1/workflows/execute", api.ExecuteWorkflowRequest{
		WorkflowYAML: yamlDoc,
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out api.ExecuteWorkflowResponse
	decodeData(t, w, &out)
	require.NotEmpty(t, out.ExecutionID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := eng.Wait(ctx, out.ExecutionID)
	require.NoError(t, err)
	return out.ExecutionID
}

// =============================================================================
// 🧪 WorkflowHandler 测试
// =============================================================================

func TestWorkflowHandler_HandleExecute(t *testing.T) {
	eng := testEngine(t)
	h := NewWorkflowHandler(eng, zap.NewNop())

	id := submitAndWait(t, eng, h, linearYAML(t))

	st, err := eng.GetExecutionStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, engine.ExecutionCompleted, st.Status)
}

func TestWorkflowHandler_HandleExecute_BadRequests(t *testing.T) {
	h := NewWorkflowHandler(testEngine(t), zap.NewNop())

	tests := []struct {
		name string
		req  api.ExecuteWorkflowRequest
	}{
		{
			name: "empty request",
			req:  api.ExecuteWorkflowRequest{},
		},
		{
			name: "both document forms",
			req: api.ExecuteWorkflowRequest{
				WorkflowYAML: "name: x",
				Definition:   json.RawMessage(`{"name":"x"}`),
			},
		},
		{
			name: "malformed yaml",
			req:  api.ExecuteWorkflowRequest{WorkflowYAML: "::: not yaml"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.HandleExecute(w, postJSON(t, "/api/v1/workflows/execute", tt.req))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeData(t, w, nil)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.NotEmpty(t, resp.Error.Code)
		})
	}
}

func TestWorkflowHandler_HandleExecute_ValidationRejected(t *testing.T) {
	h := NewWorkflowHandler(testEngine(t), zap.NewNop())

	// 结构不完整：只有一个 start 节点，没有 end。
	def, err := wdl.NewBuilder("incomplete").
		AddStart("start").Done().
		Build()
	require.NoError(t, err)
	doc, err := wdl.ToYAML(def)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.HandleExecute(w, postJSON(t, "/api/v1/workflows/execute", api.ExecuteWorkflowRequest{
		WorkflowYAML: doc,
	}))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeData(t, w, nil)
	require.NotNil(t, resp.Error)
	assert.NotEmpty(t, resp.Error.Problems)
}

func TestWorkflowHandler_HandleValidate(t *testing.T) {
	h := NewWorkflowHandler(testEngine(t), zap.NewNop())

	t.Run("valid document", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleValidate(w, postJSON(t, "/api/v1/workflows/validate", api.ValidateWorkflowRequest{
			WorkflowYAML: linearYAML(t),
		}))

		assert.Equal(t, http.StatusOK, w.Code)
		var out api.ValidateWorkflowResponse
		decodeData(t, w, &out)
		assert.True(t, out.Valid)
		assert.Empty(t, out.Problems)
	})

	t.Run("structural problems reported, not rejected", func(t *testing.T) {
		def, err := wdl.NewBuilder("incomplete").
			AddStart("start").Done().
			Build()
		require.NoError(t, err)
		doc, err := wdl.ToYAML(def)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		h.HandleValidate(w, postJSON(t, "/api/v1/workflows/validate", api.ValidateWorkflowRequest{
			WorkflowYAML: doc,
		}))

		assert.Equal(t, http.StatusOK, w.Code)
		var out api.ValidateWorkflowResponse
		decodeData(t, w, &out)
		assert.False(t, out.Valid)
		assert.NotEmpty(t, out.Problems)
	})

	t.Run("syntax errors reported as problems", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.HandleValidate(w, postJSON(t, "/api/v1/workflows/validate", api.ValidateWorkflowRequest{
			WorkflowYAML: "nodes: [unclosed",
		}))

		assert.Equal(t, http.StatusOK, w.Code)
		var out api.ValidateWorkflowResponse
		decodeData(t, w, &out)
		assert.False(t, out.Valid)
		assert.NotEmpty(t, out.Problems)
	})
}

// =============================================================================
// 🧪 ExecutionHandler 测试
// =============================================================================

func TestExecutionHandler_HandleStatus(t *testing.T) {
	eng := testEngine(t)
	wf := NewWorkflowHandler(eng, zap.NewNop())
	h := NewExecutionHandler(eng, zap.NewNop())

	id := submitAndWait(t, eng, wf, linearYAML(t))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/executions/"+id, nil)
	r.SetPathValue("id", id)
	h.HandleStatus(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	var st engine.Status
	decodeData(t, w, &st)
	assert.Equal(t, id, st.ExecutionID)
	assert.Equal(t, engine.ExecutionCompleted, st.Status)
	assert.InDelta(t, 100.0, st.Progress, 0.001)
}

func TestExecutionHandler_HandleStatus_NotFound(t *testing.T) {
	h := NewExecutionHandler(testEngine(t), zap.NewNop())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/executions/missing", nil)
	r.SetPathValue("id", "missing")
	h.HandleStatus(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeData(t, w, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "EXECUTION_NOT_FOUND", resp.Error.Code)
}

func TestExecutionHandler_HandleLog(t *testing.T) {
	eng := testEngine(t)
	wf := NewWorkflowHandler(eng, zap.NewNop())
	h := NewExecutionHandler(eng, zap.NewNop())

	id := submitAndWait(t, eng, wf, linearYAML(t))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/executions/"+id+"/log", nil)
	r.SetPathValue("id", id)
	h.HandleLog(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	var entries []map[string]any
	decodeData(t, w, &entries)
	require.NotEmpty(t, entries)

	// limit 截取日志尾部
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/api/v1/executions/"+id+"/log?limit=1", nil)
	r.SetPathValue("id", id)
	h.HandleLog(w, r)

	var tail []map[string]any
	decodeData(t, w, &tail)
	assert.Len(t, tail, 1)
}

func TestExecutionHandler_HandleList(t *testing.T) {
	eng := testEngine(t)
	wf := NewWorkflowHandler(eng, zap.NewNop())
	h := NewExecutionHandler(eng, zap.NewNop())

	doc := linearYAML(t)
	id := submitAndWait(t, eng, wf, doc)
	submitAndWait(t, eng, wf, doc)

	st, err := eng.GetExecutionStatus(context.Background(), id)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet, "/api/v1/executions", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var records []map[string]any
	decodeData(t, w, &records)
	assert.Len(t, records, 2)

	// 同一文档的两次执行共享 workflow_id
	w = httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet,
		"/api/v1/executions?workflow_id="+st.WorkflowID, nil))
	var filtered []map[string]any
	decodeData(t, w, &filtered)
	assert.Len(t, filtered, 2)

	w = httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet, "/api/v1/executions?limit=1", nil))
	var limited []map[string]any
	decodeData(t, w, &limited)
	assert.Len(t, limited, 1)
}

func TestExecutionHandler_Transitions_NotFound(t *testing.T) {
	h := NewExecutionHandler(testEngine(t), zap.NewNop())

	handlers := map[string]http.HandlerFunc{
		"cancel": h.HandleCancel,
		"pause":  h.HandlePause,
		"resume": h.HandleResume,
	}

	for action, fn := range handlers {
		t.Run(action, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/v1/executions/missing/"+action, nil)
			r.SetPathValue("id", "missing")
			r.Header.Set("X-Actor", "operator-1")
			fn(w, r)

			assert.Equal(t, http.StatusNotFound, w.Code)
		})
	}
}

func TestExecutionHandler_HandleMetrics(t *testing.T) {
	eng := testEngine(t)
	wf := NewWorkflowHandler(eng, zap.NewNop())
	h := NewExecutionHandler(eng, zap.NewNop())

	submitAndWait(t, eng, wf, linearYAML(t))

	w := httptest.NewRecorder()
	h.HandleMetrics(w, httptest.NewRequest(http.MethodGet, "/api/v1/engine/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var metrics engine.EngineMetrics
	decodeData(t, w, &metrics)
	assert.Equal(t, int64(1), metrics.ExecutionsStarted)
	assert.Equal(t, int64(1), metrics.ExecutionsCompleted)
}

// =============================================================================
// 🧪 ApprovalHandler 测试
// =============================================================================

func gatedYAML(t *testing.T) string {
	t.Helper()
	def, err := wdl.NewBuilder("gated").
		AddStart("start").Done().
		AddHumanApproval("gate", wdl.HumanApprovalConfig{
			Message: "deploy to production?",
			Options: []string{"approve", "reject"},
			Timeout: time.Minute,
		}).Done().
		AddEnd("end").Done().
		Connect("start", "gate").
		Connect("gate", "end").
		Build()
	require.NoError(t, err)

	doc, err := wdl.ToYAML(def)
	require.NoError(t, err)
	return doc
}

func TestApprovalHandler_ResolveFlow(t *testing.T) {
	eng := testEngine(t)
	wf := NewWorkflowHandler(eng, zap.NewNop())
	h := NewApprovalHandler(eng, zap.NewNop())

	w := httptest.NewRecorder()
	wf.HandleExecute(w, postJSON(t, "/api/v1/workflows/execute", api.ExecuteWorkflowRequest{
		WorkflowYAML: gatedYAML(t),
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var started api.ExecuteWorkflowResponse
	decodeData(t, w, &started)

	// 轮询直到审批请求出现
	var pending []*engine.Approval
	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		h.HandleList(w, httptest.NewRequest(http.MethodGet,
			"/api/v1/approvals?execution_id="+started.ExecutionID, nil))
		pending = nil
		decodeData(t, w, &pending)
		return len(pending) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "gate", pending[0].NodeID)
	assert.Equal(t, "deploy to production?", pending[0].Message)

	w = httptest.NewRecorder()
	r := postJSON(t, "/api/v1/approvals/"+pending[0].ID+"/resolve", api.ResolveApprovalRequest{
		Option:  "approve",
		Comment: "ship it",
	})
	r.SetPathValue("id", pending[0].ID)
	r.Header.Set("X-Actor", "release-manager")
	h.HandleResolve(w, r)

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := eng.Wait(ctx, started.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, engine.ExecutionCompleted, st.Status)
}

func TestApprovalHandler_HandleResolve_Errors(t *testing.T) {
	h := NewApprovalHandler(testEngine(t), zap.NewNop())

	t.Run("missing option", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := postJSON(t, "/api/v1/approvals/x/resolve", api.ResolveApprovalRequest{})
		r.SetPathValue("id", "x")
		h.HandleResolve(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown approval", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := postJSON(t, "/api/v1/approvals/missing/resolve", api.ResolveApprovalRequest{
			Option: "approve",
		})
		r.SetPathValue("id", "missing")
		h.HandleResolve(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// =============================================================================
// 🧪 TemplateHandler 测试
// =============================================================================

func TestTemplateHandler_HandleList(t *testing.T) {
	registry := templates.NewRegistry(templates.Builtins()...)
	h := NewTemplateHandler(registry, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleList(w, httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var list []api.TemplateInfo
	decodeData(t, w, &list)
	require.Len(t, list, 4)

	ids := make([]string, 0, len(list))
	for _, info := range list {
		ids = append(ids, info.ID)
	}
	assert.Equal(t, []string{
		"approval_deployment",
		"mcp_data_fetch",
		"parallel_review",
		"sequential_pipeline",
	}, ids)
}

func TestTemplateHandler_HandleInstantiate(t *testing.T) {
	registry := templates.NewRegistry(templates.Builtins()...)
	h := NewTemplateHandler(registry, zap.NewNop())

	t.Run("generates both document forms", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := postJSON(t, "/api/v1/templates/sequential_pipeline/instantiate",
			api.InstantiateTemplateRequest{
				Parameters: map[string]any{
					"stages": []any{"extract", "transform", "load"},
				},
			})
		r.SetPathValue("id", "sequential_pipeline")
		h.HandleInstantiate(w, r)

		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var out api.InstantiateTemplateResponse
		decodeData(t, w, &out)

		def, err := wdl.FromYAML(out.WorkflowYAML)
		require.NoError(t, err)
		assert.Empty(t, wdl.Validate(def))

		jsonDef, err := wdl.FromJSON(string(out.Definition))
		require.NoError(t, err)
		assert.Equal(t, def.Name, jsonDef.Name)
	})

	t.Run("unknown template", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := postJSON(t, "/api/v1/templates/missing/instantiate", api.InstantiateTemplateRequest{})
		r.SetPathValue("id", "missing")
		h.HandleInstantiate(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing required parameter", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := postJSON(t, "/api/v1/templates/approval_deployment/instantiate",
			api.InstantiateTemplateRequest{})
		r.SetPathValue("id", "approval_deployment")
		h.HandleInstantiate(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeData(t, w, nil)
		require.NotNil(t, resp.Error)
		assert.NotEmpty(t, resp.Error.Problems)
	})
}

// =============================================================================
// 🧪 HealthHandler 测试
// =============================================================================

type stubHealthCheck struct {
	name string
	err  error
}

func (s *stubHealthCheck) Name() string                    { return s.name }
func (s *stubHealthCheck) Check(ctx context.Context) error { return s.err }

func TestHealthHandler_HandleHealth(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.False(t, status.Timestamp.IsZero())
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name         string
		checks       []HealthCheck
		expectedCode int
		expected     string
	}{
		{
			name:         "no checks",
			expectedCode: http.StatusOK,
			expected:     "healthy",
		},
		{
			name: "all passing",
			checks: []HealthCheck{
				&stubHealthCheck{name: "store"},
				&stubHealthCheck{name: "redis"},
			},
			expectedCode: http.StatusOK,
			expected:     "healthy",
		},
		{
			name: "one failing",
			checks: []HealthCheck{
				&stubHealthCheck{name: "store"},
				&stubHealthCheck{name: "redis", err: context.DeadlineExceeded},
			},
			expectedCode: http.StatusServiceUnavailable,
			expected:     "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(zap.NewNop())
			for _, c := range tt.checks {
				h.RegisterCheck(c)
			}

			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.expectedCode, w.Code)
			var status HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			assert.Equal(t, tt.expected, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))
		})
	}
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	fn := h.HandleVersion("1.2.3", "2026-08-31T00:00:00Z", "abc1234")

	w := httptest.NewRecorder()
	fn(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var info map[string]string
	decodeData(t, w, &info)
	assert.Equal(t, "1.2.3", info["version"])
	assert.Equal(t, "abc1234", info["git_commit"])
}

func TestStoreHealthCheck(t *testing.T) {
	ok := NewStoreHealthCheck("store", func(ctx context.Context) error { return nil })
	assert.Equal(t, "store", ok.Name())
	assert.NoError(t, ok.Check(context.Background()))

	failing := NewStoreHealthCheck("store", func(ctx context.Context) error {
		return context.DeadlineExceeded
	})
	assert.Error(t, failing.Check(context.Background()))
}
