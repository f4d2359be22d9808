// Package engine executes workflow definitions: it schedules nodes as
// their dependencies complete, bounds concurrency, retries failures,
// routes conditions, fans out parallel branches, iterates loops, calls
// MCP services and parks on human approval gates.
//
// Executions run asynchronously. ExecuteWorkflow returns an execution
// ID immediately; status, logs and control operations are keyed by it.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/flowforge/config"
	"github.com/BaSui01/flowforge/persistence"
	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/wdl"
)

// Engine runs workflow definitions.
type Engine struct {
	cfg      config.EngineConfig
	logger   *zap.Logger
	store    persistence.ExecutionStore
	agents   AgentRuntime
	mcp      MCPClient
	notifier Notifier

	approvals *approvalManager
	metrics   *Collector
	tracer    trace.Tracer

	mu         sync.RWMutex
	executions map[string]*execution

	// running counters backing GetEngineMetrics
	startedTotal   atomic.Int64
	completedTotal atomic.Int64
	failedTotal    atomic.Int64
	cancelledTotal atomic.Int64
	nodesTotal     atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithStore sets the execution store. Defaults to an in-memory store.
func WithStore(store persistence.ExecutionStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithAgentRuntime sets the agent runtime.
func WithAgentRuntime(runtime AgentRuntime) Option {
	return func(e *Engine) { e.agents = runtime }
}

// WithMCPClient sets the MCP service client.
func WithMCPClient(client MCPClient) Option {
	return func(e *Engine) { e.mcp = client }
}

// WithNotifier sets the approval notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics registers engine metrics on the given registry.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = NewCollector(reg) }
}

// New creates an Engine from configuration.
func New(cfg config.EngineConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		logger:     zap.NewNop(),
		executions: make(map[string]*execution),
		tracer:     otel.Tracer("flowforge/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With(zap.String("component", "engine"))
	if e.store == nil {
		e.store = persistence.NewMemoryStore()
	}
	if e.agents == nil {
		e.agents = NewLocalAgentRuntime(nil, e.logger)
	}
	if cfg.SpawnRateLimit > 0 {
		e.agents = NewRateLimitedRuntime(e.agents, cfg.SpawnRateLimit, cfg.SpawnRateBurst)
	}
	if e.mcp == nil {
		e.mcp = NewStaticMCPClient()
	}
	if e.notifier == nil {
		e.notifier = NewLogNotifier(e.logger)
	}
	e.approvals = newApprovalManager(e.logger)
	return e
}

// ExecuteWorkflow starts an asynchronous execution of a definition and
// returns its execution ID. The definition is validated first; a
// definition with problems is rejected.
func (e *Engine) ExecuteWorkflow(ctx context.Context, def *wdl.Definition, initialVars map[string]any) (string, error) {
	if def == nil {
		return "", types.NewError(types.ErrValidationFailed, "workflow definition is nil")
	}
	if problems := wdl.Validate(def); len(problems) > 0 {
		return "", types.NewError(types.ErrValidationFailed,
			fmt.Sprintf("workflow %s failed validation", def.Name)).
			WithProblems(problems)
	}

	executionID := uuid.New().String()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	vars := newVarContext(def.DefaultVariables, initialVars)
	x := newExecution(executionID, def, vars, runCtx, cancel)

	e.mu.Lock()
	e.executions[executionID] = x
	e.mu.Unlock()

	e.startedTotal.Add(1)
	e.metrics.executionStarted()

	e.logger.Info("workflow execution started",
		zap.String("execution_id", executionID),
		zap.String("workflow_id", def.ID),
		zap.String("workflow_name", def.Name),
	)

	e.persist(runCtx, x)
	e.appendLog(x, "info", "", "workflow execution started", map[string]any{
		"workflow_name": def.Name,
	})

	go e.run(runCtx, x)

	return executionID, nil
}

// GetExecutionStatus returns the current status summary of an execution.
// Finished executions evicted from memory are served from the store.
func (e *Engine) GetExecutionStatus(ctx context.Context, executionID string) (*Status, error) {
	if x, ok := e.lookup(executionID); ok {
		return x.statusSummary(), nil
	}

	rec, err := e.store.LoadExecution(ctx, executionID)
	if err == persistence.ErrNotFound {
		return nil, types.NewError(types.ErrExecutionNotFound,
			fmt.Sprintf("execution %s does not exist", executionID))
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to load execution").WithCause(err)
	}

	st := &Status{
		ExecutionID:  rec.ID,
		WorkflowID:   rec.WorkflowID,
		WorkflowName: rec.WorkflowName,
		Status:       ExecutionStatus(rec.Status),
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
	}
	if len(rec.Snapshot) > 0 {
		var snap Snapshot
		if err := json.Unmarshal(rec.Snapshot, &snap); err == nil {
			st.Nodes = snap.Nodes
			st.Variables = snap.Variables
			st.Progress = snap.Progress
			st.Error = snap.Failure
		}
	}
	return st, nil
}

// GetExecutionLog returns the append-only log of an execution.
func (e *Engine) GetExecutionLog(ctx context.Context, executionID string) ([]*persistence.LogEntry, error) {
	if _, ok := e.lookup(executionID); !ok {
		if _, err := e.store.LoadExecution(ctx, executionID); err == persistence.ErrNotFound {
			return nil, types.NewError(types.ErrExecutionNotFound,
				fmt.Sprintf("execution %s does not exist", executionID))
		}
	}
	return e.store.LoadLog(ctx, executionID)
}

// PauseExecution stops scheduling new nodes. Nodes already running
// are allowed to finish.
func (e *Engine) PauseExecution(ctx context.Context, executionID string) error {
	x, ok := e.lookup(executionID)
	if !ok {
		return types.NewError(types.ErrExecutionNotFound,
			fmt.Sprintf("execution %s does not exist", executionID))
	}

	x.mu.Lock()
	if x.status.Terminal() {
		status := x.status
		x.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("cannot pause execution in status %s", status))
	}
	x.paused = true
	x.mu.Unlock()

	e.appendLog(x, "info", "", "execution paused", nil)
	e.logger.Info("execution paused", zap.String("execution_id", executionID))
	x.nudge()
	return nil
}

// ResumeExecution resumes a paused execution.
func (e *Engine) ResumeExecution(ctx context.Context, executionID string) error {
	x, ok := e.lookup(executionID)
	if !ok {
		return types.NewError(types.ErrExecutionNotFound,
			fmt.Sprintf("execution %s does not exist", executionID))
	}

	x.mu.Lock()
	if x.status.Terminal() {
		status := x.status
		x.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("cannot resume execution in status %s", status))
	}
	if !x.paused {
		x.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition, "execution is not paused")
	}
	x.paused = false
	x.mu.Unlock()

	select {
	case x.resumeCh <- struct{}{}:
	default:
	}

	e.appendLog(x, "info", "", "execution resumed", nil)
	e.logger.Info("execution resumed", zap.String("execution_id", executionID))
	x.nudge()
	return nil
}

// CancelExecution cancels an execution. Running nodes are interrupted
// through context cancellation and late results are discarded.
func (e *Engine) CancelExecution(ctx context.Context, executionID string) error {
	x, ok := e.lookup(executionID)
	if !ok {
		return types.NewError(types.ErrExecutionNotFound,
			fmt.Sprintf("execution %s does not exist", executionID))
	}

	if !x.setStatus(ExecutionCancelled) {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("execution %s already finished", executionID))
	}

	e.approvals.cancelExecution(executionID)
	x.cancel()
	x.nudge()

	e.appendLog(x, "warn", "", "execution cancelled", nil)
	e.logger.Info("execution cancelled", zap.String("execution_id", executionID))
	return nil
}

// ResolveApproval delivers a human decision to a pending approval.
func (e *Engine) ResolveApproval(ctx context.Context, approvalID string, decision Decision) error {
	return e.approvals.Resolve(approvalID, decision)
}

// PendingApprovals lists unresolved approval requests, optionally
// filtered to one execution.
func (e *Engine) PendingApprovals(executionID string) []*Approval {
	return e.approvals.PendingApprovals(executionID)
}

// ListExecutions returns stored execution records, newest first.
func (e *Engine) ListExecutions(ctx context.Context, filter persistence.ListFilter) ([]*persistence.ExecutionRecord, error) {
	return e.store.ListExecutions(ctx, filter)
}

// EngineMetrics is a point-in-time snapshot of engine activity.
type EngineMetrics struct {
	ExecutionsStarted   int64 `json:"executions_started"`
	ExecutionsCompleted int64 `json:"executions_completed"`
	ExecutionsFailed    int64 `json:"executions_failed"`
	ExecutionsCancelled int64 `json:"executions_cancelled"`
	ExecutionsActive    int64 `json:"executions_active"`
	NodesExecuted       int64 `json:"nodes_executed"`
	ApprovalsPending    int64 `json:"approvals_pending"`
}

// GetEngineMetrics returns a snapshot of engine-wide counters.
func (e *Engine) GetEngineMetrics() EngineMetrics {
	e.mu.RLock()
	var active int64
	for _, x := range e.executions {
		if !x.currentStatus().Terminal() {
			active++
		}
	}
	e.mu.RUnlock()

	return EngineMetrics{
		ExecutionsStarted:   e.startedTotal.Load(),
		ExecutionsCompleted: e.completedTotal.Load(),
		ExecutionsFailed:    e.failedTotal.Load(),
		ExecutionsCancelled: e.cancelledTotal.Load(),
		ExecutionsActive:    active,
		NodesExecuted:       e.nodesTotal.Load(),
		ApprovalsPending:    int64(len(e.approvals.PendingApprovals(""))),
	}
}

// Wait blocks until an execution reaches a terminal status or the
// context expires. Primarily for tests and embedded callers.
func (e *Engine) Wait(ctx context.Context, executionID string) (*Status, error) {
	x, ok := e.lookup(executionID)
	if !ok {
		return e.GetExecutionStatus(ctx, executionID)
	}

	select {
	case <-x.doneCh:
		return x.statusSummary(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) lookup(executionID string) (*execution, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	x, ok := e.executions[executionID]
	return x, ok
}

// persist writes the current execution state to the store. Store
// failures are logged, not fatal; the in-memory state stays canonical.
func (e *Engine) persist(ctx context.Context, x *execution) {
	x.mu.RLock()
	rec := &persistence.ExecutionRecord{
		ID:           x.id,
		WorkflowID:   x.def.ID,
		WorkflowName: x.def.Name,
		Status:       string(x.status),
		StartedAt:    x.startedAt,
		FinishedAt:   x.finished,
	}
	x.mu.RUnlock()
	rec.Snapshot = x.snapshot()

	if err := e.store.SaveExecution(ctx, rec); err != nil {
		e.logger.Warn("failed to persist execution state",
			zap.String("execution_id", x.id),
			zap.Error(err),
		)
	}
}

// appendLog records one execution log entry. Sensitive variable values
// must already be redacted by the caller.
func (e *Engine) appendLog(x *execution, level, nodeID, message string, fields map[string]any) {
	entry := &persistence.LogEntry{
		ExecutionID: x.id,
		Timestamp:   time.Now(),
		Level:       level,
		NodeID:      nodeID,
		Message:     message,
		Fields:      fields,
	}
	if err := e.store.AppendLog(context.Background(), entry); err != nil {
		e.logger.Warn("failed to append execution log",
			zap.String("execution_id", x.id),
			zap.Error(err),
		)
	}
}

// sem creates the scheduling semaphore for one execution, honoring the
// definition's max_parallel_nodes over the engine default.
func (e *Engine) sem(def *wdl.Definition) *semaphore.Weighted {
	limit := def.MaxParallelNodes
	if limit <= 0 {
		limit = e.cfg.MaxParallelNodes
	}
	if limit <= 0 {
		limit = 10
	}
	return semaphore.NewWeighted(int64(limit))
}
