package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/config"
	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/wdl"
)

func testEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithLogger(zap.NewNop()),
		WithMetrics(prometheus.NewRegistry()),
	}
	return New(config.Default().Engine, append(base, opts...)...)
}

// waitFor runs an execution to its terminal state with a test deadline.
func waitFor(t *testing.T, e *Engine, executionID string) *Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := e.Wait(ctx, executionID)
	require.NoError(t, err)
	return st
}

func linearWorkflow(t *testing.T) *wdl.Definition {
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
	return def
}

func nodeByID(st *Status, nodeID string) *NodeExecution {
	for _, rec := range st.Nodes {
		if rec.Key == nodeID {
			return rec
		}
	}
	return nil
}

func TestExecuteWorkflow_Linear(t *testing.T) {
	e := testEngine(t)
	def := linearWorkflow(t)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionCompleted, st.Status)
	for _, nodeID := range []string{"start", "spawn", "work", "end"} {
		rec := nodeByID(st, nodeID)
		require.NotNil(t, rec, nodeID)
		assert.Equal(t, NodeCompleted, rec.Status, nodeID)
	}

	// Output mapping published the task result.
	assert.Contains(t, st.Variables, "summary")
	assert.Empty(t, st.CurrentNodes)
}

func TestExecuteWorkflow_RejectsInvalidDefinition(t *testing.T) {
	e := testEngine(t)

	def := &wdl.Definition{
		ID:    "bad",
		Name:  "bad",
		Nodes: map[string]*wdl.Node{},
	}

	_, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidationFailed, types.GetErrorCode(err))
}

func TestExecuteWorkflow_ConditionRouting(t *testing.T) {
	e := testEngine(t)

	def, err := wdl.NewBuilder("routing").
		AddStart("start").Done().
		SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "worker", Role: "ops"}).Done().
		AddCondition("gate", wdl.ConditionConfig{
			Conditions: []wdl.Condition{
				{Variable: "env", Operator: wdl.OpEquals, Expected: "prod"},
			},
			TruePath:  []string{"deploy"},
			FalsePath: []string{"dry_run"},
		}).Done().
		ExecuteAgent("deploy", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "deploy"}).Done().
		ExecuteAgent("dry_run", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "dry run"}).Done().
		AddEnd("end").Done().
		SetVariable("env", "prod").
		Connect("start", "spawn").
		Connect("spawn", "gate").
		Connect("gate", "deploy").
		Connect("gate", "dry_run").
		Connect("deploy", "end").
		Connect("dry_run", "end").
		Build()
	require.NoError(t, err)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionCompleted, st.Status)
	assert.Equal(t, NodeCompleted, nodeByID(st, "deploy").Status)
	assert.Equal(t, NodeSkipped, nodeByID(st, "dry_run").Status)
	assert.Equal(t, NodeCompleted, nodeByID(st, "end").Status)
}

func TestExecuteWorkflow_ConditionRouting_FalseBranch(t *testing.T) {
	e := testEngine(t)

	def, err := wdl.NewBuilder("routing").
		AddStart("start").Done().
		AddCondition("gate", wdl.ConditionConfig{
			Conditions: []wdl.Condition{
				{Variable: "count", Operator: wdl.OpGreaterThan, Expected: 10},
			},
			TruePath:  []string{"big"},
			FalsePath: []string{"small"},
		}).Done().
		ExecuteAgent("big", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "big"}).Done().
		ExecuteAgent("small", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "small"}).Done().
		SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "worker", Role: "ops"}).Done().
		AddEnd("end").Done().
		SetVariable("count", 3).
		Connect("start", "spawn").
		Connect("spawn", "gate").
		Connect("gate", "big").
		Connect("gate", "small").
		Connect("big", "end").
		Connect("small", "end").
		Build()
	require.NoError(t, err)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionCompleted, st.Status)
	assert.Equal(t, NodeSkipped, nodeByID(st, "big").Status)
	assert.Equal(t, NodeCompleted, nodeByID(st, "small").Status)
}

func TestExecuteWorkflow_FanInWaitsForAllSources(t *testing.T) {
	var mu sync.Mutex
	var order []string
	runtime := NewLocalAgentRuntime(func(_ context.Context, _ *wdl.AgentSpawnConfig, task *wdl.AgentExecuteConfig, _ map[string]any) (map[string]any, error) {
		if task.TaskDescription == "slow" {
			time.Sleep(150 * time.Millisecond)
		}
		mu.Lock()
		order = append(order, task.TaskDescription)
		mu.Unlock()
		return map[string]any{"result": task.TaskDescription}, nil
	}, zap.NewNop())
	e := testEngine(t, WithAgentRuntime(runtime))

	def, err := wdl.NewBuilder("fan-in").
		AddStart("start").Done().
		SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "worker", Role: "merger"}).Done().
		ExecuteAgent("fast", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "fast"}).Done().
		ExecuteAgent("slow", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "slow"}).Done().
		ExecuteAgent("merge", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "merge"}).Done().
		AddEnd("end").Done().
		Connect("start", "spawn").
		Connect("spawn", "fast").
		Connect("spawn", "slow").
		Connect("fast", "merge").
		Connect("slow", "merge").
		Connect("merge", "end").
		Build()
	require.NoError(t, err)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionCompleted, st.Status)

	// The join target must not dispatch until both sources finished.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"fast", "slow", "merge"}, order)
}

func TestExecuteWorkflow_ParallelWaitAll(t *testing.T) {
	var calls atomic.Int32
	runtime := NewLocalAgentRuntime(func(_ context.Context, _ *wdl.AgentSpawnConfig, task *wdl.AgentExecuteConfig, _ map[string]any) (map[string]any, error) {
		calls.Add(1)
		return map[string]any{"result": task.TaskDescription}, nil
	}, zap.NewNop())
	e := testEngine(t, WithAgentRuntime(runtime))

	def, err := wdl.NewBuilder("fanout").
		AddStart("start").Done().
		SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "worker", Role: "reviewer"}).Done().
		AddParallel("fan", wdl.ParallelConfig{
			Branches: [][]string{
				{"review_a"},
				{"review_b"},
				{"review_c"},
			},
			JoinStrategy:   wdl.JoinWaitAll,
			MaxConcurrency: 2,
		}).Done().
		ExecuteAgent("review_a", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "review a"}).Done().
		ExecuteAgent("review_b", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "review b"}).Done().
		ExecuteAgent("review_c", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "review c"}).Done().
		AddEnd("end").Done().
		Connect("start", "spawn").
		Connect("spawn", "fan").
		Connect("fan", "end").
		Build()
	require.NoError(t, err)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionCompleted, st.Status)
	assert.EqualValues(t, 3, calls.Load())
	for _, nodeID := range []string{"review_a", "review_b", "review_c"} {
		assert.Equal(t, NodeCompleted, nodeByID(st, nodeID).Status, nodeID)
	}
}

func TestExecuteWorkflow_ParallelWaitAny(t *testing.T) {
	runtime := NewLocalAgentRuntime(func(_ context.Context, _ *wdl.AgentSpawnConfig, task *wdl.AgentExecuteConfig, _ map[string]any) (map[string]any, error) {
		if task.TaskDescription == "flaky" {
			return nil, errors.New("upstream unavailable")
		}
		return map[string]any{"result": "ok"}, nil
	}, zap.NewNop())
	e := testEngine(t, WithAgentRuntime(runtime))

	def, err := wdl.NewBuilder("race").
		AddStart("start").Done().
		SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "worker", Role: "fetcher"}).Done().
		AddParallel("race", wdl.ParallelConfig{
			Branches: [][]string{
				{"flaky_fetch"},
				{"stable_fetch"},
			},
			JoinStrategy: wdl.JoinWaitAny,
		}).Done().
		ExecuteAgent("flaky_fetch", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "flaky"}).Done().
		ExecuteAgent("stable_fetch", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "stable"}).Done().
		AddEnd("end").Done().
		Connect("start", "spawn").
		Connect("spawn", "race").
		Connect("race", "end").
		Build()
	require.NoError(t, err)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionCompleted, st.Status)
	assert.Equal(t, NodeCompleted, nodeByID(st, "race").Status)
}

func TestExecuteWorkflow_ParallelWaitAny_LoserNotCancelled(t *testing.T) {
	loserErr := make(chan error, 1)
	runtime := NewLocalAgentRuntime(func(ctx context.Context, _ *wdl.AgentSpawnConfig, task *wdl.AgentExecuteConfig, _ map[string]any) (map[string]any, error) {
		if task.TaskDescription == "slow" {
			select {
			case <-time.After(150 * time.Millisecond):
				loserErr <- nil
			case <-ctx.Done():
				loserErr <- ctx.Err()
				return nil, ctx.Err()
			}
		}
		return map[string]any{"result": task.TaskDescription}, nil
	}, zap.NewNop())
	e := testEngine(t, WithAgentRuntime(runtime))

	def, err := wdl.NewBuilder("race").
		AddStart("start").Done().
		SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "worker", Role: "fetcher"}).Done().
		AddParallel("race", wdl.ParallelConfig{
			Branches: [][]string{
				{"fast_fetch"},
				{"slow_fetch"},
			},
			JoinStrategy: wdl.JoinWaitAny,
		}).Done().
		ExecuteAgent("fast_fetch", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "fast"}).Done().
		ExecuteAgent("slow_fetch", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "slow"}).Done().
		AddEnd("end").Done().
		Connect("start", "spawn").
		Connect("spawn", "race").
		Connect("race", "end").
		Build()
	require.NoError(t, err)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionCompleted, st.Status)
	assert.Equal(t, NodeCompleted, nodeByID(st, "fast_fetch").Status)

	// The losing branch runs to completion rather than being cancelled
	// when the join unblocks.
	select {
	case err := <-loserErr:
		require.NoError(t, err, "losing branch was cancelled")
	case <-time.After(2 * time.Second):
		t.Fatal("losing branch never finished")
	}

	// Its record lands even though the run already finished.
	require.Eventually(t, func() bool {
		st, err := e.GetExecutionStatus(context.Background(), id)
		if err != nil {
			return false
		}
		rec := nodeByID(st, "slow_fetch")
		return rec != nil && rec.Status == NodeCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecuteWorkflow_ParallelNoWait_SurvivesNodeTimeout(t *testing.T) {
	detached := make(chan error, 1)
	runtime := NewLocalAgentRuntime(func(ctx context.Context, _ *wdl.AgentSpawnConfig, task *wdl.AgentExecuteConfig, _ map[string]any) (map[string]any, error) {
		if task.TaskDescription == "background" {
			select {
			case <-time.After(100 * time.Millisecond):
				detached <- nil
			case <-ctx.Done():
				detached <- ctx.Err()
				return nil, ctx.Err()
			}
		}
		return map[string]any{"result": task.TaskDescription}, nil
	}, zap.NewNop())
	e := testEngine(t, WithAgentRuntime(runtime))

	def, err := wdl.NewBuilder("fire-and-forget").
		AddStart("start").Done().
		SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "worker", Role: "janitor"}).Done().
		AddParallel("fire", wdl.ParallelConfig{
			Branches:     [][]string{{"background"}},
			JoinStrategy: wdl.JoinNoWait,
		}).WithTimeout(time.Second).Done().
		ExecuteAgent("background", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "background"}).Done().
		AddEnd("end").Done().
		Connect("start", "spawn").
		Connect("spawn", "fire").
		Connect("fire", "end").
		Build()
	require.NoError(t, err)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionCompleted, st.Status)

	// The detached branch is not torn down by the parallel node's
	// timeout context or by the run finishing.
	select {
	case err := <-detached:
		require.NoError(t, err, "detached branch was cancelled")
	case <-time.After(2 * time.Second):
		t.Fatal("detached branch never finished")
	}
}

func TestExecuteWorkflow_LoopFor(t *testing.T) {
	var seen []any
	runtime := NewLocalAgentRuntime(func(_ context.Context, _ *wdl.AgentSpawnConfig, _ *wdl.AgentExecuteConfig, vars map[string]any) (map[string]any, error) {
		seen = append(seen, vars["i"])
		return map[string]any{"result": "ok"}, nil
	}, zap.NewNop())
	e := testEngine(t, WithAgentRuntime(runtime))

	def, err := wdl.NewBuilder("counting").
		AddStart("start").Done().
		SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "worker", Role: "counter"}).Done().
		AddLoop("repeat", wdl.LoopConfig{
			Type:              wdl.LoopTypeFor,
			IterationVariable: "i",
			StartValue:        0,
			EndValue:          3,
			Step:              1,
			MaxIterations:     10,
			Body:              []string{"count"},
		}).Done().
		ExecuteAgent("count", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "count"}).Done().
		AddEnd("end").Done().
		Connect("start", "spawn").
		Connect("spawn", "repeat").
		Connect("repeat", "end").
		Build()
	require.NoError(t, err)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionCompleted, st.Status)
	assert.Equal(t, []any{0, 1, 2}, seen)

	// Each pass left its own record.
	for _, key := range []string{"count#1", "count#2", "count#3"} {
		rec := nodeByID(st, key)
		require.NotNil(t, rec, key)
		assert.Equal(t, NodeCompleted, rec.Status, key)
	}
	assert.Equal(t, map[string]any{"iterations": 3}, nodeByID(st, "repeat").Output)
}

func TestExecuteWorkflow_LoopForEach(t *testing.T) {
	var seen []any
	runtime := NewLocalAgentRuntime(func(_ context.Context, _ *wdl.AgentSpawnConfig, _ *wdl.AgentExecuteConfig, vars map[string]any) (map[string]any, error) {
		seen = append(seen, vars["item"])
		return map[string]any{"result": "ok"}, nil
	}, zap.NewNop())
	e := testEngine(t, WithAgentRuntime(runtime))

	def, err := wdl.NewBuilder("per-region").
		AddStart("start").Done().
		SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "worker", Role: "deployer"}).Done().
		AddLoop("regions", wdl.LoopConfig{
			Type:              wdl.LoopTypeForEach,
			IterationVariable: "item",
			IterableVariable:  "targets",
			MaxIterations:     10,
			Body:              []string{"rollout"},
		}).Done().
		ExecuteAgent("rollout", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "rollout"}).Done().
		AddEnd("end").Done().
		Connect("start", "spawn").
		Connect("spawn", "regions").
		Connect("regions", "end").
		Build()
	require.NoError(t, err)

	id, err := e.ExecuteWorkflow(context.Background(), def, map[string]any{
		"targets": []any{"eu-west", "us-east"},
	})
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionCompleted, st.Status)
	assert.Equal(t, []any{"eu-west", "us-east"}, seen)
}

func TestExecuteWorkflow_LoopMaxIterationsExceeded(t *testing.T) {
	e := testEngine(t)

	def, err := wdl.NewBuilder("stuck").
		AddStart("start").Done().
		SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "worker", Role: "poller"}).Done().
		AddLoop("poll", wdl.LoopConfig{
			Type:          wdl.LoopTypeWhile,
			MaxIterations: 5,
			Condition:     &wdl.Condition{Variable: "done", Operator: wdl.OpNotEquals, Expected: true},
			Body:          []string{"check"},
		}).Done().
		ExecuteAgent("check", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "check"}).Done().
		AddEnd("end").Done().
		SetVariable("done", false).
		Connect("start", "spawn").
		Connect("spawn", "poll").
		Connect("poll", "end").
		Build()
	require.NoError(t, err)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionFailed, st.Status)
	assert.Contains(t, st.Error, "max iterations")
	assert.Equal(t, NodeFailed, nodeByID(st, "poll").Status)
}

func TestExecuteWorkflow_RetrySucceedsAfterFailures(t *testing.T) {
	var attempts atomic.Int32
	runtime := NewLocalAgentRuntime(func(_ context.Context, _ *wdl.AgentSpawnConfig, _ *wdl.AgentExecuteConfig, _ map[string]any) (map[string]any, error) {
		if attempts.Add(1) < 3 {
			return nil, types.NewError(types.ErrAgentFailed, "transient").WithRetryable(true)
		}
		return map[string]any{"result": "ok"}, nil
	}, zap.NewNop())
	e := testEngine(t, WithAgentRuntime(runtime))

	def, err := wdl.NewBuilder("flaky").
		AddStart("start").Done().
		SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "worker", Role: "caller"}).Done().
		ExecuteAgent("call", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "call"}).
		WithRetry(wdl.RetryConfig{
			Strategy:     wdl.RetryExponentialBackoff,
			MaxAttempts:  5,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		}).Done().
		AddEnd("end").Done().
		Connect("start", "spawn").
		Connect("spawn", "call").
		Connect("call", "end").
		Build()
	require.NoError(t, err)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionCompleted, st.Status)
	assert.EqualValues(t, 3, attempts.Load())
	assert.Equal(t, 3, nodeByID(st, "call").Attempts)
}

func TestExecuteWorkflow_SkipOnFailure(t *testing.T) {
	runtime := NewLocalAgentRuntime(func(_ context.Context, _ *wdl.AgentSpawnConfig, task *wdl.AgentExecuteConfig, _ map[string]any) (map[string]any, error) {
		if task.TaskDescription == "optional" {
			return nil, errors.New("not available")
		}
		return map[string]any{"result": "ok"}, nil
	}, zap.NewNop())
	e := testEngine(t, WithAgentRuntime(runtime))

	def, err := wdl.NewBuilder("tolerant").
		AddStart("start").Done().
		SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "worker", Role: "helper"}).Done().
		ExecuteAgent("optional", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "optional"}).
		WithSkipOnFailure().Done().
		ExecuteAgent("required", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "required"}).Done().
		AddEnd("end").Done().
		Connect("start", "spawn").
		Connect("spawn", "optional").
		Connect("optional", "required").
		Connect("required", "end").
		Build()
	require.NoError(t, err)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionCompleted, st.Status)
	assert.Equal(t, NodeFailed, nodeByID(st, "optional").Status)
	assert.Equal(t, NodeCompleted, nodeByID(st, "required").Status)
}

func TestExecuteWorkflow_NodeFailureFailsExecution(t *testing.T) {
	runtime := NewLocalAgentRuntime(func(_ context.Context, _ *wdl.AgentSpawnConfig, _ *wdl.AgentExecuteConfig, _ map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	}, zap.NewNop())
	e := testEngine(t, WithAgentRuntime(runtime))

	def := linearWorkflow(t)
	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionFailed, st.Status)
	assert.NotEmpty(t, st.Error)
	// The end node never ran.
	assert.NotEqual(t, NodeCompleted, nodeByID(st, "end").Status)
}

func TestGetExecutionStatus_Unknown(t *testing.T) {
	e := testEngine(t)
	_, err := e.GetExecutionStatus(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, types.ErrExecutionNotFound, types.GetErrorCode(err))
}

func TestGetExecutionLog(t *testing.T) {
	e := testEngine(t)
	def := linearWorkflow(t)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)
	waitFor(t, e, id)

	entries, err := e.GetExecutionLog(context.Background(), id)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "workflow execution started", entries[0].Message)
	assert.Equal(t, "workflow execution completed", entries[len(entries)-1].Message)

	// Log is append-only and ordered.
	for i := 1; i < len(entries); i++ {
		assert.GreaterOrEqual(t, entries[i].Seq, entries[i-1].Seq)
	}
}

func TestGetEngineMetrics(t *testing.T) {
	e := testEngine(t)
	def := linearWorkflow(t)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)
	waitFor(t, e, id)

	m := e.GetEngineMetrics()
	assert.EqualValues(t, 1, m.ExecutionsStarted)
	assert.EqualValues(t, 1, m.ExecutionsCompleted)
	assert.EqualValues(t, 0, m.ExecutionsFailed)
	assert.GreaterOrEqual(t, m.NodesExecuted, int64(4))
}

func TestStatus_ProgressUnweighted(t *testing.T) {
	e := testEngine(t)

	id, err := e.ExecuteWorkflow(context.Background(), linearWorkflow(t), nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionCompleted, st.Status)
	assert.InDelta(t, 100.0, st.Progress, 0.001)
}

func TestStatus_ProgressOnFailure(t *testing.T) {
	runtime := NewLocalAgentRuntime(func(_ context.Context, _ *wdl.AgentSpawnConfig, _ *wdl.AgentExecuteConfig, _ map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	}, zap.NewNop())
	e := testEngine(t, WithAgentRuntime(runtime))

	id, err := e.ExecuteWorkflow(context.Background(), linearWorkflow(t), nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionFailed, st.Status)
	// Two of four nodes completed before the task failed.
	assert.InDelta(t, 50.0, st.Progress, 0.001)
}

func TestExecuteWorkflow_VariablePrecedence(t *testing.T) {
	e := testEngine(t)

	def, err := wdl.NewBuilder("defaults").
		AddStart("start").Done().
		AddEnd("end").Done().
		SetVariable("region", "eu-west").
		SetVariable("replicas", 2).
		Connect("start", "end").
		Build()
	require.NoError(t, err)

	id, err := e.ExecuteWorkflow(context.Background(), def, map[string]any{
		"region": "us-east",
	})
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, ExecutionCompleted, st.Status)
	assert.Equal(t, "us-east", st.Variables["region"])
	assert.Equal(t, 2, st.Variables["replicas"])
}

func TestExecuteWorkflow_SensitiveVariablesRedacted(t *testing.T) {
	e := testEngine(t)

	def, err := wdl.NewBuilder("secrets").
		AddStart("start").Done().
		AddEnd("end").Done().
		SetTypedVariable(wdl.Variable{
			Name:      "api_token",
			Value:     "super-secret",
			Type:      wdl.VariableTypeString,
			Sensitive: true,
		}).
		Connect("start", "end").
		Build()
	require.NoError(t, err)

	id, err := e.ExecuteWorkflow(context.Background(), def, nil)
	require.NoError(t, err)

	st := waitFor(t, e, id)
	assert.Equal(t, "[REDACTED]", st.Variables["api_token"])
}
