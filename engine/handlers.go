package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/flowforge/retry"
	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/wdl"
)

// executeNode runs a top-level node and records a workflow-level
// failure when the node fails without skip_on_failure.
func (e *Engine) executeNode(ctx context.Context, x *execution, node *wdl.Node, iteration int) {
	if err := e.runNode(ctx, x, node, iteration); err != nil {
		x.mu.Lock()
		if x.failure == nil {
			x.failure = err
		}
		x.mu.Unlock()
	}
}

// runNode executes one node with timeout and retry handling, records
// its status transitions and applies its output mapping. A failure
// under skip_on_failure is absorbed: the node is marked failed but nil
// is returned so dependents continue.
func (e *Engine) runNode(ctx context.Context, x *execution, node *wdl.Node, iteration int) error {
	key := nodeKey(node.ID, iteration)
	rec := x.record(node.ID, iteration)
	x.setNodeStatus(node.ID, iteration, NodeRunning)

	ctx, span := e.tracer.Start(ctx, "workflow.node")
	span.SetAttributes(
		attribute.String("workflow.execution_id", x.id),
		attribute.String("workflow.node_id", node.ID),
		attribute.String("workflow.node_type", string(node.Type)),
		attribute.Int("workflow.iteration", iteration),
	)
	defer span.End()

	e.appendLog(x, "info", node.ID, "node started", map[string]any{
		"node_type": string(node.Type),
		"iteration": iteration,
	})
	start := time.Now()

	policy := retry.FromConfig(node.Retry)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		e.metrics.nodeRetried()
		e.appendLog(x, "warn", node.ID, "node attempt failed, retrying", map[string]any{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
	}

	result, err := retry.New(policy, e.logger).DoWithResult(ctx, func(ctx context.Context) (any, error) {
		attemptCtx := ctx
		if node.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, node.Timeout)
			defer cancel()
		}

		x.mu.Lock()
		rec.Attempts++
		x.mu.Unlock()

		out, err := e.dispatch(attemptCtx, x, node, iteration)
		if err != nil && node.Timeout > 0 && errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewError(types.ErrNodeTimeout,
				fmt.Sprintf("node %s timed out after %s", node.ID, node.Timeout)).
				WithNodeID(node.ID).
				WithRetryable(true).
				WithCause(err)
		}
		return out, err
	})

	duration := time.Since(start)

	// A cancelled execution discards late results.
	if x.currentStatus() == ExecutionCancelled {
		x.setNodeStatus(node.ID, iteration, NodeSkipped)
		e.metrics.nodeFinished(string(node.Type), NodeSkipped, duration)
		return nil
	}

	if err != nil {
		x.mu.Lock()
		rec.Error = err.Error()
		x.mu.Unlock()
		x.setNodeStatus(node.ID, iteration, NodeFailed)
		e.metrics.nodeFinished(string(node.Type), NodeFailed, duration)
		e.nodesTotal.Add(1)

		if node.SkipOnFailure {
			e.appendLog(x, "warn", node.ID, "node failed, continuing (skip_on_failure)", map[string]any{
				"error": err.Error(),
			})
			e.logger.Warn("node failed, skip_on_failure set",
				zap.String("execution_id", x.id),
				zap.String("node_id", node.ID),
				zap.Error(err),
			)
			return nil
		}

		e.appendLog(x, "error", node.ID, "node failed", map[string]any{
			"error":    err.Error(),
			"attempts": rec.Attempts,
		})
		e.logger.Error("node failed",
			zap.String("execution_id", x.id),
			zap.String("node_id", node.ID),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		if te, ok := err.(*types.Error); ok && te.NodeID == "" {
			err = te.WithNodeID(node.ID)
		}
		return err
	}

	output, _ := result.(map[string]any)
	x.mu.Lock()
	rec.Output = output
	x.mu.Unlock()

	// Output mapping publishes node outputs into workflow variables.
	for outputKey, varName := range node.OutputMapping {
		if value, ok := output[outputKey]; ok {
			x.vars.Set(varName, value, key)
		}
	}

	x.setNodeStatus(node.ID, iteration, NodeCompleted)
	e.metrics.nodeFinished(string(node.Type), NodeCompleted, duration)
	e.nodesTotal.Add(1)

	e.appendLog(x, "info", node.ID, "node completed", map[string]any{
		"duration_ms": duration.Milliseconds(),
	})
	e.persist(ctx, x)
	return nil
}

// dispatch routes a node to its type handler.
func (e *Engine) dispatch(ctx context.Context, x *execution, node *wdl.Node, iteration int) (map[string]any, error) {
	switch node.Type {
	case wdl.NodeTypeStart, wdl.NodeTypeEnd:
		return map[string]any{}, nil
	case wdl.NodeTypeAgentSpawn:
		return e.handleAgentSpawn(ctx, x, node)
	case wdl.NodeTypeAgentExecute:
		return e.handleAgentExecute(ctx, x, node)
	case wdl.NodeTypeCondition:
		return e.handleCondition(ctx, x, node)
	case wdl.NodeTypeParallel:
		return e.handleParallel(ctx, x, node, iteration)
	case wdl.NodeTypeLoop:
		return e.handleLoop(ctx, x, node)
	case wdl.NodeTypeMCPCall:
		return e.handleMCPCall(ctx, x, node)
	case wdl.NodeTypeHumanApproval:
		return e.handleHumanApproval(ctx, x, node)
	default:
		return nil, types.NewError(types.ErrInternalError,
			fmt.Sprintf("unknown node type %s", node.Type))
	}
}

// resolveInputs applies a node's input mapping against the variable
// context.
func (e *Engine) resolveInputs(x *execution, node *wdl.Node) map[string]any {
	if len(node.InputMapping) == 0 {
		return nil
	}
	out := make(map[string]any, len(node.InputMapping))
	for paramName, varName := range node.InputMapping {
		if value, ok := x.vars.Get(varName); ok {
			out[paramName] = value
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// agent nodes
// ---------------------------------------------------------------------------

func (e *Engine) handleAgentSpawn(ctx context.Context, x *execution, node *wdl.Node) (map[string]any, error) {
	cfg := node.AgentSpawn
	if cfg == nil {
		return nil, types.NewError(types.ErrMissingParameter, "agent_spawn node has no spawn config")
	}

	// Lazy and on-demand agents are provisioned on first task; the
	// node only records that the agent is available.
	if cfg.SpawnStrategy == wdl.SpawnLazy || cfg.SpawnStrategy == wdl.SpawnOnDemand {
		x.mu.Lock()
		x.spawned[node.ID] = ""
		x.mu.Unlock()
		return map[string]any{
			"agent_id":       "",
			"spawn_strategy": string(cfg.SpawnStrategy),
			"deferred":       true,
		}, nil
	}

	agentID, err := e.agents.SpawnAgent(ctx, cfg)
	if err != nil {
		return nil, types.NewError(types.ErrAgentFailed,
			fmt.Sprintf("failed to spawn %s agent", cfg.AgentType)).
			WithCause(err).WithRetryable(true)
	}

	x.mu.Lock()
	x.spawned[node.ID] = agentID
	x.mu.Unlock()

	return map[string]any{
		"agent_id":       agentID,
		"spawn_strategy": string(cfg.SpawnStrategy),
	}, nil
}

// resolveAgent maps an agent reference to a live runtime agent ID. The
// reference is either the ID of an agent_spawn node or a raw runtime
// agent ID. Deferred spawns are provisioned here on first use.
func (e *Engine) resolveAgent(ctx context.Context, x *execution, ref string) (string, error) {
	if ref == "" {
		return "", types.NewError(types.ErrMissingParameter, "agent reference is empty")
	}

	x.mu.RLock()
	agentID, tracked := x.spawned[ref]
	x.mu.RUnlock()

	if tracked && agentID != "" {
		return agentID, nil
	}

	spawnNode, isSpawnNode := x.def.GetNode(ref)
	if !isSpawnNode || spawnNode.Type != wdl.NodeTypeAgentSpawn {
		// Not a spawn node reference: treat as a runtime agent ID.
		return ref, nil
	}
	if !tracked {
		return "", types.NewError(types.ErrAgentNotFound,
			fmt.Sprintf("agent node %s has not run yet", ref))
	}

	// Deferred spawn: provision now.
	newID, err := e.agents.SpawnAgent(ctx, spawnNode.AgentSpawn)
	if err != nil {
		return "", types.NewError(types.ErrAgentFailed,
			fmt.Sprintf("deferred spawn of agent %s failed", ref)).
			WithCause(err).WithRetryable(true)
	}

	x.mu.Lock()
	x.spawned[ref] = newID
	x.mu.Unlock()

	e.appendLog(x, "info", ref, "deferred agent spawned", map[string]any{
		"agent_id": newID,
	})
	return newID, nil
}

func (e *Engine) handleAgentExecute(ctx context.Context, x *execution, node *wdl.Node) (map[string]any, error) {
	cfg := node.AgentExecute
	if cfg == nil {
		return nil, types.NewError(types.ErrMissingParameter, "agent_execute node has no task config")
	}

	agentID, err := e.resolveAgent(ctx, x, cfg.AgentID)
	if err != nil {
		return nil, err
	}

	taskVars := x.vars.All(false)
	for k, v := range e.resolveInputs(x, node) {
		taskVars[k] = v
	}

	output, err := e.agents.ExecuteTask(ctx, agentID, cfg, taskVars)
	if err != nil {
		if _, ok := err.(*types.Error); ok {
			return nil, err
		}
		return nil, types.NewError(types.ErrAgentFailed,
			fmt.Sprintf("task on agent %s failed", cfg.AgentID)).
			WithCause(err).WithRetryable(true)
	}
	return output, nil
}

// ---------------------------------------------------------------------------
// condition node
// ---------------------------------------------------------------------------

func (e *Engine) handleCondition(ctx context.Context, x *execution, node *wdl.Node) (map[string]any, error) {
	cfg := node.Condition
	if cfg == nil || len(cfg.Conditions) == 0 {
		return nil, types.NewError(types.ErrMissingParameter, "condition node has no conditions")
	}

	vars := x.vars.All(false)
	results := make([]bool, len(cfg.Conditions))
	for i := range cfg.Conditions {
		results[i] = cfg.Conditions[i].Evaluate(vars)
	}

	result := combineResults(results, cfg.LogicOperator)

	e.appendLog(x, "info", node.ID, "condition evaluated", map[string]any{
		"result":   result,
		"operator": string(cfg.LogicOperator),
	})

	return map[string]any{"result": result}, nil
}

func combineResults(results []bool, op wdl.LogicOperator) bool {
	switch op {
	case wdl.LogicOr:
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	case wdl.LogicXor:
		trueCount := 0
		for _, r := range results {
			if r {
				trueCount++
			}
		}
		return trueCount == 1
	default: // and
		for _, r := range results {
			if !r {
				return false
			}
		}
		return true
	}
}

// ---------------------------------------------------------------------------
// parallel node
// ---------------------------------------------------------------------------

func (e *Engine) handleParallel(ctx context.Context, x *execution, node *wdl.Node, iteration int) (map[string]any, error) {
	cfg := node.Parallel
	if cfg == nil || len(cfg.Branches) == 0 {
		return nil, types.NewError(types.ErrMissingParameter, "parallel node has no branches")
	}

	join := cfg.JoinStrategy
	if join == "" {
		join = wdl.JoinWaitAll
	}

	switch join {
	case wdl.JoinWaitAll:
		return e.parallelWaitAll(ctx, x, node, cfg, iteration)
	case wdl.JoinWaitAny:
		return e.parallelWaitAny(ctx, x, cfg, iteration)
	case wdl.JoinWaitFirst:
		return e.parallelWaitFirst(ctx, x, cfg, iteration)
	case wdl.JoinNoWait:
		// Detached branches outlive this node's attempt and possibly
		// the run itself; the attempt context (and its node timeout)
		// must not tear them down.
		detachedCtx := context.WithoutCancel(x.runCtx)
		for i, branch := range cfg.Branches {
			branch := branch
			go func(idx int) {
				if err := e.runBranch(detachedCtx, x, branch, cfg.BranchTimeout, iteration); err != nil {
					e.appendLog(x, "warn", node.ID, "detached branch failed", map[string]any{
						"branch": idx,
						"error":  err.Error(),
					})
				}
			}(i)
		}
		return map[string]any{
			"branches":      len(cfg.Branches),
			"join_strategy": string(join),
			"detached":      true,
		}, nil
	default:
		return nil, types.NewError(types.ErrValidationFailed,
			fmt.Sprintf("unknown join strategy %s", join))
	}
}

func (e *Engine) parallelWaitAll(ctx context.Context, x *execution, node *wdl.Node, cfg *wdl.ParallelConfig, iteration int) (map[string]any, error) {
	g, gctx := errgroup.WithContext(ctx)
	if cfg.MaxConcurrency > 0 {
		g.SetLimit(cfg.MaxConcurrency)
	}

	for i, branch := range cfg.Branches {
		i, branch := i, branch
		g.Go(func() error {
			if err := e.runBranch(gctx, x, branch, cfg.BranchTimeout, iteration); err != nil {
				return fmt.Errorf("branch %d: %w", i, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return map[string]any{
		"branches":      len(cfg.Branches),
		"join_strategy": string(wdl.JoinWaitAll),
	}, nil
}

type branchResult struct {
	index int
	err   error
}

// launchBranches starts every branch under the per-node concurrency
// bound and returns the channel their results arrive on. The channel
// is buffered for all branches so no sender ever blocks.
func (e *Engine) launchBranches(ctx context.Context, x *execution, cfg *wdl.ParallelConfig, iteration int) <-chan branchResult {
	results := make(chan branchResult, len(cfg.Branches))
	sem := make(chan struct{}, branchConcurrency(cfg))
	for i, branch := range cfg.Branches {
		i, branch := i, branch
		go func() {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results <- branchResult{index: i, err: ctx.Err()}
				return
			}
			results <- branchResult{index: i, err: e.runBranch(ctx, x, branch, cfg.BranchTimeout, iteration)}
		}()
	}
	return results
}

// parallelWaitAny unblocks on the first branch to succeed. A failed
// branch fails only itself; the node fails only when every branch
// failed. Losing branches are not cancelled: they ride the run
// context, finish on their own, and their node records land late.
func (e *Engine) parallelWaitAny(ctx context.Context, x *execution, cfg *wdl.ParallelConfig, iteration int) (map[string]any, error) {
	results := e.launchBranches(x.runCtx, x, cfg, iteration)

	var lastErr error
	for seen := 0; seen < len(cfg.Branches); seen++ {
		select {
		case res := <-results:
			if res.err == nil {
				return map[string]any{
					"branches":      len(cfg.Branches),
					"join_strategy": string(wdl.JoinWaitAny),
					"winner":        res.index,
				}, nil
			}
			lastErr = res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, types.NewError(types.ErrAgentFailed, "all parallel branches failed").WithCause(lastErr)
}

// parallelWaitFirst unblocks on the first branch to finish, success or
// failure, and cancels the remaining branches.
func (e *Engine) parallelWaitFirst(ctx context.Context, x *execution, cfg *wdl.ParallelConfig, iteration int) (map[string]any, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := e.launchBranches(raceCtx, x, cfg, iteration)

	select {
	case res := <-results:
		cancel()
		if res.err != nil {
			return nil, res.err
		}
		return map[string]any{
			"branches":      len(cfg.Branches),
			"join_strategy": string(wdl.JoinWaitFirst),
			"winner":        res.index,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func branchConcurrency(cfg *wdl.ParallelConfig) int {
	if cfg.MaxConcurrency > 0 {
		return cfg.MaxConcurrency
	}
	return len(cfg.Branches)
}

// runBranch executes a branch's nodes sequentially.
func (e *Engine) runBranch(ctx context.Context, x *execution, branch []string, timeout time.Duration, iteration int) error {
	branchCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		branchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for _, nodeID := range branch {
		node, ok := x.def.GetNode(nodeID)
		if !ok {
			return types.NewError(types.ErrValidationFailed,
				fmt.Sprintf("branch references unknown node %s", nodeID))
		}
		if err := e.runNode(branchCtx, x, node, iteration); err != nil {
			return err
		}
		if branchCtx.Err() != nil {
			return branchCtx.Err()
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// loop node
// ---------------------------------------------------------------------------

const defaultMaxIterations = 100

func (e *Engine) handleLoop(ctx context.Context, x *execution, node *wdl.Node) (map[string]any, error) {
	cfg := node.Loop
	if cfg == nil {
		return nil, types.NewError(types.ErrMissingParameter, "loop node has no loop config")
	}

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}

	iterations := 0
	runBody := func(iterValue any) error {
		iterations++
		if iterations > maxIter {
			return types.NewError(types.ErrMaxIterationsExceeded,
				fmt.Sprintf("loop %s exceeded max iterations (%d)", node.ID, maxIter)).
				WithNodeID(node.ID)
		}

		if cfg.IterationVariable != "" {
			x.vars.Set(cfg.IterationVariable, iterValue, nodeKey(node.ID, iterations))
		}

		for _, bodyID := range cfg.Body {
			bodyNode, ok := x.def.GetNode(bodyID)
			if !ok {
				return types.NewError(types.ErrValidationFailed,
					fmt.Sprintf("loop body references unknown node %s", bodyID))
			}
			if err := e.runNode(ctx, x, bodyNode, iterations); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return nil
	}

	switch cfg.Type {
	case wdl.LoopTypeWhile:
		if cfg.Condition == nil {
			return nil, types.NewError(types.ErrMissingParameter,
				fmt.Sprintf("while loop %s has no condition", node.ID))
		}
		for cfg.Condition.Evaluate(x.vars.All(false)) {
			if err := runBody(iterations + 1); err != nil {
				return nil, err
			}
		}

	case wdl.LoopTypeFor:
		step := cfg.Step
		if step == 0 {
			step = 1
		}
		if step > 0 {
			for v := cfg.StartValue; v < cfg.EndValue; v += step {
				if err := runBody(v); err != nil {
					return nil, err
				}
			}
		} else {
			for v := cfg.StartValue; v > cfg.EndValue; v += step {
				if err := runBody(v); err != nil {
					return nil, err
				}
			}
		}

	case wdl.LoopTypeForEach:
		raw, ok := x.vars.Get(cfg.IterableVariable)
		if !ok {
			return nil, types.NewError(types.ErrMissingParameter,
				fmt.Sprintf("foreach loop %s: variable %s is not set", node.ID, cfg.IterableVariable))
		}
		items, err := asIterable(raw)
		if err != nil {
			return nil, types.NewError(types.ErrValidationFailed,
				fmt.Sprintf("foreach loop %s: variable %s is not iterable", node.ID, cfg.IterableVariable)).
				WithCause(err)
		}
		for _, item := range items {
			if err := runBody(item); err != nil {
				return nil, err
			}
		}

	default:
		return nil, types.NewError(types.ErrValidationFailed,
			fmt.Sprintf("unknown loop type %s", cfg.Type))
	}

	return map[string]any{"iterations": iterations}, nil
}

func asIterable(raw any) ([]any, error) {
	switch v := raw.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case []int:
		out := make([]any, len(v))
		for i, n := range v {
			out[i] = n
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value of type %T is not a collection", raw)
	}
}

// ---------------------------------------------------------------------------
// mcp_call node
// ---------------------------------------------------------------------------

func (e *Engine) handleMCPCall(ctx context.Context, x *execution, node *wdl.Node) (map[string]any, error) {
	cfg := node.MCPCall
	if cfg == nil {
		return nil, types.NewError(types.ErrMissingParameter, "mcp_call node has no call config")
	}

	params := make(map[string]any, len(cfg.ServiceParameters))
	for k, v := range cfg.ServiceParameters {
		params[k] = v
	}
	for k, v := range e.resolveInputs(x, node) {
		params[k] = v
	}

	var key string
	if cfg.CacheResults {
		key = cacheKey(cfg.CapabilityCategory, params)
		if cached, ok := x.mcp.get(key); ok {
			e.metrics.cacheHit()
			e.appendLog(x, "info", node.ID, "mcp call served from cache", map[string]any{
				"category": cfg.CapabilityCategory,
			})
			return cached, nil
		}
	}

	servers, err := e.mcp.SelectServers(ctx, cfg.ServerSelection, cfg.CapabilityCategory)
	if err != nil {
		return nil, err
	}
	candidates := appendMissing(servers, cfg.FallbackServers)

	var lastErr error
	for i, server := range candidates {
		if i > 0 {
			e.metrics.fallbackUsed()
			e.appendLog(x, "warn", node.ID, "mcp call falling back", map[string]any{
				"server":   server,
				"category": cfg.CapabilityCategory,
			})
		}

		result, callErr := e.mcp.Call(ctx, server, cfg.CapabilityCategory, params)
		if callErr == nil {
			if cfg.CacheResults {
				x.mcp.put(key, result)
			}
			return result, nil
		}
		lastErr = callErr
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, types.NewError(types.ErrMCPCallFailed,
		fmt.Sprintf("all %d candidate servers failed for capability %s", len(candidates), cfg.CapabilityCategory)).
		WithCause(lastErr).WithRetryable(true)
}

func appendMissing(base, extras []string) []string {
	seen := make(map[string]bool, len(base))
	out := make([]string, 0, len(base)+len(extras))
	for _, s := range base {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range extras {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// human_approval node
// ---------------------------------------------------------------------------

const (
	actionApprove = "approve"
	actionReject  = "reject"
)

func (e *Engine) handleHumanApproval(ctx context.Context, x *execution, node *wdl.Node) (map[string]any, error) {
	cfg := node.HumanApproval
	if cfg == nil {
		return nil, types.NewError(types.ErrMissingParameter, "human_approval node has no approval config")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultApprovalTimeout.Std()
	}
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}

	options := cfg.Options
	if len(options) == 0 {
		options = []string{actionApprove, actionReject}
	}
	defaultAction := cfg.DefaultAction
	if defaultAction == "" {
		defaultAction = actionReject
	}

	x.setNodeStatus(node.ID, 0, NodeWaiting)
	x.setStatus(ExecutionWaitingApproval)
	e.persist(ctx, x)

	defer func() {
		if x.currentStatus() == ExecutionWaitingApproval {
			x.setStatus(ExecutionRunning)
		}
	}()

	approval, decisionCh := e.approvals.create(x.id, node.ID, cfg.Message, options, defaultAction, timeout)
	e.metrics.approvalOpened()
	defer e.metrics.approvalClosed()

	channels := cfg.NotificationChannels
	if len(channels) == 0 {
		channels = []string{"log"}
	}
	for _, channel := range channels {
		if err := e.notifier.Notify(ctx, channel, approval); err != nil {
			e.logger.Warn("approval notification failed",
				zap.String("execution_id", x.id),
				zap.String("channel", channel),
				zap.Error(err),
			)
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		decision Decision
		timedOut bool
	)
	select {
	case d, ok := <-decisionCh:
		if !ok {
			return nil, types.NewError(types.ErrCancelled, "approval cancelled").WithNodeID(node.ID)
		}
		decision = d

	case <-timer.C:
		e.approvals.expire(approval.ID)
		timedOut = true
		decision = Decision{Option: defaultAction, DecidedBy: "timeout"}
		e.appendLog(x, "warn", node.ID, "approval timed out, applying default action", map[string]any{
			"default_action": defaultAction,
			"timeout":        timeout.String(),
		})

	case <-ctx.Done():
		e.approvals.expire(approval.ID)
		return nil, types.NewError(types.ErrCancelled, "approval interrupted").
			WithNodeID(node.ID).WithCause(ctx.Err())
	}

	approved := decision.Option == actionApprove
	output := map[string]any{
		"approved":   approved,
		"decision":   decision.Option,
		"decided_by": decision.DecidedBy,
		"comment":    decision.Comment,
		"timed_out":  timedOut,
	}

	if !approved {
		code := types.ErrApprovalRejected
		if timedOut {
			code = types.ErrApprovalTimeout
		}
		return nil, types.NewError(code,
			fmt.Sprintf("approval %s resolved to %q", node.ID, decision.Option)).
			WithNodeID(node.ID)
	}

	e.appendLog(x, "info", node.ID, "approval granted", map[string]any{
		"decided_by": decision.DecidedBy,
	})
	return output, nil
}
