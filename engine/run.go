package engine

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/wdl"
)

// run is the per-execution scheduler loop. It launches nodes as their
// dependencies settle, bounded by the parallelism semaphore, until
// every top-level node reaches a terminal state.
func (e *Engine) run(ctx context.Context, x *execution) {
	defer close(x.doneCh)

	ctx, span := e.tracer.Start(ctx, "workflow.execute")
	span.SetAttributes(
		attribute.String("workflow.execution_id", x.id),
		attribute.String("workflow.id", x.def.ID),
		attribute.String("workflow.name", x.def.Name),
	)
	defer span.End()

	x.setStatus(ExecutionRunning)

	sem := e.sem(x.def)
	topLevel := topLevelNodes(x.def)
	launched := make(map[string]bool)

	var wg sync.WaitGroup

scheduling:
	for {
		if ctx.Err() != nil || x.currentStatus().Terminal() {
			break
		}

		// Pause gate: running nodes drain, nothing new launches.
		x.mu.RLock()
		paused := x.paused
		x.mu.RUnlock()
		if paused {
			if x.currentStatus() == ExecutionRunning {
				x.setStatus(ExecutionPaused)
				e.persist(ctx, x)
			}
			select {
			case <-x.resumeCh:
				x.setStatus(ExecutionRunning)
				e.persist(ctx, x)
				continue
			case <-ctx.Done():
				break scheduling
			}
		}

		// A recorded failure stops new launches; in-flight nodes drain
		// and everything not yet launched settles as skipped so the
		// loop can reach its exit condition.
		x.mu.RLock()
		failed := x.failure != nil
		x.mu.RUnlock()

		progressed := false
		for _, nodeID := range topLevel {
			if launched[nodeID] {
				continue
			}
			ready := e.evaluateReadiness(x, nodeID)
			if failed && ready == nodeReady {
				ready = nodeUnreachable
			}
			switch ready {
			case nodeReady:
				launched[nodeID] = true
				progressed = true
				node, _ := x.def.GetNode(nodeID)
				x.setNodeStatus(nodeID, 0, NodeWaiting)

				wg.Add(1)
				go func(node *wdl.Node) {
					defer wg.Done()
					// Approval gates park for their whole decision
					// window and must not hold a parallelism slot
					// while waiting.
					if node.Type != wdl.NodeTypeHumanApproval {
						if err := sem.Acquire(ctx, 1); err != nil {
							x.setNodeStatus(node.ID, 0, NodeSkipped)
							x.nudge()
							return
						}
						defer sem.Release(1)
					}
					e.executeNode(ctx, x, node, 0)
					x.nudge()
				}(node)

			case nodeUnreachable:
				launched[nodeID] = true
				progressed = true
				x.setNodeStatus(nodeID, 0, NodeSkipped)
				msg := "node skipped: no inbound path selected"
				if failed {
					msg = "node skipped: upstream failure"
				}
				e.appendLog(x, "info", nodeID, msg, nil)
			}
		}

		if e.allSettled(x, topLevel, launched) {
			break
		}
		if progressed {
			continue
		}

		select {
		case <-x.wake:
		case <-ctx.Done():
		}
	}

	wg.Wait()
	e.finish(ctx, x, span)
}

// finish settles the terminal status, releases agents and persists the
// final state.
func (e *Engine) finish(ctx context.Context, x *execution, span trace.Span) {
	x.mu.RLock()
	failure := x.failure
	spawned := make([]string, 0, len(x.spawned))
	for _, agentID := range x.spawned {
		if agentID != "" {
			spawned = append(spawned, agentID)
		}
	}
	x.mu.RUnlock()

	switch {
	case x.currentStatus() == ExecutionCancelled:
		e.cancelledTotal.Add(1)
		span.SetStatus(codes.Error, "cancelled")
	case failure != nil:
		x.setStatus(ExecutionFailed)
		e.failedTotal.Add(1)
		span.SetStatus(codes.Error, failure.Error())
		e.appendLog(x, "error", "", "workflow execution failed", map[string]any{
			"error": failure.Error(),
		})
	default:
		x.setStatus(ExecutionCompleted)
		e.completedTotal.Add(1)
		span.SetStatus(codes.Ok, "")
		e.appendLog(x, "info", "", "workflow execution completed", nil)
	}

	// Release any agents the execution spawned.
	releaseCtx := context.WithoutCancel(ctx)
	for _, agentID := range spawned {
		if err := e.agents.ReleaseAgent(releaseCtx, agentID); err != nil {
			e.logger.Warn("failed to release agent",
				zap.String("execution_id", x.id),
				zap.String("agent_id", agentID),
				zap.Error(err),
			)
		}
	}

	e.metrics.executionFinished(x.currentStatus())
	e.persist(releaseCtx, x)

	e.logger.Info("workflow execution finished",
		zap.String("execution_id", x.id),
		zap.String("status", string(x.currentStatus())),
	)
}

type readiness int

const (
	nodeBlocked readiness = iota
	nodeReady
	nodeUnreachable
)

// evaluateReadiness decides whether a top-level node can run. A node is
// ready when every upstream dependency settled and at least one inbound
// edge fired (or it has no inbound edges at all). When all upstream
// settled but no edge fired, the node is unreachable and gets skipped.
func (e *Engine) evaluateReadiness(x *execution, nodeID string) readiness {
	node, ok := x.def.GetNode(nodeID)
	if !ok {
		return nodeUnreachable
	}

	inbound := x.def.InboundEdges(nodeID)

	// Explicit depends_on predecessors are ordering constraints: they
	// must settle, in any terminal state, before the node runs.
	for _, dep := range node.DependsOn {
		if !x.nodeStatus(dep).Terminal() {
			return nodeBlocked
		}
	}

	if len(inbound) == 0 {
		return nodeReady
	}

	allSettled := true
	fired := false
	for _, edge := range inbound {
		st := x.nodeStatus(edge.From)
		if !st.Terminal() {
			allSettled = false
			continue
		}
		if e.edgeFires(x, edge) {
			fired = true
		}
	}

	// A fan-in target waits for every inbound source, fired or not.
	if !allSettled {
		return nodeBlocked
	}
	if fired {
		return nodeReady
	}
	// Every inbound source settled and none selected this node.
	return nodeUnreachable
}

// edgeFires reports whether a settled edge routes control to its
// target: the source completed (or failed with skip_on_failure), the
// edge condition holds, and a condition source selected this target.
func (e *Engine) edgeFires(x *execution, edge wdl.Edge) bool {
	st := x.nodeStatus(edge.From)
	switch st {
	case NodeCompleted:
	case NodeFailed:
		node, ok := x.def.GetNode(edge.From)
		if !ok || !node.SkipOnFailure {
			return false
		}
	default:
		return false
	}

	if edge.Condition != nil && !edge.Condition.Evaluate(x.vars.All(false)) {
		return false
	}

	return e.sourceSelects(x, edge)
}

// sourceSelects applies condition-node path routing. For a condition
// source carrying legacy true_path/false_path lists, the edge only
// fires when its target sits on the branch matching the evaluated
// result. Targets on neither list pass through unconditionally.
func (e *Engine) sourceSelects(x *execution, edge wdl.Edge) bool {
	node, ok := x.def.GetNode(edge.From)
	if !ok || node.Type != wdl.NodeTypeCondition || node.Condition == nil {
		return true
	}

	cfg := node.Condition
	inTrue := containsString(cfg.TruePath, edge.To)
	inFalse := containsString(cfg.FalsePath, edge.To)
	if !inTrue && !inFalse {
		return true
	}

	x.mu.RLock()
	rec := x.nodes[edge.From]
	x.mu.RUnlock()
	result := false
	if rec != nil && rec.Output != nil {
		if r, ok := rec.Output["result"].(bool); ok {
			result = r
		}
	}

	if result {
		return inTrue
	}
	return inFalse
}

// allSettled reports whether every top-level node reached a terminal
// state (launched nodes included).
func (e *Engine) allSettled(x *execution, topLevel []string, launched map[string]bool) bool {
	for _, nodeID := range topLevel {
		if !launched[nodeID] {
			return false
		}
		if !x.nodeStatus(nodeID).Terminal() {
			return false
		}
	}
	return true
}

// topLevelNodes returns the scheduler-visible node ids: everything
// except loop bodies and parallel branch members, which their owning
// node executes inline. Sorted for deterministic launch order.
func topLevelNodes(def *wdl.Definition) []string {
	interior := make(map[string]bool)
	for _, node := range def.Nodes {
		switch {
		case node.Type == wdl.NodeTypeLoop && node.Loop != nil:
			for _, id := range node.Loop.Body {
				interior[id] = true
			}
		case node.Type == wdl.NodeTypeParallel && node.Parallel != nil:
			for _, branch := range node.Parallel.Branches {
				for _, id := range branch {
					interior[id] = true
				}
			}
		}
	}

	out := make([]string, 0, len(def.Nodes))
	for id := range def.Nodes {
		if !interior[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
