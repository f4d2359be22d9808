package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/flowforge/wdl"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionPending         ExecutionStatus = "pending"
	ExecutionRunning         ExecutionStatus = "running"
	ExecutionPaused          ExecutionStatus = "paused"
	ExecutionWaitingApproval ExecutionStatus = "waiting_approval"
	ExecutionCompleted       ExecutionStatus = "completed"
	ExecutionFailed          ExecutionStatus = "failed"
	ExecutionCancelled       ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// NodeStatus is the lifecycle state of a single node run.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeWaiting   NodeStatus = "waiting"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// Terminal reports whether a node run has finished one way or another.
func (s NodeStatus) Terminal() bool {
	return s == NodeCompleted || s == NodeFailed || s == NodeSkipped
}

// NodeExecution records one run of a node. Loop body nodes get one
// record per iteration, keyed "nodeID#iteration".
type NodeExecution struct {
	Key        string         `json:"key"`
	NodeID     string         `json:"node_id"`
	NodeType   wdl.NodeType   `json:"node_type"`
	Iteration  int            `json:"iteration"`
	Status     NodeStatus     `json:"status"`
	Attempts   int            `json:"attempts"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// nodeKey builds the NodeExecution key for a node at a given iteration.
// Top-level runs use iteration 0 and a bare node ID.
func nodeKey(nodeID string, iteration int) string {
	if iteration == 0 {
		return nodeID
	}
	return fmt.Sprintf("%s#%d", nodeID, iteration)
}

// execution is the live, in-memory state of one workflow run.
// All mutation goes through the mutex; the run loop owns scheduling.
type execution struct {
	id  string
	def *wdl.Definition

	// runCtx spans the whole run. Work that outlives a single node
	// attempt (wait_any losers, no_wait branches) hangs off it rather
	// than the attempt context.
	runCtx context.Context

	mu        sync.RWMutex
	status    ExecutionStatus
	startedAt time.Time
	finished  *time.Time
	nodes     map[string]*NodeExecution
	order     []string // node execution keys in creation order
	vars      *varContext
	failure   error

	paused   bool
	cancel   func()
	resumeCh chan struct{}
	wake     chan struct{} // nudges the scheduler loop
	doneCh   chan struct{} // closed when the run loop exits

	spawned map[string]string // spawn node ID -> agent ID
	mcp     *mcpCache
}

func newExecution(id string, def *wdl.Definition, vars *varContext, runCtx context.Context, cancel func()) *execution {
	return &execution{
		id:        id,
		def:       def,
		runCtx:    runCtx,
		status:    ExecutionPending,
		startedAt: time.Now(),
		nodes:     make(map[string]*NodeExecution),
		vars:      vars,
		cancel:    cancel,
		resumeCh:  make(chan struct{}, 1),
		wake:      make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		spawned:   make(map[string]string),
		mcp:       newMCPCache(),
	}
}

// record returns the NodeExecution for a key, creating it on first use.
func (x *execution) record(nodeID string, iteration int) *NodeExecution {
	key := nodeKey(nodeID, iteration)
	x.mu.Lock()
	defer x.mu.Unlock()

	rec, ok := x.nodes[key]
	if !ok {
		node, _ := x.def.GetNode(nodeID)
		rec = &NodeExecution{Key: key, NodeID: nodeID, Iteration: iteration, Status: NodePending}
		if node != nil {
			rec.NodeType = node.Type
		}
		x.nodes[key] = rec
		x.order = append(x.order, key)
	}
	return rec
}

func (x *execution) nodeStatus(nodeID string) NodeStatus {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if rec, ok := x.nodes[nodeID]; ok {
		return rec.Status
	}
	return NodePending
}

func (x *execution) setNodeStatus(nodeID string, iteration int, status NodeStatus) {
	rec := x.record(nodeID, iteration)
	x.mu.Lock()
	defer x.mu.Unlock()
	rec.Status = status
	switch status {
	case NodeRunning:
		if rec.StartedAt.IsZero() {
			rec.StartedAt = time.Now()
		}
	case NodeCompleted, NodeFailed, NodeSkipped:
		now := time.Now()
		rec.FinishedAt = &now
	}
}

func (x *execution) currentStatus() ExecutionStatus {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.status
}

func (x *execution) setStatus(status ExecutionStatus) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.status.Terminal() {
		return false
	}
	x.status = status
	if status.Terminal() {
		now := time.Now()
		x.finished = &now
	}
	return true
}

// nudge wakes the scheduler loop without blocking.
func (x *execution) nudge() {
	select {
	case x.wake <- struct{}{}:
	default:
	}
}

// progressLocked is the completion percentage over distinct node ids,
// unweighted: |completed| / |nodes| * 100. Caller holds the lock.
func (x *execution) progressLocked() float64 {
	total := len(x.def.Nodes)
	if total == 0 {
		return 0
	}
	completed := make(map[string]bool)
	for _, rec := range x.nodes {
		if rec.Status == NodeCompleted {
			completed[rec.NodeID] = true
		}
	}
	return float64(len(completed)) / float64(total) * 100
}

// Snapshot is the serializable state written to the execution store.
type Snapshot struct {
	Nodes     []*NodeExecution `json:"nodes"`
	Variables map[string]any   `json:"variables"`
	Progress  float64          `json:"progress"`
	Failure   string           `json:"failure,omitempty"`
}

func (x *execution) snapshot() json.RawMessage {
	x.mu.RLock()
	snap := Snapshot{Nodes: make([]*NodeExecution, 0, len(x.order))}
	for _, key := range x.order {
		cp := *x.nodes[key]
		snap.Nodes = append(snap.Nodes, &cp)
	}
	snap.Progress = x.progressLocked()
	if x.failure != nil {
		snap.Failure = x.failure.Error()
	}
	x.mu.RUnlock()

	snap.Variables = x.vars.All(false)
	data, err := json.Marshal(&snap)
	if err != nil {
		return nil
	}
	return data
}

// Status is the externally visible summary of an execution.
type Status struct {
	ExecutionID  string           `json:"execution_id"`
	WorkflowID   string           `json:"workflow_id"`
	WorkflowName string           `json:"workflow_name"`
	Status       ExecutionStatus  `json:"status"`
	Progress     float64          `json:"progress"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
	CurrentNodes []string         `json:"current_nodes"`
	Nodes        []*NodeExecution `json:"nodes"`
	Variables    map[string]any   `json:"variables"`
	Error        string           `json:"error,omitempty"`
}

func (x *execution) statusSummary() *Status {
	x.mu.RLock()
	defer x.mu.RUnlock()

	st := &Status{
		ExecutionID:  x.id,
		WorkflowID:   x.def.ID,
		WorkflowName: x.def.Name,
		Status:       x.status,
		StartedAt:    x.startedAt,
		FinishedAt:   x.finished,
	}
	for _, key := range x.order {
		rec := x.nodes[key]
		cp := *rec
		st.Nodes = append(st.Nodes, &cp)
		if rec.Status == NodeRunning || rec.Status == NodeWaiting {
			st.CurrentNodes = append(st.CurrentNodes, rec.NodeID)
		}
	}
	st.Progress = x.progressLocked()
	if x.failure != nil {
		st.Error = x.failure.Error()
	}
	st.Variables = x.vars.All(true)
	return st
}
