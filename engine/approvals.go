package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/types"
)

// ApprovalStatus is the lifecycle state of a human approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalResolved ApprovalStatus = "resolved"
	ApprovalExpired  ApprovalStatus = "expired"
	ApprovalCanceled ApprovalStatus = "canceled"
)

// Approval is a pending or resolved human decision point.
type Approval struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	Message     string         `json:"message"`
	Options     []string       `json:"options"`
	Default     string         `json:"default_action"`
	Status      ApprovalStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	Decision    string         `json:"decision,omitempty"`
	DecidedBy   string         `json:"decided_by,omitempty"`
	Comment     string         `json:"comment,omitempty"`
}

// Decision is a human response to an approval request.
type Decision struct {
	Option    string
	DecidedBy string
	Comment   string
}

type pendingApproval struct {
	approval   *Approval
	decisionCh chan Decision
}

// approvalManager tracks in-flight approval requests and routes human
// decisions to the node goroutines waiting on them.
type approvalManager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	pending map[string]*pendingApproval
}

func newApprovalManager(logger *zap.Logger) *approvalManager {
	return &approvalManager{
		logger:  logger.With(zap.String("component", "approval_manager")),
		pending: make(map[string]*pendingApproval),
	}
}

// create registers a new pending approval and returns it with its
// decision channel.
func (m *approvalManager) create(executionID, nodeID, message string, options []string, defaultAction string, timeout time.Duration) (*Approval, <-chan Decision) {
	now := time.Now()
	approval := &Approval{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Message:     message,
		Options:     options,
		Default:     defaultAction,
		Status:      ApprovalPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(timeout),
	}

	p := &pendingApproval{
		approval:   approval,
		decisionCh: make(chan Decision, 1),
	}

	m.mu.Lock()
	m.pending[approval.ID] = p
	m.mu.Unlock()

	return approval, p.decisionCh
}

// Resolve delivers a human decision to a pending approval. The chosen
// option must be one of the approval's declared options.
func (m *approvalManager) Resolve(approvalID string, decision Decision) error {
	m.mu.Lock()
	p, ok := m.pending[approvalID]
	if !ok {
		m.mu.Unlock()
		return types.NewError(types.ErrNotFound,
			fmt.Sprintf("approval %s is not pending", approvalID))
	}
	delete(m.pending, approvalID)
	m.mu.Unlock()

	if len(p.approval.Options) > 0 && !containsString(p.approval.Options, decision.Option) {
		// Put it back so a corrected decision can still land.
		m.mu.Lock()
		m.pending[approvalID] = p
		m.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("option %q is not offered by approval %s", decision.Option, approvalID))
	}

	now := time.Now()
	p.approval.Status = ApprovalResolved
	p.approval.ResolvedAt = &now
	p.approval.Decision = decision.Option
	p.approval.DecidedBy = decision.DecidedBy
	p.approval.Comment = decision.Comment

	p.decisionCh <- decision

	m.logger.Info("approval resolved",
		zap.String("approval_id", approvalID),
		zap.String("execution_id", p.approval.ExecutionID),
		zap.String("option", decision.Option),
		zap.String("decided_by", decision.DecidedBy),
	)
	return nil
}

// expire removes a pending approval after its timeout fired.
func (m *approvalManager) expire(approvalID string) {
	m.mu.Lock()
	if p, ok := m.pending[approvalID]; ok {
		p.approval.Status = ApprovalExpired
		delete(m.pending, approvalID)
	}
	m.mu.Unlock()
}

// cancelExecution drops all pending approvals belonging to an execution.
func (m *approvalManager) cancelExecution(executionID string) {
	m.mu.Lock()
	for id, p := range m.pending {
		if p.approval.ExecutionID == executionID {
			p.approval.Status = ApprovalCanceled
			close(p.decisionCh)
			delete(m.pending, id)
		}
	}
	m.mu.Unlock()
}

// PendingApprovals lists unresolved approvals, optionally filtered by
// execution ID.
func (m *approvalManager) PendingApprovals(executionID string) []*Approval {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Approval
	for _, p := range m.pending {
		if executionID != "" && p.approval.ExecutionID != executionID {
			continue
		}
		cp := *p.approval
		out = append(out, &cp)
	}
	return out
}

// find returns the pending approval for a node, if any.
func (m *approvalManager) find(executionID, nodeID string) (*Approval, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.pending {
		if p.approval.ExecutionID == executionID && p.approval.NodeID == nodeID {
			cp := *p.approval
			return &cp, true
		}
	}
	return nil, false
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
