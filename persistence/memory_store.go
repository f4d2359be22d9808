package persistence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of ExecutionStore.
// Suitable for development and testing. Data is lost on restart.
type MemoryStore struct {
	executions map[string]*ExecutionRecord
	logs       map[string][]*LogEntry
	mu         sync.RWMutex
	closed     bool
}

// NewMemoryStore creates a new in-memory execution store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[string]*ExecutionRecord),
		logs:       make(map[string][]*LogEntry),
	}
}

// SaveExecution inserts or replaces an execution record.
func (s *MemoryStore) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	cp := *rec
	cp.UpdatedAt = time.Now()
	s.executions[rec.ID] = &cp
	return nil
}

// LoadExecution retrieves a record by execution ID.
func (s *MemoryStore) LoadExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rec, ok := s.executions[executionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListExecutions returns records matching the filter, newest first.
func (s *MemoryStore) ListExecutions(ctx context.Context, filter ListFilter) ([]*ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make([]*ExecutionRecord, 0, len(s.executions))
	for _, rec := range s.executions {
		if filter.WorkflowID != "" && rec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// AppendLog appends one log entry to an execution's log.
func (s *MemoryStore) AppendLog(ctx context.Context, entry *LogEntry) error {
	if entry == nil || entry.ExecutionID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	cp := *entry
	cp.Seq = len(s.logs[entry.ExecutionID])
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	s.logs[entry.ExecutionID] = append(s.logs[entry.ExecutionID], &cp)
	return nil
}

// LoadLog returns all log entries for an execution in append order.
func (s *MemoryStore) LoadLog(ctx context.Context, executionID string) ([]*LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	entries := s.logs[executionID]
	out := make([]*LogEntry, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// Ping checks if the store is healthy.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
