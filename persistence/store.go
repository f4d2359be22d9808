// Package persistence provides durable storage for workflow execution
// state and execution logs.
//
// Execution records survive engine restarts so that paused or
// approval-gated workflows can be resumed later.
//
// Supported backends:
// - Memory: For development and testing (default)
// - SQL: sqlite / mysql / postgres via GORM, for single-node deployments
// - Redis: For distributed deployments
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound     = errors.New("execution not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// ExecutionRecord is the persisted form of a workflow execution.
// Snapshot carries the full engine state (variables, node executions,
// loop counters) as an opaque JSON document owned by the engine.
type ExecutionRecord struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	WorkflowName string          `json:"workflow_name"`
	Status       string          `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Snapshot     json.RawMessage `json:"snapshot,omitempty"`
}

// LogEntry is a single append-only execution log record.
type LogEntry struct {
	ExecutionID string         `json:"execution_id"`
	Seq         int            `json:"seq"`
	Timestamp   time.Time      `json:"timestamp"`
	Level       string         `json:"level"`
	NodeID      string         `json:"node_id,omitempty"`
	Message     string         `json:"message"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// ListFilter narrows ListExecutions results. Zero value lists everything.
type ListFilter struct {
	WorkflowID string
	Status     string
	Limit      int
}

// ExecutionStore persists execution records and their logs.
type ExecutionStore interface {
	// SaveExecution inserts or replaces an execution record.
	SaveExecution(ctx context.Context, rec *ExecutionRecord) error

	// LoadExecution retrieves a record by execution ID.
	// Returns ErrNotFound if no such execution exists.
	LoadExecution(ctx context.Context, executionID string) (*ExecutionRecord, error)

	// ListExecutions returns records matching the filter,
	// newest first.
	ListExecutions(ctx context.Context, filter ListFilter) ([]*ExecutionRecord, error)

	// AppendLog appends one log entry to an execution's log.
	AppendLog(ctx context.Context, entry *LogEntry) error

	// LoadLog returns all log entries for an execution in append order.
	LoadLog(ctx context.Context, executionID string) ([]*LogEntry, error)

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
