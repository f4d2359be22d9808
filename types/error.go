package types

import "fmt"

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Workflow construction error codes
const (
	ErrSyntaxError      ErrorCode = "SYNTAX_ERROR"
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrTemplateNotFound ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrMissingParameter ErrorCode = "MISSING_PARAMETER"
)

// Execution error codes
const (
	ErrExecutionNotFound     ErrorCode = "EXECUTION_NOT_FOUND"
	ErrInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	ErrNodeTimeout           ErrorCode = "NODE_TIMEOUT"
	ErrMaxIterationsExceeded ErrorCode = "MAX_ITERATIONS_EXCEEDED"
	ErrAgentFailed           ErrorCode = "AGENT_FAILED"
	ErrAgentNotFound         ErrorCode = "AGENT_NOT_FOUND"
	ErrMCPCallFailed         ErrorCode = "MCP_CALL_FAILED"
	ErrApprovalTimeout       ErrorCode = "APPROVAL_TIMEOUT"
	ErrApprovalRejected      ErrorCode = "APPROVAL_REJECTED"
	ErrCancelled             ErrorCode = "CANCELLED"
	ErrInternalError         ErrorCode = "INTERNAL_ERROR"
)

// Store error codes
const (
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrNotFound         ErrorCode = "NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	NodeID    string    `json:"node_id,omitempty"`
	Problems  []string  `json:"problems,omitempty"`
	// HTTPStatus overrides the default code-to-status mapping at the
	// API layer. Zero means "use the mapping".
	HTTPStatus int   `json:"-"`
	Cause      error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithNodeID attaches the id of the node the error originated from.
func (e *Error) WithNodeID(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// WithProblems attaches the full list of structural problems to a
// syntax or validation error.
func (e *Error) WithProblems(problems []string) *Error {
	e.Problems = problems
	return e
}

// WithHTTPStatus pins the HTTP status the API layer should respond with.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
