package engine

import (
	"sync"
	"time"

	"github.com/BaSui01/flowforge/wdl"
)

// VariableChange is one entry in a variable's audit trail.
type VariableChange struct {
	Name      string    `json:"name"`
	Value     any       `json:"value"`
	SourceKey string    `json:"source_key,omitempty"` // node execution key that wrote it
	Timestamp time.Time `json:"timestamp"`
}

// varContext holds an execution's variables behind a lock so parallel
// branches can read and write concurrently. Sensitive variables are
// tracked so queries and logs can redact them.
type varContext struct {
	mu        sync.RWMutex
	values    map[string]any
	sensitive map[string]bool
	audit     []VariableChange
}

const redacted = "[REDACTED]"

func newVarContext(defaults map[string]wdl.Variable, initial map[string]any) *varContext {
	vc := &varContext{
		values:    make(map[string]any),
		sensitive: make(map[string]bool),
	}
	for name, v := range defaults {
		vc.values[name] = v.Value
		if v.Sensitive {
			vc.sensitive[name] = true
		}
	}
	// Caller-supplied variables override workflow defaults.
	for name, v := range initial {
		vc.values[name] = v
	}
	return vc
}

func (vc *varContext) Get(name string) (any, bool) {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	v, ok := vc.values[name]
	return v, ok
}

func (vc *varContext) Set(name string, value any, sourceKey string) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.values[name] = value
	vc.audit = append(vc.audit, VariableChange{
		Name:      name,
		Value:     value,
		SourceKey: sourceKey,
		Timestamp: time.Now(),
	})
}

func (vc *varContext) MarkSensitive(name string) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.sensitive[name] = true
}

// All returns a copy of the variable map. With redact set, sensitive
// values are replaced so the copy is safe to expose in queries or logs.
func (vc *varContext) All(redact bool) map[string]any {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	out := make(map[string]any, len(vc.values))
	for name, v := range vc.values {
		if redact && vc.sensitive[name] {
			out[name] = redacted
			continue
		}
		out[name] = v
	}
	return out
}

// Audit returns the ordered history of variable writes.
func (vc *varContext) Audit() []VariableChange {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	out := make([]VariableChange, len(vc.audit))
	copy(out, vc.audit)
	return out
}
