package templates

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/wdl"
)

// ParamType tags the expected shape of a template parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamArray   ParamType = "array"
	ParamObject  ParamType = "object"
)

// ParamSpec describes one parameter a template accepts.
type ParamSpec struct {
	Type        ParamType
	Required    bool
	Default     any
	Description string
}

// BuildFunc materializes a workflow definition from resolved parameters.
// Required parameters are guaranteed present and defaults applied before
// the function runs.
type BuildFunc func(params map[string]any) (*wdl.Definition, error)

// Template is a named, parameterized workflow factory.
type Template struct {
	ID          string
	Name        string
	Description string
	Parameters  map[string]ParamSpec
	Build       BuildFunc
}

// Registry holds templates keyed by id. Construct one per process and
// pass it to consumers; there is no package-level default.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry creates a registry preloaded with the given templates.
// Use NewRegistry(Builtins()...) for the stock library.
func NewRegistry(templates ...*Template) *Registry {
	r := &Registry{templates: make(map[string]*Template)}
	for _, t := range templates {
		r.templates[t.ID] = t
	}
	return r
}

// Register adds a template. Registering an id twice replaces the
// previous entry.
func (r *Registry) Register(t *Template) error {
	if t == nil || t.ID == "" {
		return types.NewError(types.ErrSyntaxError, "template must have an id")
	}
	if t.Build == nil {
		return types.NewError(types.ErrSyntaxError, fmt.Sprintf("template %s has no build function", t.ID))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return nil
}

// Get returns the template registered under id.
func (r *Registry) Get(id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, types.NewError(types.ErrTemplateNotFound, fmt.Sprintf("template not found: %s", id))
	}
	return t, nil
}

// List returns the registered templates sorted by id.
func (r *Registry) List() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Instantiate resolves parameters against the template's schema and
// builds a definition. Missing required parameters abort with the full
// list of problems; declared defaults fill in absent optional ones.
func (r *Registry) Instantiate(id string, params map[string]any) (*wdl.Definition, error) {
	t, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]any, len(t.Parameters))
	for k, v := range params {
		resolved[k] = v
	}

	var missing []string
	names := make([]string, 0, len(t.Parameters))
	for name := range t.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := t.Parameters[name]
		if _, ok := resolved[name]; ok {
			continue
		}
		if spec.Required {
			missing = append(missing, fmt.Sprintf("missing required parameter: %s", name))
			continue
		}
		if spec.Default != nil {
			resolved[name] = spec.Default
		}
	}
	if len(missing) > 0 {
		return nil, types.NewError(types.ErrMissingParameter,
			fmt.Sprintf("template %s: %d required parameter(s) missing", id, len(missing))).
			WithProblems(missing)
	}

	return t.Build(resolved)
}
