// Package flowforge provides a top-level convenience entry point for building
// and running workflows with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/flowforge"
//
//	def, err := flowforge.NewBuilder("my pipeline").
//		AddStart("start").Done().
//		AddEnd("end").Done().
//		Connect("start", "end").
//		Build()
//
//	eng := flowforge.NewEngine(flowforge.DefaultConfig().Engine)
//	id, err := eng.ExecuteWorkflow(ctx, def, nil)
//
// This is a thin wrapper around the wdl, engine, templates and config
// packages; use it when you prefer the shorter import path.
package flowforge

import (
	"github.com/BaSui01/flowforge/config"
	"github.com/BaSui01/flowforge/engine"
	"github.com/BaSui01/flowforge/templates"
	"github.com/BaSui01/flowforge/wdl"
)

// Definition is the static workflow graph produced by the builder,
// parser or a template.
type Definition = wdl.Definition

// Builder accumulates a workflow graph fluently.
type Builder = wdl.Builder

// Engine runs workflow definitions.
type Engine = engine.Engine

// Option configures the engine created by [NewEngine].
type Option = engine.Option

// NewBuilder starts a fluent workflow definition.
func NewBuilder(name string) *Builder {
	return wdl.NewBuilder(name)
}

// NewEngine creates a workflow engine. Collaborators default to local
// in-memory implementations; override via engine options.
func NewEngine(cfg config.EngineConfig, opts ...Option) *Engine {
	return engine.New(cfg, opts...)
}

// NewTemplateRegistry returns a registry preloaded with the built-in
// template library.
func NewTemplateRegistry() *templates.Registry {
	return templates.NewRegistry(templates.Builtins()...)
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *config.Config {
	return config.Default()
}

// Re-export parse/export entry points so callers never need to import wdl/.

// FromYAML reads a YAML workflow document.
var FromYAML = wdl.FromYAML

// FromJSON reads a JSON workflow document.
var FromJSON = wdl.FromJSON

// ToYAML renders a definition as a YAML document.
var ToYAML = wdl.ToYAML

// ToJSON renders a definition as a JSON document.
var ToJSON = wdl.ToJSON

// Validate reports every structural problem in a definition.
var Validate = wdl.Validate
