package wdl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearDefinition(t *testing.T) *Definition {
	t.Helper()
	def, err := NewBuilder("linear").
		AddStart("start").Done().
		SpawnAgent("spawn", AgentSpawnConfig{AgentType: "worker"}).Done().
		AddEnd("end").Done().
		Connect("start", "spawn").
		Connect("spawn", "end").
		Build()
	require.NoError(t, err)
	return def
}

func TestValidate_SoundDefinition(t *testing.T) {
	def := linearDefinition(t)
	assert.Empty(t, Validate(def))
}

func TestValidate_MissingStart(t *testing.T) {
	def := linearDefinition(t)
	delete(def.Nodes, "start")

	problems := Validate(def)
	require.NotEmpty(t, problems)
	assert.True(t, containsSubstring(problems, "START"), "problems: %v", problems)
}

func TestValidate_MissingEnd(t *testing.T) {
	def := linearDefinition(t)
	delete(def.Nodes, "end")

	problems := Validate(def)
	assert.True(t, containsSubstring(problems, "END"), "problems: %v", problems)
}

func TestValidate_UnknownEdgeEndpoints(t *testing.T) {
	def := linearDefinition(t)
	def.Edges = append(def.Edges,
		Edge{ID: "bad_from", From: "ghost", To: "end"},
		Edge{ID: "bad_to", From: "start", To: "phantom"},
	)

	problems := Validate(def)
	assert.True(t, containsSubstring(problems, "unknown from_node"), "problems: %v", problems)
	assert.True(t, containsSubstring(problems, "unknown to_node"), "problems: %v", problems)
}

func TestValidate_UnknownDependency(t *testing.T) {
	def := linearDefinition(t)
	def.Nodes["spawn"].DependsOn = []string{"nowhere"}

	problems := Validate(def)
	assert.True(t, containsSubstring(problems, "depends_on"), "problems: %v", problems)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	def := &Definition{
		Nodes: map[string]*Node{},
		Edges: []Edge{{ID: "e1", From: "a", To: "b"}},
	}

	problems := Validate(def)
	// No START, no END, unknown from, unknown to.
	assert.GreaterOrEqual(t, len(problems), 4)
}

func TestValidate_CycleOutsideLoopRejected(t *testing.T) {
	def := linearDefinition(t)
	def.Edges = append(def.Edges, Edge{ID: "back", From: "spawn", To: "start"})

	problems := Validate(def)
	assert.True(t, containsSubstring(problems, "cycle"), "problems: %v", problems)
}

func TestValidate_CycleInsideLoopBodyPermitted(t *testing.T) {
	def, err := NewBuilder("looping").
		AddStart("start").Done().
		AddLoop("loop", LoopConfig{
			Type:          LoopTypeFor,
			StartValue:    0,
			EndValue:      3,
			MaxIterations: 10,
			Body:          []string{"work"},
		}).Done().
		SpawnAgent("work", AgentSpawnConfig{AgentType: "worker"}).Done().
		AddEnd("end").Done().
		Connect("start", "loop").
		Connect("loop", "work").
		Connect("work", "loop").
		Connect("loop", "end").
		Build()
	require.NoError(t, err)
	assert.Empty(t, Validate(def))
}

func TestValidate_UnknownLoopBodyReference(t *testing.T) {
	def := linearDefinition(t)
	def.Nodes["loop"] = &Node{
		ID:   "loop",
		Type: NodeTypeLoop,
		Loop: &LoopConfig{Type: LoopTypeFor, Body: []string{"ghost"}},
	}

	problems := Validate(def)
	assert.True(t, containsSubstring(problems, "loop_body"), "problems: %v", problems)
}

func containsSubstring(problems []string, substr string) bool {
	for _, p := range problems {
		if strings.Contains(p, substr) {
			return true
		}
	}
	return false
}
