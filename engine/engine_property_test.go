package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/BaSui01/flowforge/wdl"
)

// Every valid linear chain of agent tasks runs to completion with one
// completed record per node, regardless of chain length.
func TestProperty_LinearChainsComplete(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("linear chains always complete", prop.ForAll(
		func(steps int) bool {
			e := testEngine(t)

			b := wdl.NewBuilder("chain").
				AddStart("start").Done().
				SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "worker", Role: "link"}).Done()
			prev := "spawn"
			b.Connect("start", "spawn")
			for i := 0; i < steps; i++ {
				id := fmt.Sprintf("step_%d", i)
				b.ExecuteAgent(id, wdl.AgentExecuteConfig{
					AgentID:         "spawn",
					TaskDescription: id,
				}).Done()
				b.Connect(prev, id)
				prev = id
			}
			b.AddEnd("end").Done().Connect(prev, "end")

			def, err := b.Build()
			if err != nil {
				return false
			}

			execID, err := e.ExecuteWorkflow(context.Background(), def, nil)
			if err != nil {
				return false
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			st, err := e.Wait(ctx, execID)
			if err != nil || st.Status != ExecutionCompleted {
				return false
			}
			if len(st.Nodes) != steps+3 {
				return false
			}
			for _, rec := range st.Nodes {
				if rec.Status != NodeCompleted {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 8),
	))

	// Condition routing executes exactly one branch for any boolean
	// variable value.
	properties.Property("condition routes exactly one branch", prop.ForAll(
		func(flag bool) bool {
			e := testEngine(t)

			def, err := wdl.NewBuilder("branching").
				AddStart("start").Done().
				SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "worker", Role: "branch"}).Done().
				AddCondition("gate", wdl.ConditionConfig{
					Conditions: []wdl.Condition{
						{Variable: "flag", Operator: wdl.OpEquals, Expected: true},
					},
					TruePath:  []string{"yes"},
					FalsePath: []string{"no"},
				}).Done().
				ExecuteAgent("yes", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "yes"}).Done().
				ExecuteAgent("no", wdl.AgentExecuteConfig{AgentID: "spawn", TaskDescription: "no"}).Done().
				AddEnd("end").Done().
				Connect("start", "spawn").
				Connect("spawn", "gate").
				Connect("gate", "yes").
				Connect("gate", "no").
				Connect("yes", "end").
				Connect("no", "end").
				Build()
			if err != nil {
				return false
			}

			execID, err := e.ExecuteWorkflow(context.Background(), def, map[string]any{"flag": flag})
			if err != nil {
				return false
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			st, err := e.Wait(ctx, execID)
			if err != nil || st.Status != ExecutionCompleted {
				return false
			}

			yes, no := nodeByID(st, "yes"), nodeByID(st, "no")
			if yes == nil || no == nil {
				return false
			}
			if flag {
				return yes.Status == NodeCompleted && no.Status == NodeSkipped
			}
			return yes.Status == NodeSkipped && no.Status == NodeCompleted
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}
