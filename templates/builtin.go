package templates

import (
	"fmt"
	"time"

	"github.com/BaSui01/flowforge/wdl"
)

// Builtins returns the stock template library.
func Builtins() []*Template {
	return []*Template{
		sequentialPipeline(),
		parallelReview(),
		mcpDataFetch(),
		approvalDeployment(),
	}
}

// sequentialPipeline chains one agent task per stage.
func sequentialPipeline() *Template {
	return &Template{
		ID:          "sequential_pipeline",
		Name:        "Sequential Agent Pipeline",
		Description: "One agent runs a list of stages in order, each stage feeding the next.",
		Parameters: map[string]ParamSpec{
			"stages": {
				Type:        ParamArray,
				Required:    true,
				Description: "task description per stage, executed in order",
			},
			"agent_type": {
				Type:        ParamString,
				Default:     "worker",
				Description: "agent type passed to the runtime",
			},
			"agent_role": {
				Type:        ParamString,
				Default:     "analyst",
				Description: "role the spawned agent assumes",
			},
		},
		Build: func(params map[string]any) (*wdl.Definition, error) {
			stages, err := stringSliceParam(params, "stages")
			if err != nil {
				return nil, err
			}
			if len(stages) == 0 {
				return nil, fmt.Errorf("sequential_pipeline: stages must not be empty")
			}

			b := wdl.NewBuilder("Sequential Pipeline").
				WithDescription("linear agent pipeline").
				AddStart("start").Done().
				SpawnAgent("spawn", wdl.AgentSpawnConfig{
					AgentType: stringParam(params, "agent_type"),
					Role:      stringParam(params, "agent_role"),
				}).Done()

			prev := "spawn"
			b.Connect("start", "spawn")
			for i, task := range stages {
				id := fmt.Sprintf("stage_%d", i+1)
				b.ExecuteAgent(id, wdl.AgentExecuteConfig{
					AgentID:         "spawn",
					TaskDescription: task,
				}).WithOutputMapping(map[string]string{"result": fmt.Sprintf("stage_%d_result", i+1)}).Done()
				b.Connect(prev, id)
				prev = id
			}
			b.AddEnd("end").Done().Connect(prev, "end")
			return b.Build()
		},
	}
}

// parallelReview fans one document out to several reviewers and joins
// the verdicts with an aggregation task.
func parallelReview() *Template {
	return &Template{
		ID:          "parallel_review",
		Name:        "Fan-Out Review",
		Description: "Concurrent reviewers assess the same input, then one agent aggregates.",
		Parameters: map[string]ParamSpec{
			"subject": {
				Type:        ParamString,
				Required:    true,
				Description: "what the reviewers assess",
			},
			"reviewers": {
				Type:        ParamNumber,
				Default:     3,
				Description: "number of concurrent review branches",
			},
			"max_concurrency": {
				Type:        ParamNumber,
				Default:     0,
				Description: "bound on concurrently running branches, 0 means unbounded",
			},
		},
		Build: func(params map[string]any) (*wdl.Definition, error) {
			subject := stringParam(params, "subject")
			n := intParam(params, "reviewers")
			if n < 1 {
				return nil, fmt.Errorf("parallel_review: reviewers must be at least 1, got %d", n)
			}

			b := wdl.NewBuilder("Parallel Review").
				WithDescription("fan-out/fan-in review").
				AddStart("start").Done().
				SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "reviewer", Role: "critic"}).Done()

			branches := make([][]string, 0, n)
			for i := 1; i <= n; i++ {
				id := fmt.Sprintf("review_%d", i)
				b.ExecuteAgent(id, wdl.AgentExecuteConfig{
					AgentID:         "spawn",
					TaskDescription: fmt.Sprintf("review %s (perspective %d)", subject, i),
				}).Done()
				branches = append(branches, []string{id})
			}

			b.AddParallel("fan_out", wdl.ParallelConfig{
				Branches:       branches,
				JoinStrategy:   wdl.JoinWaitAll,
				MaxConcurrency: intParam(params, "max_concurrency"),
			}).Done().
				ExecuteAgent("aggregate", wdl.AgentExecuteConfig{
					AgentID:         "spawn",
					TaskDescription: fmt.Sprintf("aggregate the review verdicts for %s", subject),
				}).WithOutputMapping(map[string]string{"result": "review_summary"}).Done().
				AddEnd("end").Done().
				Connect("start", "spawn").
				Connect("spawn", "fan_out").
				Connect("fan_out", "aggregate").
				Connect("aggregate", "end")
			return b.Build()
		},
	}
}

// mcpDataFetch calls an external capability with retries, fallbacks and
// per-execution result caching.
func mcpDataFetch() *Template {
	return &Template{
		ID:          "mcp_data_fetch",
		Name:        "Resilient Data Fetch",
		Description: "Single capability call with exponential-backoff retries and server fallback.",
		Parameters: map[string]ParamSpec{
			"capability": {
				Type:        ParamString,
				Required:    true,
				Description: "capability category to resolve",
			},
			"parameters": {
				Type:        ParamObject,
				Default:     map[string]any{},
				Description: "service parameters forwarded to the call",
			},
			"fallback_servers": {
				Type:        ParamArray,
				Default:     []any{},
				Description: "servers tried in order after the primary fails",
			},
			"max_attempts": {
				Type:        ParamNumber,
				Default:     3,
				Description: "retry attempts per candidate server sweep",
			},
			"output_variable": {
				Type:        ParamString,
				Default:     "fetched_data",
				Description: "variable receiving the call result",
			},
		},
		Build: func(params map[string]any) (*wdl.Definition, error) {
			fallbacks, err := stringSliceParam(params, "fallback_servers")
			if err != nil {
				return nil, err
			}
			serviceParams, _ := params["parameters"].(map[string]any)

			return wdl.NewBuilder("Resilient Data Fetch").
				WithDescription("retryable external capability call").
				AddStart("start").Done().
				CallMCP("fetch", wdl.MCPCallConfig{
					CapabilityCategory: stringParam(params, "capability"),
					ServiceParameters:  serviceParams,
					FallbackServers:    fallbacks,
					CacheResults:       true,
				}).
				WithRetry(wdl.RetryConfig{
					Strategy:     wdl.RetryExponentialBackoff,
					MaxAttempts:  intParam(params, "max_attempts"),
					InitialDelay: 500 * time.Millisecond,
					MaxDelay:     10 * time.Second,
					Multiplier:   2,
				}).
				WithOutputMapping(map[string]string{"result": stringParam(params, "output_variable")}).
				Done().
				AddEnd("end").Done().
				Connect("start", "fetch").
				Connect("fetch", "end").
				Build()
		},
	}
}

// approvalDeployment gates a deployment task behind a human decision.
func approvalDeployment() *Template {
	return &Template{
		ID:          "approval_deployment",
		Name:        "Approval-Gated Deployment",
		Description: "Plan, wait for a human decision, then deploy to the target environment.",
		Parameters: map[string]ParamSpec{
			"environment": {
				Type:        ParamString,
				Required:    true,
				Description: "deployment target named in the approval request",
			},
			"timeout_hours": {
				Type:        ParamNumber,
				Default:     24,
				Description: "hours before the default action applies",
			},
			"notification_channels": {
				Type:        ParamArray,
				Default:     []any{"log"},
				Description: "channels the approval request is delivered on",
			},
		},
		Build: func(params map[string]any) (*wdl.Definition, error) {
			env := stringParam(params, "environment")
			channels, err := stringSliceParam(params, "notification_channels")
			if err != nil {
				return nil, err
			}

			return wdl.NewBuilder("Approval-Gated Deployment").
				WithDescription("human decision gates the deploy step").
				AddStart("start").Done().
				SpawnAgent("spawn", wdl.AgentSpawnConfig{AgentType: "operator", Role: "release engineer"}).Done().
				ExecuteAgent("plan", wdl.AgentExecuteConfig{
					AgentID:         "spawn",
					TaskDescription: fmt.Sprintf("prepare the deployment plan for %s", env),
				}).WithOutputMapping(map[string]string{"result": "deployment_plan"}).Done().
				AddHumanApproval("gate", wdl.HumanApprovalConfig{
					Message:              fmt.Sprintf("Approve deployment to %s?", env),
					Options:              []string{"approve", "reject"},
					DefaultAction:        "reject",
					NotificationChannels: channels,
					Timeout:              time.Duration(intParam(params, "timeout_hours")) * time.Hour,
				}).Done().
				ExecuteAgent("deploy", wdl.AgentExecuteConfig{
					AgentID:         "spawn",
					TaskDescription: fmt.Sprintf("deploy to %s", env),
				}).Done().
				AddEnd("end").Done().
				SetVariable("environment", env).
				Connect("start", "spawn").
				Connect("spawn", "plan").
				Connect("plan", "gate").
				Connect("gate", "deploy").
				Connect("deploy", "end").
				Build()
		},
	}
}

func stringParam(params map[string]any, name string) string {
	v, _ := params[name].(string)
	return v
}

func intParam(params map[string]any, name string) int {
	switch v := params[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func stringSliceParam(params map[string]any, name string) ([]string, error) {
	switch v := params[name].(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("parameter %s: expected string elements, got %T", name, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("parameter %s: expected an array, got %T", name, v)
	}
}
