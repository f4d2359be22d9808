package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/flowforge/types"
	"github.com/BaSui01/flowforge/wdl"
)

// AgentRuntime spawns agents and runs tasks on them. The engine is
// agnostic about what an agent is; any LLM framework or process pool
// can sit behind this interface.
type AgentRuntime interface {
	// SpawnAgent creates an agent from a spawn config and returns its ID.
	SpawnAgent(ctx context.Context, cfg *wdl.AgentSpawnConfig) (string, error)

	// ExecuteTask runs a task on a previously spawned agent and returns
	// the task output as a variable map.
	ExecuteTask(ctx context.Context, agentID string, cfg *wdl.AgentExecuteConfig, vars map[string]any) (map[string]any, error)

	// ReleaseAgent disposes of an agent. Called on execution teardown.
	ReleaseAgent(ctx context.Context, agentID string) error
}

// MCPClient resolves and calls external MCP services.
type MCPClient interface {
	// SelectServers returns candidate servers for a capability category,
	// in preference order. selection is either "auto" or a server name.
	SelectServers(ctx context.Context, selection, category string) ([]string, error)

	// Call invokes a capability on a server.
	Call(ctx context.Context, server, category string, params map[string]any) (map[string]any, error)
}

// Notifier delivers approval requests to humans.
type Notifier interface {
	Notify(ctx context.Context, channel string, approval *Approval) error
}

// ---------------------------------------------------------------------------
// In-memory implementations
// ---------------------------------------------------------------------------

// LocalAgentRuntime is an in-process AgentRuntime backed by a task
// handler function. It tracks spawned agents so tasks can only run on
// live agents.
type LocalAgentRuntime struct {
	handler TaskHandler
	logger  *zap.Logger

	mu     sync.RWMutex
	agents map[string]*wdl.AgentSpawnConfig
}

// TaskHandler produces the output of one agent task.
type TaskHandler func(ctx context.Context, agent *wdl.AgentSpawnConfig, task *wdl.AgentExecuteConfig, vars map[string]any) (map[string]any, error)

// NewLocalAgentRuntime creates a LocalAgentRuntime. A nil handler
// yields an echo runtime that reports the task as its output, which is
// enough for dry runs and tests.
func NewLocalAgentRuntime(handler TaskHandler, logger *zap.Logger) *LocalAgentRuntime {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		handler = func(_ context.Context, agent *wdl.AgentSpawnConfig, task *wdl.AgentExecuteConfig, _ map[string]any) (map[string]any, error) {
			return map[string]any{
				"result": fmt.Sprintf("%s handled: %s", agent.Role, task.TaskDescription),
			}, nil
		}
	}
	return &LocalAgentRuntime{
		handler: handler,
		logger:  logger.With(zap.String("component", "agent_runtime")),
		agents:  make(map[string]*wdl.AgentSpawnConfig),
	}
}

func (r *LocalAgentRuntime) SpawnAgent(ctx context.Context, cfg *wdl.AgentSpawnConfig) (string, error) {
	if cfg == nil {
		return "", types.NewError(types.ErrAgentFailed, "spawn config is nil")
	}

	agentID := uuid.New().String()
	r.mu.Lock()
	r.agents[agentID] = cfg
	r.mu.Unlock()

	r.logger.Debug("agent spawned",
		zap.String("agent_id", agentID),
		zap.String("agent_type", cfg.AgentType),
		zap.String("role", cfg.Role),
	)
	return agentID, nil
}

func (r *LocalAgentRuntime) ExecuteTask(ctx context.Context, agentID string, cfg *wdl.AgentExecuteConfig, vars map[string]any) (map[string]any, error) {
	r.mu.RLock()
	agent, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrAgentNotFound,
			fmt.Sprintf("agent %s is not registered", agentID))
	}
	return r.handler(ctx, agent, cfg, vars)
}

func (r *LocalAgentRuntime) ReleaseAgent(ctx context.Context, agentID string) error {
	r.mu.Lock()
	delete(r.agents, agentID)
	r.mu.Unlock()
	return nil
}

// RateLimitedRuntime wraps an AgentRuntime with a token-bucket limit
// on spawn calls, protecting downstream provisioning from fan-out bursts.
type RateLimitedRuntime struct {
	AgentRuntime
	limiter *rate.Limiter
}

// NewRateLimitedRuntime creates a runtime that allows spawnsPerSecond
// sustained spawns with the given burst. A non-positive rate disables
// limiting.
func NewRateLimitedRuntime(inner AgentRuntime, spawnsPerSecond float64, burst int) *RateLimitedRuntime {
	var limiter *rate.Limiter
	if spawnsPerSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(spawnsPerSecond), burst)
	}
	return &RateLimitedRuntime{AgentRuntime: inner, limiter: limiter}
}

func (r *RateLimitedRuntime) SpawnAgent(ctx context.Context, cfg *wdl.AgentSpawnConfig) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	return r.AgentRuntime.SpawnAgent(ctx, cfg)
}

// MCPHandler serves one MCP capability call.
type MCPHandler func(ctx context.Context, params map[string]any) (map[string]any, error)

// StaticMCPClient is an in-memory MCP registry mapping servers to
// capability handlers. Useful for tests and embedded deployments.
type StaticMCPClient struct {
	mu      sync.RWMutex
	servers map[string]map[string]MCPHandler // server -> category -> handler
	order   []string                         // registration order for auto selection
}

// NewStaticMCPClient creates an empty MCP registry.
func NewStaticMCPClient() *StaticMCPClient {
	return &StaticMCPClient{servers: make(map[string]map[string]MCPHandler)}
}

// Register binds a handler for a capability category on a server.
func (c *StaticMCPClient) Register(server, category string, handler MCPHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.servers[server]; !ok {
		c.servers[server] = make(map[string]MCPHandler)
		c.order = append(c.order, server)
	}
	c.servers[server][category] = handler
}

func (c *StaticMCPClient) SelectServers(ctx context.Context, selection, category string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if selection != "" && selection != "auto" {
		if _, ok := c.servers[selection]; !ok {
			return nil, types.NewError(types.ErrMCPCallFailed,
				fmt.Sprintf("mcp server %s is not registered", selection))
		}
		return []string{selection}, nil
	}

	var out []string
	for _, server := range c.order {
		if _, ok := c.servers[server][category]; ok {
			out = append(out, server)
		}
	}
	if len(out) == 0 {
		return nil, types.NewError(types.ErrMCPCallFailed,
			fmt.Sprintf("no mcp server provides capability %s", category))
	}
	return out, nil
}

func (c *StaticMCPClient) Call(ctx context.Context, server, category string, params map[string]any) (map[string]any, error) {
	c.mu.RLock()
	handler, ok := c.servers[server][category]
	c.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrMCPCallFailed,
			fmt.Sprintf("server %s does not provide capability %s", server, category))
	}
	return handler(ctx, params)
}

// LogNotifier writes approval requests to the structured log. It is
// the default Notifier when no delivery channel is wired up.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a Notifier that logs approval requests.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.With(zap.String("component", "notifier"))}
}

func (n *LogNotifier) Notify(ctx context.Context, channel string, approval *Approval) error {
	n.logger.Info("approval requested",
		zap.String("channel", channel),
		zap.String("approval_id", approval.ID),
		zap.String("execution_id", approval.ExecutionID),
		zap.String("node_id", approval.NodeID),
		zap.String("message", approval.Message),
		zap.Time("expires_at", approval.ExpiresAt),
	)
	return nil
}

// FuncNotifier adapts a function to the Notifier interface.
type FuncNotifier func(ctx context.Context, channel string, approval *Approval) error

func (f FuncNotifier) Notify(ctx context.Context, channel string, approval *Approval) error {
	return f(ctx, channel, approval)
}
