package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exposes engine metrics through Prometheus. Registration
// goes through an injected Registerer so embedding applications (and
// tests) control the registry.
type Collector struct {
	executionsStarted  prometheus.Counter
	executionsFinished *prometheus.CounterVec
	activeExecutions   prometheus.Gauge

	nodesExecuted *prometheus.CounterVec
	nodeDuration  *prometheus.HistogramVec
	nodeRetries   prometheus.Counter

	approvalsPending prometheus.Gauge
	mcpCacheHits     prometheus.Counter
	mcpFallbacks     prometheus.Counter
}

// NewCollector creates and registers engine metrics. Passing nil
// registers on the default Prometheus registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		executionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowforge",
			Name:      "executions_started_total",
			Help:      "Total number of workflow executions started",
		}),
		executionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowforge",
			Name:      "executions_finished_total",
			Help:      "Total number of workflow executions finished, by terminal status",
		}, []string{"status"}),
		activeExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowforge",
			Name:      "executions_active",
			Help:      "Number of workflow executions currently in flight",
		}),
		nodesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowforge",
			Name:      "nodes_executed_total",
			Help:      "Total number of node runs, by node type and outcome",
		}, []string{"node_type", "status"}),
		nodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowforge",
			Name:      "node_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"node_type"}),
		nodeRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowforge",
			Name:      "node_retries_total",
			Help:      "Total number of node retry attempts",
		}),
		approvalsPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowforge",
			Name:      "approvals_pending",
			Help:      "Number of approval requests awaiting a decision",
		}),
		mcpCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowforge",
			Name:      "mcp_cache_hits_total",
			Help:      "Total number of MCP calls served from the per-execution cache",
		}),
		mcpFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowforge",
			Name:      "mcp_fallbacks_total",
			Help:      "Total number of MCP calls that fell back to an alternate server",
		}),
	}
}

func (c *Collector) executionStarted() {
	if c == nil {
		return
	}
	c.executionsStarted.Inc()
	c.activeExecutions.Inc()
}

func (c *Collector) executionFinished(status ExecutionStatus) {
	if c == nil {
		return
	}
	c.executionsFinished.WithLabelValues(string(status)).Inc()
	c.activeExecutions.Dec()
}

func (c *Collector) nodeFinished(nodeType string, status NodeStatus, duration time.Duration) {
	if c == nil {
		return
	}
	c.nodesExecuted.WithLabelValues(nodeType, string(status)).Inc()
	c.nodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
}

func (c *Collector) nodeRetried() {
	if c == nil {
		return
	}
	c.nodeRetries.Inc()
}

func (c *Collector) approvalOpened() {
	if c == nil {
		return
	}
	c.approvalsPending.Inc()
}

func (c *Collector) approvalClosed() {
	if c == nil {
		return
	}
	c.approvalsPending.Dec()
}

func (c *Collector) cacheHit() {
	if c == nil {
		return
	}
	c.mcpCacheHits.Inc()
}

func (c *Collector) fallbackUsed() {
	if c == nil {
		return
	}
	c.mcpFallbacks.Inc()
}
