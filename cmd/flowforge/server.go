package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/api/handlers"
	"github.com/BaSui01/flowforge/config"
	"github.com/BaSui01/flowforge/engine"
	"github.com/BaSui01/flowforge/internal/server"
	"github.com/BaSui01/flowforge/internal/telemetry"
	"github.com/BaSui01/flowforge/persistence"
	"github.com/BaSui01/flowforge/templates"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 FlowForge 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 核心组件
	engine   *engine.Engine
	store    persistence.ExecutionStore
	registry *templates.Registry

	// Handlers
	healthHandler    *handlers.HealthHandler
	workflowHandler  *handlers.WorkflowHandler
	executionHandler *handlers.ExecutionHandler
	approvalHandler  *handlers.ApprovalHandler
	templateHandler  *handlers.TemplateHandler

	// Prometheus
	promRegistry *prometheus.Registry
	httpMetrics  *httpMetrics

	// 遥测
	otelProviders *telemetry.Providers

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, providers *telemetry.Providers, store persistence.ExecutionStore) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: providers,
		store:         store,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化 Prometheus 注册表与指标
	s.promRegistry = prometheus.NewRegistry()
	s.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.httpMetrics = newHTTPMetrics(s.promRegistry)

	// 2. 初始化执行引擎
	s.engine = engine.New(s.cfg.Engine,
		engine.WithLogger(s.logger),
		engine.WithStore(s.store),
		engine.WithMetrics(s.promRegistry),
	)

	// 3. 初始化模板库
	s.registry = templates.NewRegistry(templates.Builtins()...)

	// 4. 初始化 Handlers
	s.initHandlers()

	// 5. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("store_backend", string(s.cfg.Store.Backend)),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewStoreHealthCheck("store", s.store.Ping))

	s.workflowHandler = handlers.NewWorkflowHandler(s.engine, s.logger)
	s.executionHandler = handlers.NewExecutionHandler(s.engine, s.logger)
	s.approvalHandler = handlers.NewApprovalHandler(s.engine, s.logger)
	s.templateHandler = handlers.NewTemplateHandler(s.registry, s.logger)

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 工作流 API
	// ========================================
	mux.HandleFunc("POST /api/v1/workflows/execute", s.workflowHandler.HandleExecute)
	mux.HandleFunc("POST /api/v1/workflows/validate", s.workflowHandler.HandleValidate)

	// ========================================
	// 执行 API
	// ========================================
	mux.HandleFunc("GET /api/v1/executions", s.executionHandler.HandleList)
	mux.HandleFunc("GET /api/v1/executions/{id}", s.executionHandler.HandleStatus)
	mux.HandleFunc("GET /api/v1/executions/{id}/log", s.executionHandler.HandleLog)
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", s.executionHandler.HandleCancel)
	mux.HandleFunc("POST /api/v1/executions/{id}/pause", s.executionHandler.HandlePause)
	mux.HandleFunc("POST /api/v1/executions/{id}/resume", s.executionHandler.HandleResume)
	mux.HandleFunc("GET /api/v1/engine/metrics", s.executionHandler.HandleMetrics)

	// ========================================
	// 审批 API
	// ========================================
	mux.HandleFunc("GET /api/v1/approvals", s.approvalHandler.HandleList)
	mux.HandleFunc("POST /api/v1/approvals/{id}/resolve", s.approvalHandler.HandleResolve)

	// ========================================
	// 模板 API
	// ========================================
	mux.HandleFunc("GET /api/v1/templates", s.templateHandler.HandleList)
	mux.HandleFunc("POST /api/v1/templates/{id}/instantiate", s.templateHandler.HandleInstantiate)

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.httpMetrics),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger),
	)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout.Std(),
		WriteTimeout:    s.cfg.Server.WriteTimeout.Std(),
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout.Std(), // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                            // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout.Std(),
		TLSCertFile:     s.cfg.Server.TLSCertFile,
		TLSKeyFile:      s.cfg.Server.TLSKeyFile,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout.Std(),
		WriteTimeout:    s.cfg.Server.WriteTimeout.Std(),
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout.Std(),
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	// 0. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭遥测
	if s.otelProviders != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.otelProviders.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
		shutdownCancel()
	}

	// 4. 关闭执行存储
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Store close error", zap.Error(err))
		}
	}

	// 5. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
