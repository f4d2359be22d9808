// =============================================================================
// FlowForge 主入口
// =============================================================================
// 完整服务入口点，包含 HTTP 服务、健康检查、Prometheus 指标
//
// 使用方法:
//
//	flowforge serve                       # 启动服务
//	flowforge serve --config config.yaml  # 指定配置文件
//	flowforge run workflow.yaml           # 本地执行工作流文件
//	flowforge validate workflow.yaml      # 校验工作流文档
//	flowforge templates list              # 列出内置模板
//	flowforge version                     # 显示版本信息
//	flowforge health                      # 健康检查
// =============================================================================

// @title FlowForge API
// @version 1.0.0
// @description FlowForge is a workflow orchestration engine for multi-agent systems:
// @description typed workflow graphs, async execution with readiness scheduling,
// @description human approval gates, MCP service calls and a reusable template library.

// @contact.name FlowForge Team
// @contact.url https://github.com/BaSui01/flowforge

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/flowforge/config"
	"github.com/BaSui01/flowforge/engine"
	"github.com/BaSui01/flowforge/internal/telemetry"
	"github.com/BaSui01/flowforge/internal/tlsutil"
	"github.com/BaSui01/flowforge/persistence"
	"github.com/BaSui01/flowforge/templates"
	"github.com/BaSui01/flowforge/wdl"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "run":
		runWorkflow(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "templates":
		runTemplates(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting FlowForge",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// Initialize OpenTelemetry
	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	// 打开执行存储
	store, err := persistence.Open(cfg.Store, logger)
	if err != nil {
		logger.Fatal("Failed to open execution store",
			zap.String("backend", string(cfg.Store.Backend)),
			zap.Error(err))
	}

	server := NewServer(cfg, logger, otelProviders, store)

	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	server.WaitForShutdown()

	logger.Info("FlowForge stopped")
}

// =============================================================================
// ▶️ run 命令（本地执行工作流文件）
// =============================================================================

func runWorkflow(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	varsJSON := fs.String("vars", "", "Initial variables as a JSON object")
	timeout := fs.Duration("timeout", 10*time.Minute, "Execution deadline")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: flowforge run [options] <workflow.yaml>")
		os.Exit(1)
	}

	def, err := loadDefinition(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load workflow: %v\n", err)
		os.Exit(1)
	}

	var vars map[string]any
	if *varsJSON != "" {
		if err := json.Unmarshal([]byte(*varsJSON), &vars); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --vars JSON: %v\n", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	eng := engine.New(cfg.Engine, engine.WithLogger(logger))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	id, err := eng.ExecuteWorkflow(ctx, def, vars)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Execution rejected: %v\n", err)
		os.Exit(1)
	}

	st, err := eng.Wait(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Execution wait failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(st, "", "  ")
	fmt.Println(string(out))

	if st.Status != engine.ExecutionCompleted {
		os.Exit(1)
	}
}

// =============================================================================
// ✅ validate 命令
// =============================================================================

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: flowforge validate <workflow.yaml>")
		os.Exit(1)
	}

	def, err := loadDefinition(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Syntax error: %v\n", err)
		os.Exit(1)
	}

	problems := wdl.Validate(def)
	if len(problems) > 0 {
		fmt.Fprintf(os.Stderr, "Workflow %q has %d problem(s):\n", def.Name, len(problems))
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "  - %s\n", p)
		}
		os.Exit(1)
	}

	fmt.Printf("Workflow %q is valid (%d nodes, %d edges)\n",
		def.Name, len(def.Nodes), len(def.Edges))
}

// =============================================================================
// 📐 templates 命令
// =============================================================================

func runTemplates(args []string) {
	registry := templates.NewRegistry(templates.Builtins()...)

	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "list":
		for _, t := range registry.List() {
			fmt.Printf("%-22s %s\n", t.ID, t.Description)
		}
	case "show":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: flowforge templates show <id>")
			os.Exit(1)
		}
		t, err := registry.Get(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s — %s\n\n%s\n\nParameters:\n", t.ID, t.Name, t.Description)
		for name, spec := range t.Parameters {
			required := "optional"
			if spec.Required {
				required = "required"
			}
			fmt.Printf("  %-22s %-8s %-9s %s\n", name, spec.Type, required, spec.Description)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown templates subcommand: %s\n", sub)
		os.Exit(1)
	}
}

// loadDefinition 按扩展名解析工作流文档
func loadDefinition(path string) (*wdl.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 && data[0] == '{' {
		return wdl.FromJSON(string(data))
	}
	return wdl.FromYAML(string(data))
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := tlsutil.SecureHTTPClient(5 * time.Second)
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("FlowForge %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`FlowForge - Multi-Agent Workflow Orchestration Engine

Usage:
  flowforge <command> [options]

Commands:
  serve      Start the FlowForge API server
  run        Execute a workflow file locally and print the final status
  validate   Parse and validate a workflow document
  templates  Browse the built-in template library
  version    Show version information
  health     Check server health
  help       Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'run':
  --config <path>   Path to configuration file (YAML)
  --vars <json>     Initial variables as a JSON object
  --timeout <dur>   Execution deadline (default 10m)

Templates subcommands:
  templates list       List built-in templates
  templates show <id>  Show a template's parameters

Examples:
  flowforge serve
  flowforge serve --config /etc/flowforge/config.yaml
  flowforge run examples/pipeline.yaml --vars '{"dataset":"q3"}'
  flowforge validate workflow.yaml
  flowforge templates show sequential_pipeline
  flowforge health --addr http://localhost:8080
  flowforge version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Development,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
