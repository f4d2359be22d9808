// =============================================================================
// 📦 FlowForge 配置
// =============================================================================
// 统一配置加载：默认值 → YAML 文件 → 环境变量覆盖
// =============================================================================
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 包装 time.Duration，使 YAML 中可写 "30s" 风格的时长字符串。
type Duration time.Duration

// Std 返回标准库的 time.Duration。
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML 接受时长字符串或纳秒整数。
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	case int64:
		*d = Duration(v)
	case float64:
		*d = Duration(int64(v))
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// MarshalYAML 输出时长字符串。
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config 是 FlowForge 的完整配置结构
type Config struct {
	// Engine 执行引擎配置
	Engine EngineConfig `yaml:"engine"`

	// Store 执行状态持久化配置
	Store StoreConfig `yaml:"store"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Server HTTP API 服务配置
	Server ServerConfig `yaml:"server"`
}

// ServerConfig HTTP API 服务配置
type ServerConfig struct {
	// HTTPPort API 监听端口
	HTTPPort int `yaml:"http_port"`
	// MetricsPort Prometheus 指标监听端口
	MetricsPort int `yaml:"metrics_port"`
	// 读写超时
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	// ShutdownTimeout 优雅关闭超时
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	// APIKeys 合法的 API Key 列表，空表示不启用认证
	APIKeys []string `yaml:"api_keys"`
	// AllowQueryAPIKey 允许通过 ?api_key= 传递（调试用）
	AllowQueryAPIKey bool `yaml:"allow_query_api_key"`
	// CORSAllowedOrigins 允许的跨域来源，空表示拒绝跨域
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	// 基于 IP 的限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
	// TLS 证书，二者均非空时启用 HTTPS
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
}

// EngineConfig 执行引擎配置
type EngineConfig struct {
	// 单次执行的最大并发节点数（Definition 未指定时的默认值）
	MaxParallelNodes int `yaml:"max_parallel_nodes"`
	// 节点默认执行超时
	DefaultNodeTimeout Duration `yaml:"default_node_timeout"`
	// 人工审批默认超时
	DefaultApprovalTimeout Duration `yaml:"default_approval_timeout"`
	// Agent 创建速率限制（每秒），0 表示不限制
	SpawnRateLimit float64 `yaml:"spawn_rate_limit"`
	// Agent 创建突发额度
	SpawnRateBurst int `yaml:"spawn_rate_burst"`
	// 审批超时扫描间隔
	ApprovalSweepInterval Duration `yaml:"approval_sweep_interval"`
}

// StoreBackend 持久化后端类型
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreSQLite   StoreBackend = "sqlite"
	StoreMySQL    StoreBackend = "mysql"
	StorePostgres StoreBackend = "postgres"
	StoreRedis    StoreBackend = "redis"
)

// StoreConfig 执行状态持久化配置
type StoreConfig struct {
	// Backend 后端类型：memory / sqlite / mysql / postgres / redis
	Backend StoreBackend `yaml:"backend"`
	// DSN 数据库连接串（sqlite 为文件路径）
	DSN string `yaml:"dsn"`
	// Pool SQL 连接池配置（仅 SQL 后端生效）
	Pool PoolConfig `yaml:"pool"`
	// Redis 配置（仅 backend 为 redis 时生效）
	Redis RedisConfig `yaml:"redis"`
}

// PoolConfig SQL 连接池配置
type PoolConfig struct {
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	// TTL 执行记录保留时长，0 表示永久
	TTL Duration `yaml:"ttl"`
}

// LogConfig 日志配置
type LogConfig struct {
	// Level: debug / info / warn / error
	Level string `yaml:"level"`
	// Development 开发模式（彩色控制台输出）
	Development bool `yaml:"development"`
}

// TelemetryConfig OTel 遥测配置
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// Insecure 跳过 TLS（本地 collector 场景）
	Insecure bool `yaml:"insecure"`
	// SampleRate 采样率，范围 [0, 1]
	SampleRate float64 `yaml:"sample_rate"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxParallelNodes:       10,
			DefaultNodeTimeout:     Duration(5 * time.Minute),
			DefaultApprovalTimeout: Duration(24 * time.Hour),
			SpawnRateLimit:         0,
			SpawnRateBurst:         1,
			ApprovalSweepInterval:  Duration(time.Second),
		},
		Store: StoreConfig{
			Backend: StoreMemory,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "flowforge",
			OTLPEndpoint: "localhost:4317",
			Insecure:     true,
			SampleRate:   1.0,
		},
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(30 * time.Second),
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
	}
}

// Load 加载配置：默认值 → YAML 文件（可选）→ 环境变量覆盖
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides 应用 FLOWFORGE_* 环境变量覆盖
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLOWFORGE_ENGINE_MAX_PARALLEL_NODES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxParallelNodes = n
		}
	}
	if v := os.Getenv("FLOWFORGE_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = StoreBackend(v)
	}
	if v := os.Getenv("FLOWFORGE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("FLOWFORGE_REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("FLOWFORGE_REDIS_PASSWORD"); v != "" {
		cfg.Store.Redis.Password = v
	}
	if v := os.Getenv("FLOWFORGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FLOWFORGE_TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("FLOWFORGE_TELEMETRY_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("FLOWFORGE_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.HTTPPort = n
		}
	}
	if v := os.Getenv("FLOWFORGE_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
}
