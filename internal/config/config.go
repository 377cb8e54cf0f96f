package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EnvConfigPath 是指定配置文件路径的环境变量。
const EnvConfigPath = "TASKENGINE_CONFIG"

// DefaultPath 是未设置环境变量时的配置文件路径。
var DefaultPath = filepath.Join("configs", "taskengine.json")

// Config 描述了任务引擎在启动阶段需要加载的全部配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Runtime RuntimeConfig `json:"runtime"`
	LLM     LLMConfig     `json:"llm"`
	Lock    LockConfig    `json:"lock"`
	Events  EventsConfig  `json:"events"`
	Query   QueryConfig   `json:"query"`
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
	MaxRequestKB   int    `json:"max_request_kb"`
}

// RuntimeConfig 描述沙箱与内置操作的运行参数。
type RuntimeConfig struct {
	DataDir             string   `json:"data_dir"`
	PlanFile            string   `json:"plan_file"`
	FetchTimeoutSeconds int      `json:"fetch_timeout_seconds"`
	GitTimeoutSeconds   int      `json:"git_timeout_seconds"`
	QueryTimeoutSeconds int      `json:"query_timeout_seconds"`
	TaskTimeoutSeconds  int      `json:"task_timeout_seconds"`
	MaxBodyBytes        int64    `json:"max_body_bytes"`
	MaxImagePixels      int64    `json:"max_image_pixels"`
	UserAgent           string   `json:"user_agent"`
	GitBinary           string   `json:"git_binary"`
	AllowLocalRemotes   bool     `json:"allow_local_remotes"`
	AllowedCapabilities []string `json:"allowed_capabilities"`
	DeniedCapabilities  []string `json:"denied_capabilities"`
}

// FetchTimeout 返回 HTTP 下载超时。
func (r RuntimeConfig) FetchTimeout() time.Duration {
	return time.Duration(r.FetchTimeoutSeconds) * time.Second
}

// GitTimeout 返回 git 操作超时。
func (r RuntimeConfig) GitTimeout() time.Duration {
	return time.Duration(r.GitTimeoutSeconds) * time.Second
}

// QueryTimeout 返回 SQL 执行超时。
func (r RuntimeConfig) QueryTimeout() time.Duration {
	return time.Duration(r.QueryTimeoutSeconds) * time.Second
}

// TaskTimeout 返回单次调度的整体超时，0 表示不额外限制。
func (r RuntimeConfig) TaskTimeout() time.Duration {
	if r.TaskTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(r.TaskTimeoutSeconds) * time.Second
}

// LLMConfig 用于配置任务描述的解析方式。
type LLMConfig struct {
	Provider     string             `json:"provider"`
	KeywordsFile string             `json:"keywords_file"`
	OpenAI       OpenAIConfig       `json:"openai"`
	Python       PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的调用参数。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回请求超时。
func (o OpenAIConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// PythonBridgeConfig 描述通过 Python 脚本完成解析时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// LockConfig 选择按路径互斥的实现。
type LockConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address    string `json:"address"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	Prefix     string `json:"prefix"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// EventsConfig 选择调度事件的发布渠道。
type EventsConfig struct {
	Drivers  []string       `json:"drivers"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	Webhook  WebhookConfig  `json:"webhook"`
}

// WebhookConfig 描述告警 webhook，format 取 json、slack 或 dingtalk。
type WebhookConfig struct {
	URL            string `json:"url"`
	Format         string `json:"format"`
	AllEvents      bool   `json:"all_events"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
	Queue      string `json:"queue"`
	Durable    bool   `json:"durable"`
}

// QueryConfig 描述 run-query 需要的外部数据库。
type QueryConfig struct {
	MySQL MySQLConfig `json:"mysql"`
}

// MySQLConfig 是 server-row 引擎的连接信息，库名由任务参数决定。
type MySQLConfig struct {
	DSN    string `json:"dsn"`
	DSNEnv string `json:"dsn_env"`
}

// ResolvedDSN 优先使用显式 DSN，否则读取环境变量。
func (m MySQLConfig) ResolvedDSN() string {
	if dsn := strings.TrimSpace(m.DSN); dsn != "" {
		return dsn
	}
	if m.DSNEnv != "" {
		return strings.TrimSpace(os.Getenv(m.DSNEnv))
	}
	return ""
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 描述审计日志文件。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// PathFromEnv 返回配置文件路径。
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回以 baseDir 为基准、全部使用默认值的配置。
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyDefaults(baseDir)
	return &cfg
}

// Validate 检查枚举字段的取值。
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "keyword", "openai", "python_bridge":
	default:
		return fmt.Errorf("未知的大模型 provider: %s", c.LLM.Provider)
	}
	switch c.Lock.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("未知的锁驱动: %s", c.Lock.Driver)
	}
	for _, d := range c.Events.Drivers {
		switch d {
		case "log", "rabbitmq", "webhook":
		default:
			return fmt.Errorf("未知的事件驱动: %s", d)
		}
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8000"
	}
	if c.Server.MaxRequestKB <= 0 {
		c.Server.MaxRequestKB = 1024
	}

	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir, "data")
	if c.Runtime.PlanFile != "" {
		c.Runtime.PlanFile = resolve(baseDir, c.Runtime.PlanFile, "")
	}
	if c.Runtime.FetchTimeoutSeconds <= 0 {
		c.Runtime.FetchTimeoutSeconds = 30
	}
	if c.Runtime.GitTimeoutSeconds <= 0 {
		c.Runtime.GitTimeoutSeconds = 120
	}
	if c.Runtime.QueryTimeoutSeconds <= 0 {
		c.Runtime.QueryTimeoutSeconds = 60
	}
	if c.Runtime.MaxBodyBytes <= 0 {
		c.Runtime.MaxBodyBytes = 64 << 20
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "keyword"
	}
	if c.LLM.KeywordsFile != "" {
		c.LLM.KeywordsFile = resolve(baseDir, c.LLM.KeywordsFile, "")
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolve(baseDir, c.LLM.Python.WorkingDir, ".")

	if c.Lock.Driver == "" {
		c.Lock.Driver = "memory"
	}
	if len(c.Events.Drivers) == 0 {
		c.Events.Drivers = []string{"log"}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path, "")
	}
}

func resolve(baseDir, value, fallback string) string {
	if value == "" {
		value = fallback
	}
	if value == "" || filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
