package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"OpenTask-Engine/internal/config"
	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/internal/events"
	"OpenTask-Engine/internal/llm"
	"OpenTask-Engine/internal/llm/openai"
	"OpenTask-Engine/internal/llm/pythonbridge"
	"OpenTask-Engine/internal/lock"
	"OpenTask-Engine/internal/ops"
	"OpenTask-Engine/internal/resolver"
	"OpenTask-Engine/internal/sandbox"
	"OpenTask-Engine/pkg/logger"
)

// App 持有启动完成后的引擎组件。
type App struct {
	Config     *config.Config
	FS         *sandbox.FS
	Registry   *engine.Registry
	Dispatcher *engine.Dispatcher
	Resolver   *resolver.Resolver

	closers []func() error
}

// Option 定制启动过程，主要用于测试。
type Option func(*options)

type options struct {
	policy     *sandbox.Policy
	httpClient *http.Client
	llmClient  llm.Client
}

// WithPolicy 使用独立的删除策略替代进程级策略。
func WithPolicy(p *sandbox.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithHTTPClient 替换内置操作使用的 HTTP 客户端。
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLLMClient 替换配置中的大模型客户端。
func WithLLMClient(c llm.Client) Option {
	return func(o *options) { o.llmClient = c }
}

// LoggerConfig 把配置转换为 pkg/logger 的配置。
func LoggerConfig(cfg config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		OutputPaths: cfg.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Audit.Enabled,
			Path:       cfg.Audit.Path,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
		},
	}
}

// Build 按固定顺序完成启动：数据目录、沙箱、锁、事件、注册表、删除禁令、解析器。
// 返回时注册表已冻结且删除禁令已生效。
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "配置为空")
	}
	o := options{policy: sandbox.DefaultPolicy()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	log := logger.Named("app")
	a := &App{Config: cfg}

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建数据目录失败")
	}
	guard, err := sandbox.NewGuard(cfg.Runtime.DataDir, o.policy)
	if err != nil {
		return nil, err
	}
	a.FS = sandbox.NewFS(guard)

	locker, err := buildLocker(cfg.Lock)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化锁失败")
	}
	a.closers = append(a.closers, locker.Close)

	publisher, err := buildPublisher(cfg.Events)
	if err != nil {
		a.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化事件发布失败")
	}
	a.closers = append(a.closers, publisher.Close)

	plan := ops.DefaultPlan()
	if cfg.Runtime.PlanFile != "" {
		plan, err = ops.LoadPlan(cfg.Runtime.PlanFile)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Registry = engine.NewRegistry()
	a.Dispatcher = engine.NewDispatcher(a.Registry, o.policy,
		engine.WithCapabilityPolicy(engine.CapabilityPolicy{
			Allowed: engine.ParseCapabilities(cfg.Runtime.AllowedCapabilities),
			Denied:  engine.ParseCapabilities(cfg.Runtime.DeniedCapabilities),
		}),
		engine.WithEventPublisher(publisher),
		engine.WithTimeout(cfg.Runtime.TaskTimeout()),
	)
	env := ops.Env{
		FS:                a.FS,
		Locker:            locker,
		HTTPClient:        o.httpClient,
		FetchTimeout:      cfg.Runtime.FetchTimeout(),
		GitTimeout:        cfg.Runtime.GitTimeout(),
		QueryTimeout:      cfg.Runtime.QueryTimeout(),
		MaxBodyBytes:      cfg.Runtime.MaxBodyBytes,
		MaxImagePixels:    cfg.Runtime.MaxImagePixels,
		UserAgent:         cfg.Runtime.UserAgent,
		GitBinary:         cfg.Runtime.GitBinary,
		AllowLocalRemotes: cfg.Runtime.AllowLocalRemotes,
		MySQLDSN:          cfg.Query.MySQL.ResolvedDSN(),
	}
	if err := ops.RegisterDefaults(a.Registry, a.Dispatcher, env, plan); err != nil {
		a.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "注册内置操作失败")
	}
	a.Registry.Freeze()
	o.policy.ForbidDeletion()

	resolverOpts, err := buildResolverOptions(cfg.LLM, o.llmClient)
	if err != nil {
		a.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化任务解析失败")
	}
	a.Resolver = resolver.New(a.Dispatcher, resolverOpts...)

	log.InfoContext(ctx, "任务引擎已就绪",
		slog.String("data_dir", a.FS.Root()),
		slog.Any("tasks", a.Registry.Names()),
		slog.String("plan", plan.Name),
		slog.String("lock", cfg.Lock.Driver),
		slog.String("llm", cfg.LLM.Provider),
	)
	return a, nil
}

// Execute 解析任务名或描述后交给 Dispatcher 执行。
func (a *App) Execute(ctx context.Context, req resolver.Request) (*engine.Result, error) {
	res, err := a.Resolver.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.Dispatcher.Execute(ctx, res.Task, res.Params)
}

// Close 释放外部连接。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildLocker(cfg config.LockConfig) (lock.Locker, error) {
	switch cfg.Driver {
	case "", "memory":
		return lock.NewMemoryLocker(), nil
	case "redis":
		l, err := lock.NewRedisLocker(lock.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return nil, fmt.Errorf("未知的锁驱动: %s", cfg.Driver)
	}
}

func buildPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	var publishers []events.Publisher
	for _, driver := range cfg.Drivers {
		p, err := newPublisher(driver, cfg)
		if err != nil {
			// 关闭已经建立的连接。
			_ = events.NewFanout(publishers...).Close()
			return nil, err
		}
		publishers = append(publishers, p)
	}
	return events.NewFanout(publishers...), nil
}

func newPublisher(driver string, cfg config.EventsConfig) (events.Publisher, error) {
	switch driver {
	case "log":
		return events.NewLogPublisher(nil), nil
	case "rabbitmq":
		p, err := events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			Queue:      cfg.RabbitMQ.Queue,
			Durable:    cfg.RabbitMQ.Durable,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "webhook":
		p, err := events.NewWebhookPublisher(events.WebhookConfig{
			URL:       cfg.Webhook.URL,
			Format:    events.WebhookFormat(cfg.Webhook.Format),
			AllEvents: cfg.Webhook.AllEvents,
			Timeout:   time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
		}, nil)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", driver)
	}
}

func buildResolverOptions(cfg config.LLMConfig, override llm.Client) ([]resolver.Option, error) {
	var opts []resolver.Option
	if cfg.KeywordsFile != "" {
		table, err := resolver.LoadKeywordTable(cfg.KeywordsFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, resolver.WithKeywordTable(table))
	}
	if override != nil {
		return append(opts, resolver.WithLLM(override)), nil
	}

	switch cfg.Provider {
	case "", "keyword":
		return opts, nil
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.Python.WorkingDir, cfg.Python.ScriptPath)
		client, err := pythonbridge.NewClient(cfg.Python.PythonExecutable, scriptPath, cfg.Python.WorkingDir)
		if err != nil {
			return nil, err
		}
		return append(opts, resolver.WithLLM(client)), nil
	case "openai":
		apiKey := strings.TrimSpace(cfg.OpenAI.APIKey)
		if apiKey == "" && cfg.OpenAI.APIKeyEnv != "" {
			apiKey = strings.TrimSpace(os.Getenv(cfg.OpenAI.APIKeyEnv))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		client, err := openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		return append(opts, resolver.WithLLM(client)), nil
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.Provider)
	}
}
