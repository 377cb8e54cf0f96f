package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"OpenTask-Engine/internal/api"
	"OpenTask-Engine/internal/app"
	"OpenTask-Engine/internal/config"
	"OpenTask-Engine/internal/observability/metrics"
	"OpenTask-Engine/pkg/logger"
)

// main 是任务引擎守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("taskengined 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Init(app.LoggerConfig(cfg.Logging)); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	engineApp, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engineApp.Close(); err != nil {
			logger.L().Warn("释放资源失败", slog.Any("error", err))
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, engineApp, engineApp.Dispatcher, engineApp.FS,
		api.WithMaxRequestBytes(int64(cfg.Server.MaxRequestKB)<<10),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig 读取配置文件；默认路径不存在时使用当前目录下的默认配置。
func loadConfig() (*config.Config, error) {
	path := config.PathFromEnv()
	if path == config.DefaultPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			wd, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			return config.Default(wd), nil
		}
	}
	return config.Load(path)
}
