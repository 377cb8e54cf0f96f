package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"OpenTask-Engine/internal/app"
	"OpenTask-Engine/internal/config"
	"OpenTask-Engine/internal/engine"
	"OpenTask-Engine/internal/resolver"
	"OpenTask-Engine/pkg/logger"
	"OpenTask-Engine/sdk/go/taskengine"
)

// backend is what the subcommands need from either a remote server or an
// in-process engine.
type backend interface {
	Execute(ctx context.Context, req taskengine.ExecuteRequest) (taskengine.ExecuteResponse, error)
	ListTasks(ctx context.Context) ([]taskengine.TaskDescriptor, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	Close() error
}

func openBackend(ctx context.Context) (backend, error) {
	if local {
		return newLocalBackend(ctx)
	}
	client, err := taskengine.NewClient(serverURL, nil)
	if err != nil {
		return nil, err
	}
	return remoteBackend{client}, nil
}

type remoteBackend struct {
	*taskengine.Client
}

func (remoteBackend) Close() error { return nil }

type localBackend struct {
	app *app.App
}

func newLocalBackend(ctx context.Context) (*localBackend, error) {
	cfg, err := loadLocalConfig()
	if err != nil {
		return nil, err
	}
	lc := app.LoggerConfig(cfg.Logging)
	if len(lc.OutputPaths) == 0 {
		// stdout 留给命令输出。
		lc.OutputPaths = []string{"stderr"}
	}
	if err := logger.Init(lc); err != nil {
		return nil, err
	}
	a, err := app.Build(ctx, cfg)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &localBackend{app: a}, nil
}

func loadLocalConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.PathFromEnv()
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == config.DefaultPath {
			wd, err := os.Getwd()
			if err != nil {
				return nil, err
			}
			return config.Default(wd), nil
		}
	}
	return config.Load(path)
}

func (b *localBackend) Execute(ctx context.Context, req taskengine.ExecuteRequest) (taskengine.ExecuteResponse, error) {
	res, err := b.app.Execute(ctx, resolver.Request{
		Task:        req.Task,
		Description: req.Description,
		Params:      engine.Params(req.Params),
	})
	if err != nil {
		return taskengine.ExecuteResponse{}, err
	}
	out := taskengine.ExecuteResponse{Task: res.Task, ExecutionID: res.ExecutionID, Message: res.Message}
	if res.Output != nil {
		raw, err := json.Marshal(res.Output)
		if err != nil {
			return taskengine.ExecuteResponse{}, fmt.Errorf("encode output: %w", err)
		}
		out.Output = raw
	}
	return out, nil
}

func (b *localBackend) ListTasks(context.Context) ([]taskengine.TaskDescriptor, error) {
	descs := b.app.Dispatcher.Descriptors()
	out := make([]taskengine.TaskDescriptor, 0, len(descs))
	for _, d := range descs {
		caps := make([]string, 0, len(d.Capabilities))
		for _, c := range d.Capabilities {
			caps = append(caps, string(c))
		}
		out = append(out, taskengine.TaskDescriptor{
			Name:         d.Name,
			Summary:      d.Summary,
			Required:     d.Required,
			Optional:     d.Optional,
			Idempotent:   d.Idempotent,
			Capabilities: caps,
		})
	}
	return out, nil
}

func (b *localBackend) ReadFile(_ context.Context, path string) ([]byte, error) {
	return b.app.FS.ReadFile(path)
}

func (b *localBackend) Close() error {
	err := b.app.Close()
	return errors.Join(err, logger.Sync())
}
