package ops

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"OpenTask-Engine/internal/engine"
	"OpenTask-Engine/pkg/logger"
)

// FetchParams 是 fetch 的参数。
type FetchParams struct {
	URL      *url.URL
	Filename string
}

func decodeFetch(p engine.Params) (FetchParams, error) {
	rawURL, err := p.String("url")
	if err != nil {
		return FetchParams{}, err
	}
	u, err := parseHTTPURL("url", rawURL)
	if err != nil {
		return FetchParams{}, err
	}
	filename, err := p.String("filename")
	if err != nil {
		return FetchParams{}, err
	}
	return FetchParams{URL: u, Filename: filename}, nil
}

// Fetch 下载 URL 的响应体并写入数据目录。重复执行会覆盖目标文件。
type Fetch struct {
	env Env
}

// NewFetch 创建 fetch 操作。
func NewFetch(env Env) *Fetch {
	return &Fetch{env: env.withDefaults()}
}

// Descriptor 实现 engine.Operation。
func (f *Fetch) Descriptor() engine.Descriptor {
	return engine.Descriptor{
		Name:         "fetch",
		Summary:      "GET a URL and save the response body under the data root",
		Required:     []string{"url", "filename"},
		Idempotent:   true,
		Capabilities: []engine.Capability{engine.CapabilityNetwork, engine.CapabilityFilesystem},
	}
}

// Run 实现 engine.Operation。
func (f *Fetch) Run(ctx context.Context, params engine.Params) (*engine.Result, error) {
	p, err := decodeFetch(params)
	if err != nil {
		return nil, err
	}
	target, err := f.env.FS.Resolve(p.Filename)
	if err != nil {
		return nil, err
	}

	body, err := f.env.download(ctx, p.URL)
	if err != nil {
		return nil, err
	}

	var written string
	err = f.env.withLock(ctx, target, func() error {
		var writeErr error
		written, writeErr = f.env.FS.WriteFile(target, body)
		return writeErr
	})
	if err != nil {
		return nil, err
	}

	logger.Named("ops").Info("响应已保存",
		slog.String("task", "fetch"),
		slog.String("url", p.URL.Redacted()),
		slog.String("path", written),
		slog.Int("bytes", len(body)),
	)
	return &engine.Result{
		Message: fmt.Sprintf("Data saved to %s", written),
		Output:  map[string]any{"path": written, "bytes": len(body)},
	}, nil
}
