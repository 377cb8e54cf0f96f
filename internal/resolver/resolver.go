package resolver

import (
	"context"
	"log/slog"
	"strings"

	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/internal/llm"
	"OpenTask-Engine/pkg/logger"
)

// Source 表示任务名的来源。
type Source string

const (
	SourceDirect  Source = "direct"
	SourceAlias   Source = "alias"
	SourceKeyword Source = "keyword"
	SourceLLM     Source = "llm"
)

// 兼容旧任务名。
var defaultAliases = map[string]string{
	"fetch_api":        "fetch",
	"clone_git":        "sync-repo",
	"run_sql":          "run-query",
	"resize_image":     "resize-image",
	"scrape_website":   "scrape",
	"count_wednesdays": "count-weekday",
	"sort_contacts":    "sort-contacts",
}

// Request 是解析请求。Task 优先于 Description。
type Request struct {
	Task        string
	Description string
	Params      engine.Params
}

// Resolution 是解析结果。
type Resolution struct {
	Task    string
	Params  engine.Params
	Source  Source
	Thought string
}

// Catalog 提供已注册任务的声明。
type Catalog interface {
	Descriptors() []engine.Descriptor
}

// Resolver 把任务名或自然语言描述解析为已注册的任务名。
type Resolver struct {
	catalog  Catalog
	aliases  map[string]string
	keywords *KeywordTable
	client   llm.Client
}

// Option 配置 Resolver。
type Option func(*Resolver)

// WithKeywordTable 替换内置关键词表。
func WithKeywordTable(t *KeywordTable) Option {
	return func(r *Resolver) {
		if t != nil {
			r.keywords = t
		}
	}
}

// WithLLM 设置关键词无法识别时使用的大模型。
func WithLLM(c llm.Client) Option {
	return func(r *Resolver) {
		r.client = c
	}
}

// WithAlias 追加一个任务别名。
func WithAlias(alias, task string) Option {
	return func(r *Resolver) {
		r.aliases[alias] = task
	}
}

// New 创建解析器。
func New(catalog Catalog, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:  catalog,
		aliases:  make(map[string]string, len(defaultAliases)),
		keywords: DefaultKeywordTable(),
	}
	for k, v := range defaultAliases {
		r.aliases[k] = v
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve 解析任务。显式任务名只做别名映射，是否存在由 Dispatcher 判断；
// 描述依次尝试任务名、关键词表与大模型。
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	params := req.Params.Clone()
	if task := strings.TrimSpace(req.Task); task != "" {
		if mapped, ok := r.aliases[task]; ok {
			return Resolution{Task: mapped, Params: params, Source: SourceAlias}, nil
		}
		return Resolution{Task: task, Params: params, Source: SourceDirect}, nil
	}

	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		return Resolution{}, xerrors.New(xerrors.CodeInvalidParams, "需要提供 task 或 description")
	}
	if r.known(desc) {
		return Resolution{Task: desc, Params: params, Source: SourceDirect}, nil
	}
	if mapped, ok := r.aliases[desc]; ok {
		return Resolution{Task: mapped, Params: params, Source: SourceAlias}, nil
	}
	if task := r.keywords.Match(desc); task != "" && r.known(task) {
		return Resolution{Task: task, Params: params, Source: SourceKeyword}, nil
	}
	if r.client == nil {
		return Resolution{}, xerrors.Newf(xerrors.CodeUnsupportedTask, "无法识别任务描述 %q", desc)
	}

	resp, err := r.client.Generate(ctx, llm.Request{Description: desc, Tasks: r.hints()})
	if err != nil {
		return Resolution{}, xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "调用大模型解析任务失败")
	}
	task := strings.TrimSpace(resp.Task)
	if mapped, ok := r.aliases[task]; ok {
		task = mapped
	}
	if task == "" || !r.known(task) {
		return Resolution{}, xerrors.Newf(xerrors.CodeUnsupportedTask, "无法识别任务描述 %q", desc)
	}
	// 调用方显式给出的参数优先。
	merged := engine.Params{}
	for k, v := range resp.Params {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	logger.Named("resolver").Info("大模型解析任务完成",
		slog.String("task", task),
		slog.String("thought", resp.Thought),
	)
	return Resolution{Task: task, Params: merged, Source: SourceLLM, Thought: resp.Thought}, nil
}

func (r *Resolver) known(name string) bool {
	if r.catalog == nil {
		return false
	}
	for _, d := range r.catalog.Descriptors() {
		if d.Name == name {
			return true
		}
	}
	return false
}

func (r *Resolver) hints() []llm.TaskHint {
	if r.catalog == nil {
		return nil
	}
	descs := r.catalog.Descriptors()
	hints := make([]llm.TaskHint, 0, len(descs))
	for _, d := range descs {
		hints = append(hints, llm.TaskHint{Name: d.Name, Summary: d.Summary, Required: d.Required, Optional: d.Optional})
	}
	return hints
}
