package llm

import "context"

// TaskHint 是提供给大模型的候选任务说明。
type TaskHint struct {
	Name     string   `json:"name"`
	Summary  string   `json:"summary"`
	Required []string `json:"required,omitempty"`
	Optional []string `json:"optional,omitempty"`
}

// Request 描述一次任务解析请求。
type Request struct {
	Description string
	Tasks       []TaskHint
}

// Response 是大模型给出的结构化解析结果。
type Response struct {
	Thought string
	Task    string
	Params  map[string]any
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
