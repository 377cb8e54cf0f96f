package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"OpenTask-Engine/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 通过 HTTP 调用 OpenAI 兼容接口解析任务描述。
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Generate 请求模型从候选任务中选出一个，并给出参数。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建 OpenAI 请求失败: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析 OpenAI 响应失败: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("OpenAI 响应内容为空")
	}
	return parseContent(content), nil
}

// parseContent 解析模型输出；不是 JSON 时把整段内容当作任务名。
func parseContent(content string) *llm.Response {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var structured struct {
		Thought string         `json:"thought"`
		Task    string         `json:"task"`
		Params  map[string]any `json:"params"`
	}
	if err := json.Unmarshal([]byte(content), &structured); err != nil {
		return &llm.Response{Task: strings.Trim(content, "\"'` \n")}
	}
	return &llm.Response{
		Thought: structured.Thought,
		Task:    strings.TrimSpace(structured.Task),
		Params:  structured.Params,
	}
}

func (c *Client) buildPayload(req llm.Request) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	messages := []message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buildUserPrompt(req)},
	}

	body := map[string]any{
		"model":           c.model,
		"messages":        messages,
		"temperature":     0,
		"response_format": map[string]string{"type": "json_object"},
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 请求失败: %w", err)
	}
	return encoded, nil
}

const systemPrompt = "" +
	"You are an automation assistant that maps a task description onto exactly one of the available tasks. " +
	"Always respond with a compact JSON object: {\"thought\": string, \"task\": string, \"params\": object}. " +
	"\"task\" must be one of the listed names, or an empty string when none applies. " +
	"Only use parameter keys that the chosen task declares."

func buildUserPrompt(req llm.Request) string {
	var builder strings.Builder
	builder.WriteString("## Available tasks\n")
	for _, task := range req.Tasks {
		builder.WriteString(fmt.Sprintf("- %s: %s", task.Name, strings.TrimSpace(task.Summary)))
		if len(task.Required) > 0 {
			builder.WriteString(fmt.Sprintf(" (required: %s)", strings.Join(task.Required, ", ")))
		}
		if len(task.Optional) > 0 {
			builder.WriteString(fmt.Sprintf(" (optional: %s)", strings.Join(task.Optional, ", ")))
		}
		builder.WriteString("\n")
	}
	builder.WriteString("\n## Description\n")
	builder.WriteString(truncate(req.Description, 2000))
	builder.WriteString("\n")
	return builder.String()
}

func truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len([]rune(text)) > limit {
		return string([]rune(text)[:limit]) + "..."
	}
	return text
}
