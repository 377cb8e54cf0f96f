package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// WebhookFormat 表示告警消息的格式。
type WebhookFormat string

// 支持的告警格式
const (
	FormatJSON     WebhookFormat = "json"
	FormatSlack    WebhookFormat = "slack"
	FormatDingTalk WebhookFormat = "dingtalk"
)

// WebhookConfig 描述告警 webhook。
type WebhookConfig struct {
	URL     string
	Format  WebhookFormat
	Timeout time.Duration
	// AllEvents 为 false 时只投递错误码标记为需要告警的失败事件。
	AllEvents bool
}

// WebhookPublisher 把需要告警的失败事件推送到 webhook。
type WebhookPublisher struct {
	url       string
	format    WebhookFormat
	allEvents bool
	client    *http.Client
}

// NewWebhookPublisher 创建 webhook 发布者。
func NewWebhookPublisher(cfg WebhookConfig, client *http.Client) (*WebhookPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("webhook url 不能为空")
	}
	format := cfg.Format
	if format == "" {
		format = FormatJSON
	}
	switch format {
	case FormatJSON, FormatSlack, FormatDingTalk:
	default:
		return nil, fmt.Errorf("不支持的 webhook 格式: %s", format)
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &WebhookPublisher{url: cfg.URL, format: format, allEvents: cfg.AllEvents, client: client}, nil
}

// Publish 发送告警。成功事件与未标记 Alert 的失败直接忽略。
func (p *WebhookPublisher) Publish(ctx context.Context, event Event) error {
	if !p.allEvents && (event.Status != StatusFailed || !event.Alert) {
		return nil
	}
	body, err := json.Marshal(p.payload(event))
	if err != nil {
		return fmt.Errorf("编码告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("告警 webhook 返回 %s", resp.Status)
	}
	return nil
}

func (p *WebhookPublisher) payload(event Event) any {
	switch p.format {
	case FormatSlack:
		return map[string]string{"text": summary(event)}
	case FormatDingTalk:
		return map[string]any{
			"msgtype": "text",
			"text":    map[string]string{"content": summary(event)},
		}
	default:
		return event
	}
}

func summary(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s", event.Severity, event.Task, event.Status)
	if event.Code != "" {
		fmt.Fprintf(&b, " %s", event.Code)
	}
	if event.Retryable {
		b.WriteString(" (可重试)")
	}
	fmt.Fprintf(&b, "\n执行: %s\n时间: %s\n%s", event.ExecutionID, event.OccurredAt.Format(time.RFC3339), event.Message)
	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n详情:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, event.Metadata[k])
		}
	}
	return b.String()
}

// Close 实现 Publisher。
func (p *WebhookPublisher) Close() error { return nil }
