// Package taskengine is a small Go client for the task engine REST API.
package taskengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Repository syncs can take a while, so it is longer than a typical API call.
const DefaultHTTPTimeout = 5 * time.Minute

// Client wraps the HTTP interactions with the task engine.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// ExecuteRequest names a task directly or describes it in free text.
type ExecuteRequest struct {
	Task        string         `json:"task,omitempty"`
	Description string         `json:"description,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// ExecuteResponse is returned for a successful execution.
type ExecuteResponse struct {
	Message     string          `json:"message"`
	Task        string          `json:"task"`
	ExecutionID string          `json:"execution_id"`
	Output      json.RawMessage `json:"output,omitempty"`
}

// TaskDescriptor describes a registered task.
type TaskDescriptor struct {
	Name         string   `json:"name"`
	Summary      string   `json:"summary"`
	Required     []string `json:"required"`
	Optional     []string `json:"optional,omitempty"`
	Idempotent   bool     `json:"idempotent"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// APIError represents a failure reported by the server.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
	// Retryable reports whether the server marked the failure as transient.
	Retryable  bool   `json:"retryable"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("taskengine api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("taskengine api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Execute runs a task and waits for its result.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResponse, error) {
	var out ExecuteResponse
	if err := c.post(ctx, "/api/v1/tasks/execute", nil, req, &out); err != nil {
		return ExecuteResponse{}, err
	}
	return out, nil
}

// Run calls the legacy /run route with a task name or description.
func (c *Client) Run(ctx context.Context, task string, params map[string]any) (ExecuteResponse, error) {
	var out ExecuteResponse
	if err := c.post(ctx, "/run", url.Values{"task": {task}}, params, &out); err != nil {
		return ExecuteResponse{}, err
	}
	return out, nil
}

// ListTasks returns the registered task descriptors.
func (c *Client) ListTasks(ctx context.Context) ([]TaskDescriptor, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/tasks", nil, nil)
	if err != nil {
		return nil, err
	}
	var out []TaskDescriptor
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadFile returns the raw content of a file under the engine's data root.
func (c *Client) ReadFile(ctx context.Context, name string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/files", url.Values{"path": {name}}, nil)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := c.do(req, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Health checks the liveness probe.
func (c *Client) Health(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, query url.Values, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, query, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	switch dst := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err := io.Copy(dst, resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		return nil
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
}
