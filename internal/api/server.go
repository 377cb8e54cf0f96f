package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/internal/observability/metrics"
	"OpenTask-Engine/internal/resolver"
	"OpenTask-Engine/pkg/logger"
)

// TaskExecutor 解析并执行任务请求。
type TaskExecutor interface {
	Execute(ctx context.Context, req resolver.Request) (*engine.Result, error)
}

// Catalog 列出已注册任务。
type Catalog interface {
	Descriptors() []engine.Descriptor
}

// FileReader 读取数据根目录中的文件。
type FileReader interface {
	ReadFile(raw string) ([]byte, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr    string
	exec    TaskExecutor
	catalog Catalog
	files   FileReader
	maxBody int64
	logger  *slog.Logger
}

// Option 定制 Server。
type Option func(*Server)

// WithMaxRequestBytes 限制请求体大小。
func WithMaxRequestBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, exec TaskExecutor, catalog Catalog, files FileReader, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		exec:    exec,
		catalog: catalog,
		files:   files,
		maxBody: 1 << 20,
		logger:  logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ExecuteRequest 是执行接口的请求体。task 与 description 至少提供一个。
type ExecuteRequest struct {
	Task        string         `json:"task,omitempty"`
	Description string         `json:"description,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// ExecuteResponse 是执行成功时的响应体。
type ExecuteResponse struct {
	Message     string `json:"message"`
	Task        string `json:"task"`
	ExecutionID string `json:"execution_id"`
	Output      any    `json:"output,omitempty"`
}

// ErrorResponse 是所有失败响应的统一格式。
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tasks/execute", s.handleExecute)
	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/v1/files", s.handleReadFile)
	mux.HandleFunc("POST /run", s.handleRun)
	mux.HandleFunc("GET /read", s.handleReadFile)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return instrument(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.execute(w, r, resolver.Request{
		Task:        req.Task,
		Description: req.Description,
		Params:      engine.Params(req.Params),
	})
}

// handleRun 兼容旧接口：task 查询参数是任务名或描述，请求体可选地携带参数。
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("task"))
	if text == "" {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidParams, "缺少 task 查询参数"))
		return
	}
	var params map[string]any
	if err := s.decode(w, r, &params); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.execute(w, r, resolver.Request{Description: text, Params: engine.Params(params)})
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, req resolver.Request) {
	if s.exec == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "任务引擎未初始化"))
		return
	}
	result, err := s.exec.Execute(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{
		Message:     result.Message,
		Task:        result.Task,
		ExecutionID: result.ExecutionID,
		Output:      result.Output,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "任务引擎未初始化"))
		return
	}
	writeJSON(w, http.StatusOK, s.catalog.Descriptors())
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidParams, "缺少 path 查询参数"))
		return
	}
	if s.files == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "任务引擎未初始化"))
		return
	}
	data, err := s.files.ReadFile(path)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// decode 读取 JSON 请求体，空请求体视为空对象。
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return xerrors.Newf(xerrors.CodeInvalidParams, "请求体超过 %d 字节", tooLarge.Limit)
		}
		return xerrors.Wrap(xerrors.CodeInvalidParams, err, "请求体解析失败")
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.CodeOf(err)
	status := StatusFor(code)
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "请求失败",
		slog.String("path", r.URL.Path),
		slog.String("code", string(code)),
		slog.Int("status", status),
		slog.Any("error", err),
	)
	writeJSON(w, status, ErrorResponse{
		Code:      string(code),
		Message:   err.Error(),
		Retryable: xerrors.RetryableError(err),
	})
}

// StatusFor 把错误码映射为 HTTP 状态码。
func StatusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidParams, xerrors.CodeUnsupportedTask:
		return http.StatusBadRequest
	case xerrors.CodePermissionDenied:
		return http.StatusForbidden
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 记录每个路由的请求数与耗时。
func instrument(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(rec, r)
		pattern := r.Pattern
		if pattern == "" {
			pattern = "unmatched"
		}
		metrics.ObserveHTTPRequest(pattern, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
