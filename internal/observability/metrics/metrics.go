package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const namespace = "taskengine"

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120}

// series 标识一组标签值，按声明顺序拼接。
type series struct {
	labels string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram() *histogram {
	return &histogram{
		buckets: defaultBuckets,
		counts:  make([]uint64, len(defaultBuckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			h.counts[idx]++
		}
	}
}

// family 是同名指标的一组计数器与直方图。
type family struct {
	name     string
	help     string
	counters map[series]uint64
	latency  map[series]*histogram
}

func newFamily(name, help string) *family {
	return &family{
		name:     name,
		help:     help,
		counters: make(map[series]uint64),
		latency:  make(map[series]*histogram),
	}
}

type collector struct {
	mu        sync.Mutex
	tasks     *family
	taskTimes *family
	requests  *family
	reqTimes  *family
}

var defaultCollector = newCollector()

func newCollector() *collector {
	return &collector{
		tasks:     newFamily(namespace+"_task_executions_total", "Total number of dispatched task executions by outcome."),
		taskTimes: newFamily(namespace+"_task_duration_seconds", "Task execution duration in seconds."),
		requests:  newFamily(namespace+"_http_requests_total", "Total number of HTTP requests processed."),
		reqTimes:  newFamily(namespace+"_http_request_duration_seconds", "HTTP request duration in seconds."),
	}
}

// ObserveTask 记录一次任务调度的结果，code 为空表示成功。
func ObserveTask(task, code string, duration time.Duration) {
	defaultCollector.observeTask(task, code, duration)
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultCollector.observeHTTP(handler, method, status, duration)
}

func (c *collector) observeTask(task, code string, duration time.Duration) {
	outcome := "success"
	if code != "" {
		outcome = "failure"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks.counters[labels("task", task, "outcome", outcome, "code", code)]++
	key := labels("task", task)
	hist := c.taskTimes.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.taskTimes.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

func (c *collector) observeHTTP(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests.counters[labels("handler", handler, "method", method, "code", strconv.Itoa(status))]++
	key := labels("handler", handler, "method", method)
	hist := c.reqTimes.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.reqTimes.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

// TaskCount 返回某任务在指定错误码下的累计次数，code 为空表示成功次数。
func TaskCount(task, code string) uint64 {
	outcome := "success"
	if code != "" {
		outcome = "failure"
	}
	defaultCollector.mu.Lock()
	defer defaultCollector.mu.Unlock()
	return defaultCollector.tasks.counters[labels("task", task, "outcome", outcome, "code", code)]
}

func labels(kv ...string) series {
	parts := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=\"%s\"", kv[i], escape(kv[i+1])))
	}
	return series{labels: strings.Join(parts, ",")}
}

// Handler 以 Prometheus 文本格式输出指标。
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)
	renderCounters(&b, c.tasks)
	renderHistograms(&b, c.taskTimes)
	renderCounters(&b, c.requests)
	renderHistograms(&b, c.reqTimes)
	return b.String()
}

func renderCounters(b *strings.Builder, f *family) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s counter\n", f.name, f.help, f.name)
	keys := make([]series, 0, len(f.counters))
	for k := range f.counters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].labels < keys[j].labels })
	for _, k := range keys {
		fmt.Fprintf(b, "%s{%s} %d\n", f.name, k.labels, f.counters[k])
	}
}

func renderHistograms(b *strings.Builder, f *family) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s histogram\n", f.name, f.help, f.name)
	keys := make([]series, 0, len(f.latency))
	for k := range f.latency {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].labels < keys[j].labels })
	for _, k := range keys {
		h := f.latency[k]
		for idx, bound := range h.buckets {
			fmt.Fprintf(b, "%s_bucket{%s,le=\"%s\"} %d\n", f.name, k.labels, formatFloat(bound), h.counts[idx])
		}
		fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", f.name, k.labels, h.count)
		fmt.Fprintf(b, "%s_sum{%s} %s\n", f.name, k.labels, formatFloat(h.sum))
		fmt.Fprintf(b, "%s_count{%s} %d\n", f.name, k.labels, h.count)
	}
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer 在独立地址上暴露 /metrics。
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
