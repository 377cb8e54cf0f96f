package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveTaskRendersCountersAndHistogram(t *testing.T) {
	before := TaskCount("metrics-test", "")
	ObserveTask("metrics-test", "", 120*time.Millisecond)
	ObserveTask("metrics-test", "OPERATION_FAILED", 3*time.Second)

	if got := TaskCount("metrics-test", ""); got != before+1 {
		t.Fatalf("expected success count %d, got %d", before+1, got)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`taskengine_task_executions_total{task="metrics-test",outcome="failure",code="OPERATION_FAILED"} 1`,
		`taskengine_task_duration_seconds_bucket{task="metrics-test",le="0.25"} 1`,
		`taskengine_task_duration_seconds_count{task="metrics-test"} 2`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q\n%s", want, text)
		}
	}
}

func TestObserveHTTPRequestEscapesLabels(t *testing.T) {
	ObserveHTTPRequest(`/weird"path`, "GET", 200, time.Millisecond)
	out := defaultCollector.render()
	if !strings.Contains(out, `handler="/weird\"path"`) {
		t.Fatalf("expected escaped handler label, got:\n%s", out)
	}
}
