package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRecorders(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatal(err)
	}

	m.RecordTask(OutcomeCompleted, time.Second)
	m.RecordTask(OutcomeRetried, time.Second)
	m.RecordTask(OutcomeRetried, time.Second)
	m.RecordDetection("HIGH")
	m.RecordSagaFailure("investigation")
	m.RecordAnalysisRun(true, time.Minute)
	m.SetQueueDepth(4)

	if got := testutil.ToFloat64(m.TasksTotal.WithLabelValues(OutcomeRetried)); got != 2 {
		t.Errorf("retried = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DetectionsTotal); got != 1 {
		t.Errorf("detections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AlertsTotal.WithLabelValues("HIGH")); got != 1 {
		t.Errorf("alerts HIGH = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 4 {
		t.Errorf("queue depth = %v, want 4", got)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *PipelineMetrics
	m.RecordTask(OutcomeFailed, time.Second)
	m.SetQueueDepth(1)
	m.SetInFlight(1)
	m.RecordEnsure("queued")
	m.RecordDetection("LOW")
	m.RecordSagaFailure("alert")
	m.RecordAnalysisRun(false, time.Second)
}

func TestHandler(t *testing.T) {
	m, _ := New(prometheus.NewRegistry())
	m.RecordEnsure("queued")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `minewatch_ingestion_images_total{action="queued"} 1`) {
		t.Errorf("metrics output missing ensure counter:\n%s", body)
	}
}
