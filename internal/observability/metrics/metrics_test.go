package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestWorkerMetricsExposeCounters(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartStage("convert")
	m.FilesParsed("convert", 3, 1)
	m.VolumeWritten("batch", 3, 1)
	m.FinishStage("convert", 2*time.Second, http.StatusOK)

	out := scrape(t, m.Handler())
	for _, want := range []string{
		`dicom_worker_files_total{result="parsed",service="worker",stage="convert"} 3`,
		`dicom_worker_files_total{result="skipped",service="worker",stage="convert"} 1`,
		`dicom_worker_volumes_written_total{mode="batch",service="worker"} 1`,
		`dicom_worker_frames_rejected_total{mode="batch",service="worker"} 1`,
		`dicom_worker_stage_runs_total{code="200",service="worker",stage="convert"} 1`,
		`dicom_worker_stage_in_flight{service="worker",stage="convert"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHTTPMiddlewareNormalizesPaths(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	h := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	for _, path := range []string{"/v1/uploads/abc", "/v1/uploads/def", "/v1/uploads/abc/conversions", "/v1/objects/a/b/c.raw"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	m.RecordUpload("api", 2<<20, nil)

	out := scrape(t, m.Handler())
	for _, want := range []string{
		`dicom_http_requests_total{method="GET",path="/v1/uploads/{upload_id}",service="api",status="404"} 2`,
		`dicom_http_requests_total{method="GET",path="/v1/uploads/{upload_id}/conversions",service="api",status="404"} 1`,
		`dicom_http_requests_total{method="GET",path="/v1/objects/{key}",service="api",status="404"} 1`,
		`dicom_ingest_uploads_total{service="api",status="accepted"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
