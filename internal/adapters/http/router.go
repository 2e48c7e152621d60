package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/dicom-pipeline/internal/config"
	"github.com/kirillkom/dicom-pipeline/internal/core/ports"
	"github.com/kirillkom/dicom-pipeline/internal/observability/metrics"
)

const serviceName = "api"

// SignedObjects serves artifacts behind URLs issued by PresignGet. Only the
// local filesystem backend needs it; cloud backends sign their own URLs.
type SignedObjects interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Verify(key, expires, sig string) error
}

type Router struct {
	ingestUC ports.UploadIngestor
	readUC   ports.UploadReader
	objects  SignedObjects
	metrics  *metrics.HTTPServerMetrics

	maxUploadBytes int64
	rateLimitRPS   float64
	rateLimitBurst int
	maxInFlight    int
	inFlightWait   time.Duration
}

func NewRouter(
	cfg config.Config,
	ingestUC ports.UploadIngestor,
	readUC ports.UploadReader,
	objects SignedObjects,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		ingestUC:       ingestUC,
		readUC:         readUC,
		objects:        objects,
		metrics:        httpMetrics,
		maxUploadBytes: cfg.MaxUploadBytes,
		rateLimitRPS:   cfg.APIRateLimitRPS,
		rateLimitBurst: cfg.APIRateLimitBurst,
		maxInFlight:    cfg.APIBackpressureMaxInFlight,
		inFlightWait:   cfg.APIBackpressureWait,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("POST /v1/uploads", rt.uploadArchive)
	mux.HandleFunc("GET /v1/uploads/{id}", rt.getUpload)
	mux.HandleFunc("GET /v1/uploads/{id}/conversions", rt.listConversions)
	if rt.objects != nil {
		mux.HandleFunc("GET /v1/objects/{key...}", rt.getObject)
	}
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = backpressureMiddleware(handler, rt.maxInFlight, rt.inFlightWait)
	handler = rateLimitMiddleware(handler, rt.rateLimitRPS, rt.rateLimitBurst)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	handler = accessLogMiddleware(handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadArchive(w http.ResponseWriter, r *http.Request) {
	if rt.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes)
	}
	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "archive exceeds upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	upload, err := rt.ingestUC.Upload(
		r.Context(),
		r.FormValue("company_id"),
		r.FormValue("user_id"),
		fileHeader.Filename,
		file,
	)
	if rt.metrics != nil {
		rt.metrics.RecordUpload(serviceName, fileHeader.Size, err)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, upload)
}

func (rt *Router) getUpload(w http.ResponseWriter, r *http.Request) {
	upload, err := rt.readUC.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

func (rt *Router) listConversions(w http.ResponseWriter, r *http.Request) {
	conversions, err := rt.readUC.ListConversions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversions": conversions})
}

func (rt *Router) getObject(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	query := r.URL.Query()
	if err := rt.objects.Verify(key, query.Get("expires"), query.Get("sig")); err != nil {
		writeError(w, http.StatusForbidden, "invalid or expired signature")
		return
	}
	rc, err := rt.objects.Open(r.Context(), key)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentTypeFor(key))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("object_stream_failed", "request_id", requestIDFromContext(r.Context()), "key", key, "error", err.Error())
	}
}

func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err.Error())
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
