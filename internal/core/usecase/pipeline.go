package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/core/ports"
)

// uploadKeys derives every object key of one upload from its identifiers.
type uploadKeys struct {
	root     string
	uploadID string
}

func keysFor(companyID, userID, uploadID string) uploadKeys {
	return uploadKeys{
		root:     path.Join(companyID, userID, "uploads", uploadID),
		uploadID: uploadID,
	}
}

func (k uploadKeys) Archive() string {
	return path.Join(k.root, k.uploadID+".zip")
}

func (k uploadKeys) ExtractedPrefix() string {
	return path.Join(k.root, "extracted") + "/"
}

func (k uploadKeys) Extracted(rel string) string {
	return path.Join(k.root, "extracted", path.Clean("/"+rel))
}

func (k uploadKeys) temp(name string) string {
	return path.Join(k.root, "temp", name)
}

func (k uploadKeys) Raw(unit string) string {
	return k.temp(unit + ".raw")
}

func (k uploadKeys) Settings(unit string) string {
	return k.temp(unit + "-settings.json")
}

func (k uploadKeys) Preview(unit string) string {
	return k.temp(unit + "-preview.png")
}

func (k uploadKeys) Illustration(unit string) string {
	return k.temp(unit + "-illustration.png")
}

// stageRecorder writes status transitions and notices. Its failures are
// logged and notified, never returned.
type stageRecorder struct {
	stage    string
	uploads  ports.UploadRepository
	notifier ports.Notifier
	now      func() time.Time
}

func newStageRecorder(stage string, uploads ports.UploadRepository, notifier ports.Notifier) *stageRecorder {
	return &stageRecorder{
		stage:    stage,
		uploads:  uploads,
		notifier: notifier,
		now:      time.Now,
	}
}

// validate rejects events without correlation identifiers before any work.
func (r *stageRecorder) validate(ctx context.Context, event domain.StageEvent) (domain.StageResult, bool) {
	err := event.Validate()
	if err == nil {
		return domain.StageResult{}, true
	}
	slog.Warn("stage_event_invalid", "stage", r.stage, "upload_id", event.UploadID, "error", err.Error())
	r.notifyError(ctx, event.UserID, domain.NoticeValidation, "Missing Required Fields",
		fmt.Sprintf("%v for upload_id: %s", err, event.UploadID))
	return domain.StageResult{StatusCode: http.StatusBadRequest, Message: err.Error()}, false
}

func (r *stageRecorder) notifyError(ctx context.Context, userID, kind, title, description string) {
	notice := domain.ErrorNotice{Type: kind, Title: title, Description: description, UserID: userID}
	if err := r.notifier.NotifyError(ctx, notice); err != nil {
		slog.Error("notify_error_failed", "stage", r.stage, "error_type", kind, "error", err.Error())
	}
}

func (r *stageRecorder) notifySuccess(ctx context.Context, event domain.StageEvent, status domain.UploadStatus, message string) {
	notice := domain.SuccessNotice{
		CompanyID:    event.CompanyID,
		UserID:       event.UserID,
		StatusID:     event.StatusID,
		UploadID:     event.UploadID,
		ConversionID: event.ConversionID,
		Status:       string(status),
		Message:      message,
		Timestamp:    r.now().UTC(),
	}
	if err := r.notifier.NotifySuccess(ctx, notice); err != nil {
		slog.Error("notify_success_failed", "stage", r.stage, "upload_id", event.UploadID, "error", err.Error())
	}
}

// advance moves the upload to status and appends a history row.
func (r *stageRecorder) advance(ctx context.Context, event domain.StageEvent, status domain.UploadStatus, details string) {
	if err := r.uploads.UpdateStatus(ctx, event.UploadID, status, ""); err != nil {
		slog.Error("upload_status_update_failed", "stage", r.stage, "upload_id", event.UploadID, "status", status, "error", err.Error())
		r.notifyError(ctx, event.UserID, domain.NoticeDatabase, "Status Update Failed",
			fmt.Sprintf("Failed to update status to %s for upload ID: %s", status, event.UploadID))
	}

	now := r.now().UTC()
	history := domain.StatusEvent{
		StatusID:  uuid.NewString(),
		UploadID:  event.UploadID,
		UserID:    event.UserID,
		Status:    status,
		Details:   details,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.uploads.InsertStatusEvent(ctx, history); err != nil {
		slog.Error("status_history_insert_failed", "stage", r.stage, "upload_id", event.UploadID, "status", status, "error", err.Error())
		r.notifyError(ctx, event.UserID, domain.NoticeDatabase, "Status History Update Failed",
			fmt.Sprintf("Failed to insert %s status history for upload ID: %s", status, event.UploadID))
	}
}

// progress marks an in-flight stage. Failures are only logged.
func (r *stageRecorder) progress(ctx context.Context, event domain.StageEvent, status domain.UploadStatus) {
	if err := r.uploads.UpdateStatus(ctx, event.UploadID, status, ""); err != nil {
		slog.Warn("upload_status_update_failed", "stage", r.stage, "upload_id", event.UploadID, "status", status, "error", err.Error())
	}
}

// fail records a terminal failure for the invocation and reports it.
func (r *stageRecorder) fail(ctx context.Context, event domain.StageEvent, code int, kind, title string, cause error) domain.StageResult {
	slog.Error("stage_failed", "stage", r.stage, "upload_id", event.UploadID, "error_type", kind, "error", cause.Error())
	r.notifyError(ctx, event.UserID, kind, title, fmt.Sprintf("%s for upload_id %s: %v", title, event.UploadID, cause))
	if err := r.uploads.UpdateStatus(ctx, event.UploadID, domain.StatusFailed, cause.Error()); err != nil {
		slog.Error("upload_status_update_failed", "stage", r.stage, "upload_id", event.UploadID, "status", domain.StatusFailed, "error", err.Error())
	}
	return domain.StageResult{StatusCode: code, Message: fmt.Sprintf("%s: %v", title, cause)}
}

type noopMetrics struct{}

func (noopMetrics) FilesParsed(string, int, int)   {}
func (noopMetrics) VolumeWritten(string, int, int) {}

func metricsOrNoop(m ports.PipelineMetrics) ports.PipelineMetrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
