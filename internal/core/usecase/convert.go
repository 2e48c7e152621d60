package usecase

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/core/ports"
	"github.com/kirillkom/dicom-pipeline/internal/core/volume"
)

const stageConvert = "convert"

type ConvertOptions struct {
	Mode       volume.Mode
	Shape      domain.Shape
	PresignTTL time.Duration
	ScratchDir string
}

// ConvertUseCase turns the extracted files of an upload into raw volumes
// and their JSON sidecars.
type ConvertUseCase struct {
	storage     ports.ObjectStorage
	parser      ports.ImageParser
	conversions ports.ConversionRepository
	queue       ports.StageQueue
	preview     ports.PreviewRenderer
	recorder    *stageRecorder
	metrics     ports.PipelineMetrics
	opts        ConvertOptions

	now   func() time.Time
	newID func() string
}

func NewConvertUseCase(
	storage ports.ObjectStorage,
	parser ports.ImageParser,
	uploads ports.UploadRepository,
	conversions ports.ConversionRepository,
	notifier ports.Notifier,
	queue ports.StageQueue,
	preview ports.PreviewRenderer,
	metrics ports.PipelineMetrics,
	opts ConvertOptions,
) *ConvertUseCase {
	if opts.Mode == "" {
		opts.Mode = volume.ModeBatch
	}
	if opts.Shape.Rows <= 0 || opts.Shape.Cols <= 0 {
		opts.Shape = volume.DefaultShape
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = time.Hour
	}
	return &ConvertUseCase{
		storage:     storage,
		parser:      parser,
		conversions: conversions,
		queue:       queue,
		preview:     preview,
		recorder:    newStageRecorder(stageConvert, uploads, notifier),
		metrics:     metricsOrNoop(metrics),
		opts:        opts,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (uc *ConvertUseCase) Handle(ctx context.Context, event domain.StageEvent) domain.StageResult {
	if result, ok := uc.recorder.validate(ctx, event); !ok {
		return result
	}
	uc.recorder.progress(ctx, event, domain.StatusConverting)

	keys := keysFor(event.CompanyID, event.UserID, event.UploadID)
	objects, err := uc.storage.List(ctx, keys.ExtractedPrefix())
	if err != nil {
		return uc.recorder.fail(ctx, event, http.StatusInternalServerError, domain.NoticeStorage, "Extracted Files Listing Failed", err)
	}
	objects = withoutFolders(objects)
	if len(objects) == 0 {
		return uc.recorder.fail(ctx, event, http.StatusBadRequest, domain.NoticeStorage, "No Files Found",
			fmt.Errorf("no files found in folder: %s", keys.ExtractedPrefix()))
	}

	scratch, err := os.MkdirTemp(uc.opts.ScratchDir, "convert-*")
	if err != nil {
		return uc.recorder.fail(ctx, event, http.StatusInternalServerError, domain.NoticeProcessing, "Scratch Space Unavailable", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			slog.Warn("scratch_cleanup_failed", "stage", stageConvert, "path", scratch, "error", err.Error())
		}
	}()

	units, err := uc.collect(ctx, event, objects, scratch)
	if err != nil {
		return uc.recorder.fail(ctx, event, http.StatusInternalServerError, domain.NoticeStorage, "Extracted File Download Failed", err)
	}

	writer := volume.NewWriter(uc.storage, scratch)
	written := 0
	for _, unit := range units.Units() {
		if uc.convertUnit(ctx, event, keys, writer, unit) {
			written++
		}
	}

	if written == 0 {
		return uc.recorder.fail(ctx, event, http.StatusUnprocessableEntity, domain.NoticeProcessing, "No Valid Frames",
			fmt.Errorf("%w: no volume could be assembled from %d files", domain.ErrNoValidFrames, len(objects)))
	}

	uc.recorder.advance(ctx, event, domain.StatusRawFileGenerated, "Raw File has been extracted.")
	uc.recorder.notifySuccess(ctx, event, domain.StatusRawFileGenerated, "Successfully extracted raw file")
	return domain.StageResult{
		StatusCode: http.StatusOK,
		Message:    fmt.Sprintf("wrote %d of %d volumes from %d files", written, len(units.Units()), len(objects)),
	}
}

// collect downloads, parses and routes files one at a time so that only the
// normalized frames stay in memory.
func (uc *ConvertUseCase) collect(ctx context.Context, event domain.StageEvent, objects []ports.ObjectInfo, scratch string) (*volume.UnitSet, error) {
	units := volume.NewUnitSet(uc.opts.Mode, uc.opts.Shape, event.UploadID)
	downloads := filepath.Join(scratch, "files")
	if err := os.MkdirAll(downloads, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	parsed, skipped := 0, 0
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		local, err := uc.storage.FetchToLocal(ctx, obj.Key, downloads)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", obj.Key, err)
		}

		img, err := uc.parser.Parse(ctx, local)
		if rmErr := os.Remove(local); rmErr != nil {
			slog.Warn("scratch_cleanup_failed", "stage", stageConvert, "path", local, "error", rmErr.Error())
		}
		if err != nil {
			skipped++
			slog.Warn("file_skipped", "stage", stageConvert, "upload_id", event.UploadID, "key", obj.Key, "error", err.Error())
			units.AddFailure(obj.Key, err)
			continue
		}
		parsed++
		img.Path = obj.Key
		units.Add(img)
	}
	uc.metrics.FilesParsed(stageConvert, parsed, skipped)

	for _, warning := range units.Unassigned() {
		slog.Warn("file_unassigned", "stage", stageConvert, "upload_id", event.UploadID, "warning", warning)
	}
	return units, nil
}

// convertUnit writes one volume and records it. It reports whether the
// artifacts were produced.
func (uc *ConvertUseCase) convertUnit(ctx context.Context, event domain.StageEvent, keys uploadKeys, writer *volume.Writer, unit *volume.Unit) bool {
	name := unit.Name
	if uc.opts.Mode == volume.ModeSeries {
		name = domain.SeriesUploadID(unit.Name, event.UploadID)
	}

	res, err := unit.Result(uc.now())
	if err != nil {
		if !volume.IsUnitFailure(err) {
			slog.Error("unit_failed", "upload_id", event.UploadID, "unit", name, "error", err.Error())
		} else {
			slog.Warn("unit_skipped", "upload_id", event.UploadID, "unit", name, "error", err.Error())
		}
		uc.recorder.notifyError(ctx, event.UserID, domain.NoticeProcessing, "No Valid Frames",
			fmt.Sprintf("Unit %s of upload_id %s produced no volume: %v", name, event.UploadID, err))
		return false
	}
	for _, warning := range res.Info.Warnings {
		slog.Warn("unit_warning", "upload_id", event.UploadID, "unit", name, "warning", warning)
	}

	artifacts := volume.ArtifactKeys{Raw: keys.Raw(name), Settings: keys.Settings(name)}
	doc := volume.NewDocument(res.Volume, res.Metadata, &res.Info)
	if err := writer.Emit(ctx, artifacts, res.Volume, doc); err != nil {
		slog.Error("volume_write_failed", "upload_id", event.UploadID, "unit", name, "error", err.Error())
		uc.recorder.notifyError(ctx, event.UserID, domain.NoticeStorage, "Volume Upload Failed",
			fmt.Sprintf("Failed to store volume %s for upload_id %s: %v", name, event.UploadID, err))
		return false
	}
	uc.metrics.VolumeWritten(string(uc.opts.Mode), res.Volume.Depth(), rejectedFrames(res))

	now := uc.now().UTC()
	conversion := &domain.Conversion{
		ID:            uc.conversionID(event),
		UploadID:      event.UploadID,
		Unit:          name,
		RawPath:       artifacts.Raw,
		SettingsPath:  artifacts.Settings,
		PreviewPath:   uc.storePreview(ctx, event, keys.Preview(name), res.Volume),
		PresignedRaw:  uc.presign(ctx, artifacts.Raw),
		PresignedJSON: uc.presign(ctx, artifacts.Settings),
		Status:        domain.ConversionPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := uc.conversions.CreateConversion(ctx, conversion); err != nil {
		slog.Error("conversion_insert_failed", "upload_id", event.UploadID, "unit", name, "error", err.Error())
		uc.recorder.notifyError(ctx, event.UserID, domain.NoticeDatabase, "Database Update Failed",
			fmt.Sprintf("Failed to update database for upload_id %s: %v", event.UploadID, err))
		return true
	}

	next := event
	next.ConversionID = conversion.ID
	if err := uc.queue.Publish(ctx, domain.StageConverted, next); err != nil {
		slog.Error("stage_publish_failed", "stage", stageConvert, "upload_id", event.UploadID, "conversion_id", conversion.ID, "error", err.Error())
		uc.recorder.notifyError(ctx, event.UserID, domain.NoticeProcessing, "Enrichment Trigger Failed",
			fmt.Sprintf("Failed to trigger enrichment for conversion %s: %v", conversion.ID, err))
	}
	return true
}

// conversionID reuses the id carried by the event for a single batch volume.
func (uc *ConvertUseCase) conversionID(event domain.StageEvent) string {
	if uc.opts.Mode == volume.ModeBatch && strings.TrimSpace(event.ConversionID) != "" {
		return event.ConversionID
	}
	return uc.newID()
}

// presign returns nil when no URL can be issued; the conversion row stores null.
func (uc *ConvertUseCase) presign(ctx context.Context, key string) *string {
	url, err := uc.storage.PresignGet(ctx, key, uc.opts.PresignTTL)
	if err != nil {
		slog.Warn("presign_failed", "key", key, "error", err.Error())
		return nil
	}
	return &url
}

func (uc *ConvertUseCase) storePreview(ctx context.Context, event domain.StageEvent, key string, vol *domain.Volume) string {
	if uc.preview == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := uc.preview.Render(&buf, vol); err != nil {
		slog.Warn("preview_render_failed", "upload_id", event.UploadID, "error", err.Error())
		return ""
	}
	if err := uc.storage.Save(ctx, key, &buf); err != nil {
		slog.Warn("preview_store_failed", "upload_id", event.UploadID, "key", key, "error", err.Error())
		return ""
	}
	return key
}

func withoutFolders(objects []ports.ObjectInfo) []ports.ObjectInfo {
	out := make([]ports.ObjectInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.Key == "" || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		out = append(out, obj)
	}
	return out
}

func rejectedFrames(res *volume.UnitResult) int {
	rejected := res.Info.FilesProcessed - res.Volume.Depth()
	if rejected < 0 {
		return 0
	}
	return rejected
}
