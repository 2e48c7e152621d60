package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/core/ports"
	"github.com/kirillkom/dicom-pipeline/internal/core/volume"
)

const (
	stageEnrich       = "enrich"
	metadataBatchSize = 100
)

type EnrichOptions struct {
	ValueLimit int
	Illustrate bool
	PresignTTL time.Duration
}

// EnrichUseCase indexes a produced volume's metadata and optionally attaches
// an illustration to its sidecar.
type EnrichUseCase struct {
	storage     ports.ObjectStorage
	conversions ports.ConversionRepository
	metadata    ports.MetadataStore
	summarizer  ports.MetadataSummarizer
	illustrator ports.Illustrator
	recorder    *stageRecorder
	opts        EnrichOptions
}

func NewEnrichUseCase(
	storage ports.ObjectStorage,
	uploads ports.UploadRepository,
	conversions ports.ConversionRepository,
	metadata ports.MetadataStore,
	summarizer ports.MetadataSummarizer,
	illustrator ports.Illustrator,
	notifier ports.Notifier,
	opts EnrichOptions,
) *EnrichUseCase {
	if opts.ValueLimit <= 0 {
		opts.ValueLimit = volume.DefaultValueLimit
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = time.Hour
	}
	return &EnrichUseCase{
		storage:     storage,
		conversions: conversions,
		metadata:    metadata,
		summarizer:  summarizer,
		illustrator: illustrator,
		recorder:    newStageRecorder(stageEnrich, uploads, notifier),
		opts:        opts,
	}
}

func (uc *EnrichUseCase) Handle(ctx context.Context, event domain.StageEvent) domain.StageResult {
	if result, ok := uc.recorder.validate(ctx, event); !ok {
		return result
	}
	if strings.TrimSpace(event.ConversionID) == "" {
		err := &domain.MissingFieldsError{Fields: []string{"conversion_id"}}
		uc.recorder.notifyError(ctx, event.UserID, domain.NoticeValidation, "Missing Required Fields",
			fmt.Sprintf("%v for upload_id: %s", err, event.UploadID))
		return domain.StageResult{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}
	uc.recorder.progress(ctx, event, domain.StatusEnriching)

	conversion, err := uc.conversions.GetConversion(ctx, event.ConversionID)
	if err != nil {
		code := http.StatusInternalServerError
		if domain.IsKind(err, domain.ErrConversionNotFound) {
			code = http.StatusNotFound
		}
		return uc.recorder.fail(ctx, event, code, domain.NoticeDatabase, "Conversion Lookup Failed", err)
	}

	doc, err := uc.loadDocument(ctx, conversion.SettingsPath)
	if err != nil {
		uc.failConversion(ctx, conversion.ID, err)
		return uc.recorder.fail(ctx, event, http.StatusInternalServerError, domain.NoticeStorage, "Settings Download Failed", err)
	}

	image := imageRecord(conversion, doc.DicomMetadata)
	if image.SOPInstanceUID == "" {
		err := domain.WrapError(domain.ErrInvalidInput, "build image record", errors.New("sop_instance_uid is empty"))
		uc.failConversion(ctx, conversion.ID, err)
		return uc.recorder.fail(ctx, event, http.StatusUnprocessableEntity, domain.NoticeEnrichment, "Image Record Invalid", err)
	}

	summary := uc.summarize(ctx, event, doc.DicomMetadata)
	if err := uc.index(ctx, image, summary); err != nil {
		uc.failConversion(ctx, conversion.ID, err)
		return uc.recorder.fail(ctx, event, http.StatusInternalServerError, domain.NoticeDatabase, "Metadata Insert Failed", err)
	}

	illustrationURL := uc.illustrate(ctx, event, conversion, doc)

	if err := uc.conversions.CompleteConversion(ctx, conversion.ID, illustrationURL); err != nil {
		slog.Error("conversion_update_failed", "conversion_id", conversion.ID, "error", err.Error())
		uc.recorder.notifyError(ctx, event.UserID, domain.NoticeDatabase, "Database Update Failed",
			fmt.Sprintf("Failed to complete conversion %s: %v", conversion.ID, err))
	}

	uc.recorder.advance(ctx, event, domain.StatusConverted, "Conversion complete")
	uc.recorder.notifySuccess(ctx, event, domain.StatusConverted, "File processing completed successfully.")
	return domain.StageResult{
		StatusCode: http.StatusOK,
		Message:    fmt.Sprintf("indexed %d metadata fields for conversion %s", len(summary), conversion.ID),
	}
}

func (uc *EnrichUseCase) loadDocument(ctx context.Context, key string) (*domain.VolumeDocument, error) {
	rc, err := uc.storage.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open settings %s: %w", key, err)
	}
	defer rc.Close()

	doc, err := volume.DecodeDocument(rc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// summarize keeps the clinically relevant subset. When the summarizer is
// unavailable the full bag is indexed instead.
func (uc *EnrichUseCase) summarize(ctx context.Context, event domain.StageEvent, meta map[string]domain.Value) map[string]domain.Value {
	if uc.summarizer == nil {
		return meta
	}
	summary, err := uc.summarizer.Summarize(ctx, meta)
	if err != nil || len(summary) == 0 {
		reason := "empty summary"
		if err != nil {
			reason = err.Error()
		}
		slog.Warn("metadata_summary_fallback", "upload_id", event.UploadID, "conversion_id", event.ConversionID, "reason", reason)
		return meta
	}
	if records, ok := meta[directoryRecordsKey]; ok {
		summary[directoryRecordsKey] = records
	}
	return summary
}

func (uc *EnrichUseCase) index(ctx context.Context, image domain.ImageRecord, summary map[string]domain.Value) error {
	imageID, err := uc.metadata.InsertImage(ctx, image)
	if err != nil {
		return fmt.Errorf("insert dicom image: %w", err)
	}

	entries := volume.Flatten(summary, uc.opts.ValueLimit)
	for start := 0; start < len(entries); start += metadataBatchSize {
		end := min(start+metadataBatchSize, len(entries))
		if err := uc.metadata.InsertMetadata(ctx, imageID, entries[start:end]); err != nil {
			return fmt.Errorf("insert metadata batch %d: %w", start/metadataBatchSize+1, err)
		}
	}
	return nil
}

// illustrate stores a generated image next to the volume and records it in
// the sidecar. Every failure here is reported and otherwise ignored.
func (uc *EnrichUseCase) illustrate(ctx context.Context, event domain.StageEvent, conversion *domain.Conversion, doc *domain.VolumeDocument) *string {
	if !uc.opts.Illustrate || uc.illustrator == nil {
		return nil
	}
	description := describe(doc.DicomMetadata)

	reportErr := func(step string, err error) *string {
		slog.Warn("illustration_failed", "conversion_id", conversion.ID, "step", step, "error", err.Error())
		uc.recorder.notifyError(ctx, event.UserID, domain.NoticeEnrichment, "Illustration Failed",
			fmt.Sprintf("Failed to %s for conversion %s: %v", step, conversion.ID, err))
		return nil
	}

	png, err := uc.illustrator.Illustrate(ctx, description)
	if err != nil {
		return reportErr("generate illustration", err)
	}
	keys := keysFor(event.CompanyID, event.UserID, event.UploadID)
	key := keys.Illustration(conversion.Unit)
	if err := uc.storage.Save(ctx, key, bytes.NewReader(png)); err != nil {
		return reportErr("store illustration", err)
	}
	url, err := uc.storage.PresignGet(ctx, key, uc.opts.PresignTTL)
	if err != nil {
		return reportErr("presign illustration", err)
	}

	doc.AIVisualization = &domain.AIVisualization{URL: url, GeneratedFrom: description}
	var buf bytes.Buffer
	if err := volume.EncodeDocument(&buf, *doc); err != nil {
		return reportErr("encode settings", err)
	}
	if err := uc.storage.Save(ctx, conversion.SettingsPath, &buf); err != nil {
		return reportErr("rewrite settings", err)
	}
	return &url
}

func (uc *EnrichUseCase) failConversion(ctx context.Context, id string, cause error) {
	if err := uc.conversions.FailConversion(ctx, id, cause.Error()); err != nil {
		slog.Error("conversion_update_failed", "conversion_id", id, "error", err.Error())
	}
}

const directoryRecordsKey = "DirectoryRecordSequence"

func imageRecord(conversion *domain.Conversion, meta map[string]domain.Value) domain.ImageRecord {
	text := func(key string) string {
		v, ok := meta[key]
		if !ok {
			return ""
		}
		return strings.TrimSpace(v.Text())
	}
	filePath := text("FileSetID")
	if filePath == "" {
		filePath = conversion.RawPath
	}
	return domain.ImageRecord{
		ConversionID:            conversion.ID,
		SOPInstanceUID:          text("SOPInstanceUID"),
		FilePath:                filePath,
		InstanceNumber:          text("InstanceNumber"),
		SliceLocation:           text("SliceLocation"),
		ImagePositionPatient:    text("ImagePositionPatient"),
		ImageOrientationPatient: text("ImageOrientationPatient"),
		PixelSpacing:            text("PixelSpacing"),
	}
}

// describe builds the illustration prompt subject from modality and anatomy.
func describe(meta map[string]domain.Value) string {
	part := func(key string) string {
		v, ok := meta[key]
		if !ok {
			return ""
		}
		return strings.TrimSpace(v.Text())
	}
	modality := part("Modality")
	if modality == "" {
		modality = "medical"
	}
	subject := part("BodyPartExamined")
	if subject == "" {
		subject = part("StudyDescription")
	}
	if subject == "" {
		return modality + " scan"
	}
	return fmt.Sprintf("%s scan of the %s", modality, strings.ToLower(subject))
}
