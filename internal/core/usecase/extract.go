package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/core/hierarchy"
	"github.com/kirillkom/dicom-pipeline/internal/core/ports"
)

const stageExtract = "extract"

// ExtractUseCase unpacks an uploaded archive, mirrors its files into object
// storage and records the patient/study/series hierarchy.
type ExtractUseCase struct {
	storage   ports.ObjectStorage
	extractor ports.ArchiveExtractor
	parser    ports.ImageParser
	hierarchy ports.HierarchyStore
	queue     ports.StageQueue
	recorder  *stageRecorder
	metrics   ports.PipelineMetrics

	scratchDir string
}

func NewExtractUseCase(
	storage ports.ObjectStorage,
	extractor ports.ArchiveExtractor,
	parser ports.ImageParser,
	uploads ports.UploadRepository,
	hierarchyStore ports.HierarchyStore,
	notifier ports.Notifier,
	queue ports.StageQueue,
	metrics ports.PipelineMetrics,
	scratchDir string,
) *ExtractUseCase {
	return &ExtractUseCase{
		storage:    storage,
		extractor:  extractor,
		parser:     parser,
		hierarchy:  hierarchyStore,
		queue:      queue,
		recorder:   newStageRecorder(stageExtract, uploads, notifier),
		metrics:    metricsOrNoop(metrics),
		scratchDir: scratchDir,
	}
}

func (uc *ExtractUseCase) Handle(ctx context.Context, event domain.StageEvent) domain.StageResult {
	if result, ok := uc.recorder.validate(ctx, event); !ok {
		return result
	}
	uc.recorder.progress(ctx, event, domain.StatusExtracting)

	scratch, err := os.MkdirTemp(uc.scratchDir, "extract-*")
	if err != nil {
		return uc.recorder.fail(ctx, event, http.StatusInternalServerError, domain.NoticeProcessing, "Scratch Space Unavailable", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			slog.Warn("scratch_cleanup_failed", "stage", stageExtract, "path", scratch, "error", err.Error())
		}
	}()

	keys := keysFor(event.CompanyID, event.UserID, event.UploadID)
	archivePath, err := uc.storage.FetchToLocal(ctx, keys.Archive(), scratch)
	if err != nil {
		return uc.recorder.fail(ctx, event, http.StatusInternalServerError, domain.NoticeStorage, "Archive Download Failed", err)
	}

	extractedDir := filepath.Join(scratch, "extracted")
	files, err := uc.extractor.Extract(ctx, archivePath, extractedDir)
	if err != nil {
		return uc.recorder.fail(ctx, event, http.StatusUnprocessableEntity, domain.NoticeArchive, "Archive Extraction Failed", err)
	}
	if err := os.Remove(archivePath); err != nil {
		slog.Warn("archive_cleanup_failed", "stage", stageExtract, "path", archivePath, "error", err.Error())
	}

	aggregator := hierarchy.NewAggregator(event.UserID, event.UploadID)
	parsed, skipped := 0, 0
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return uc.recorder.fail(ctx, event, http.StatusServiceUnavailable, domain.NoticeProcessing, "Extraction Cancelled", err)
		}
		rel, err := filepath.Rel(extractedDir, file)
		if err != nil {
			rel = filepath.Base(file)
		}
		if err := uc.storage.Put(ctx, file, keys.Extracted(filepath.ToSlash(rel))); err != nil {
			return uc.recorder.fail(ctx, event, http.StatusInternalServerError, domain.NoticeStorage, "Extracted File Upload Failed", err)
		}

		img, err := uc.parser.Parse(ctx, file)
		if err != nil {
			skipped++
			level := slog.LevelWarn
			if errors.Is(err, domain.ErrNotDICOM) {
				level = slog.LevelDebug
			}
			slog.Log(ctx, level, "file_skipped", "stage", stageExtract, "upload_id", event.UploadID, "file", rel, "error", err.Error())
			continue
		}
		parsed++
		aggregator.Add(img)
	}
	uc.metrics.FilesParsed(stageExtract, parsed, skipped)

	series := aggregator.Series()
	patients := aggregator.Patients()
	uc.saveHierarchy(ctx, event, series, patients)

	slog.Info("hierarchy_extracted",
		"upload_id", event.UploadID,
		"files", len(files),
		"parsed", parsed,
		"skipped", skipped,
		"patients", len(aggregator.Tree()),
		"series", len(series),
	)

	uc.recorder.advance(ctx, event, domain.StatusExtracted, "Extraction complete")

	if err := uc.queue.Publish(ctx, domain.StageExtracted, event); err != nil {
		slog.Error("stage_publish_failed", "stage", stageExtract, "upload_id", event.UploadID, "error", err.Error())
		uc.recorder.notifyError(ctx, event.UserID, domain.NoticeProcessing, "Conversion Trigger Failed",
			fmt.Sprintf("Failed to trigger conversion for upload_id %s: %v", event.UploadID, err))
		return domain.StageResult{StatusCode: http.StatusBadGateway, Message: "extracted but conversion was not triggered"}
	}

	message := fmt.Sprintf("Successfully extracted %d files from %s", len(files), keys.Archive())
	uc.recorder.notifySuccess(ctx, event, domain.StatusExtracted, message)
	return domain.StageResult{
		StatusCode: http.StatusOK,
		Message:    fmt.Sprintf("extracted %d files: %d series, %d patients", len(files), len(series), len(patients)),
	}
}

// saveHierarchy stores the pass. A failed insert is reported but the upload
// still moves on to conversion.
func (uc *ExtractUseCase) saveHierarchy(ctx context.Context, event domain.StageEvent, series []domain.SeriesRecord, patients []domain.PatientRecord) {
	if err := uc.hierarchy.SaveSeries(ctx, series); err != nil {
		slog.Error("hierarchy_insert_failed", "upload_id", event.UploadID, "table", "series", "error", err.Error())
		uc.recorder.notifyError(ctx, event.UserID, domain.NoticeDatabase, "Hierarchy Insertion Failed",
			"Failed to insert hierarchy data into the database.")
		return
	}
	if err := uc.hierarchy.SavePatients(ctx, patients); err != nil {
		slog.Error("hierarchy_insert_failed", "upload_id", event.UploadID, "table", "patients", "error", err.Error())
		uc.recorder.notifyError(ctx, event.UserID, domain.NoticeDatabase, "Hierarchy Insertion Failed",
			"Failed to insert hierarchy data into the database.")
	}
}
