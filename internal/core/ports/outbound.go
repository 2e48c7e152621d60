package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

type ObjectInfo struct {
	Key  string
	Size int64
}

// ObjectStorage holds archives, extracted files and produced artifacts.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// FetchToLocal copies key into dir and returns the local path.
	FetchToLocal(ctx context.Context, key, dir string) (string, error)
	Put(ctx context.Context, localPath, key string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ArchiveExtractor unpacks an archive into destDir and returns the
// extracted file paths in archive order.
type ArchiveExtractor interface {
	Extract(ctx context.Context, archivePath, destDir string) ([]string, error)
}

// ImageParser reads one file into a ParsedImage. Files that are not DICOM
// return a domain.ErrNotDICOM error.
type ImageParser interface {
	Parse(ctx context.Context, path string) (*domain.ParsedImage, error)
}

// UploadRepository persists uploads and their status history.
type UploadRepository interface {
	Create(ctx context.Context, upload *domain.Upload) error
	GetByID(ctx context.Context, id string) (*domain.Upload, error)
	UpdateStatus(ctx context.Context, id string, status domain.UploadStatus, errMessage string) error
	InsertStatusEvent(ctx context.Context, event domain.StatusEvent) error
	UpdateStatusEvent(ctx context.Context, statusID string, status domain.UploadStatus, details string) error
}

// HierarchyStore persists the records of one aggregation pass.
type HierarchyStore interface {
	SaveSeries(ctx context.Context, records []domain.SeriesRecord) error
	SavePatients(ctx context.Context, records []domain.PatientRecord) error
}

// ConversionRepository tracks produced volumes.
type ConversionRepository interface {
	CreateConversion(ctx context.Context, conversion *domain.Conversion) error
	GetConversion(ctx context.Context, id string) (*domain.Conversion, error)
	ListByUpload(ctx context.Context, uploadID string) ([]domain.Conversion, error)
	CompleteConversion(ctx context.Context, id string, illustrationURL *string) error
	FailConversion(ctx context.Context, id string, errMessage string) error
}

// MetadataStore holds the per-volume image row and its attribute rows.
type MetadataStore interface {
	InsertImage(ctx context.Context, image domain.ImageRecord) (string, error)
	InsertMetadata(ctx context.Context, imageID string, entries []domain.MetadataEntry) error
}

// Notifier publishes user-facing notices. Callers log and ignore its errors.
type Notifier interface {
	NotifyError(ctx context.Context, notice domain.ErrorNotice) error
	NotifySuccess(ctx context.Context, notice domain.SuccessNotice) error
}

// StageQueue chains pipeline stages.
type StageQueue interface {
	Publish(ctx context.Context, stage domain.Stage, event domain.StageEvent) error
	Subscribe(ctx context.Context, stage domain.Stage, handler func(context.Context, domain.StageEvent) error) error
}

// MetadataSummarizer selects the clinically relevant subset of a metadata bag.
type MetadataSummarizer interface {
	Summarize(ctx context.Context, metadata map[string]domain.Value) (map[string]domain.Value, error)
}

// Illustrator produces an illustrative PNG for a short description.
type Illustrator interface {
	Illustrate(ctx context.Context, description string) ([]byte, error)
}

// PreviewRenderer draws a thumbnail of a volume as PNG.
type PreviewRenderer interface {
	Render(w io.Writer, vol *domain.Volume) error
}

// PipelineMetrics receives per-file and per-volume counters from the stages.
type PipelineMetrics interface {
	FilesParsed(stage string, parsed, skipped int)
	VolumeWritten(mode string, frames, rejected int)
}
