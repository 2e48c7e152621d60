package ports

import (
	"context"
	"io"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

// UploadIngestor is the inbound contract for archive upload orchestration.
type UploadIngestor interface {
	Upload(ctx context.Context, companyID, userID, filename string, body io.Reader) (*domain.Upload, error)
}

// UploadReader is the inbound read model for upload state and produced volumes.
type UploadReader interface {
	GetByID(ctx context.Context, id string) (*domain.Upload, error)
	ListConversions(ctx context.Context, uploadID string) ([]domain.Conversion, error)
}

// StageHandler runs one pipeline stage for one event. Failures are reported
// through the result and notifications, never as a panic.
type StageHandler interface {
	Handle(ctx context.Context, event domain.StageEvent) domain.StageResult
}
