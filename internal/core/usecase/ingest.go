package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/core/ports"
)

type IngestUploadUseCase struct {
	repo    ports.UploadRepository
	storage ports.ObjectStorage
	queue   ports.StageQueue
}

func NewIngestUploadUseCase(
	repo ports.UploadRepository,
	storage ports.ObjectStorage,
	queue ports.StageQueue,
) *IngestUploadUseCase {
	return &IngestUploadUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
	}
}

// Upload stores the archive, records the upload and triggers extraction.
func (uc *IngestUploadUseCase) Upload(
	ctx context.Context,
	companyID, userID, filename string,
	body io.Reader,
) (*domain.Upload, error) {
	companyID = strings.TrimSpace(companyID)
	userID = strings.TrimSpace(userID)
	if companyID == "" || userID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload archive", errors.New("company_id and user_id are required"))
	}
	name := sanitizeFilename(filename)
	if !strings.EqualFold(filepath.Ext(name), ".zip") {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload archive", fmt.Errorf("expected a .zip archive, got %q", filename))
	}

	id := uuid.NewString()
	keys := keysFor(companyID, userID, id)
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, keys.Archive(), body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	upload := &domain.Upload{
		ID:          id,
		CompanyID:   companyID,
		UserID:      userID,
		Filename:    name,
		StoragePath: keys.Archive(),
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.repo.Create(ctx, upload); err != nil {
		return nil, fmt.Errorf("create upload record: %w", err)
	}

	statusID := uuid.NewString()
	history := domain.StatusEvent{
		StatusID:  statusID,
		UploadID:  id,
		UserID:    userID,
		Status:    domain.StatusUploaded,
		Details:   "Upload received",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.repo.InsertStatusEvent(ctx, history); err != nil {
		return nil, fmt.Errorf("insert status history: %w", err)
	}

	event := domain.StageEvent{
		CompanyID: companyID,
		UserID:    userID,
		UploadID:  id,
		StatusID:  statusID,
	}
	if err := uc.queue.Publish(ctx, domain.StageUploaded, event); err != nil {
		return nil, fmt.Errorf("publish upload event: %w", err)
	}

	return upload, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "/" {
		return "upload.zip"
	}
	return base
}
