package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/core/ports"
)

type UploadQueryUseCase struct {
	uploads     ports.UploadRepository
	conversions ports.ConversionRepository
}

func NewUploadQueryUseCase(uploads ports.UploadRepository, conversions ports.ConversionRepository) *UploadQueryUseCase {
	return &UploadQueryUseCase{uploads: uploads, conversions: conversions}
}

func (uc *UploadQueryUseCase) GetByID(ctx context.Context, id string) (*domain.Upload, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get upload", errors.New("empty upload id"))
	}
	upload, err := uc.uploads.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch upload by id: %w", err)
	}
	return upload, nil
}

// ListConversions returns the volumes produced for an existing upload.
func (uc *UploadQueryUseCase) ListConversions(ctx context.Context, uploadID string) ([]domain.Conversion, error) {
	if _, err := uc.GetByID(ctx, uploadID); err != nil {
		return nil, err
	}
	conversions, err := uc.conversions.ListByUpload(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	if conversions == nil {
		conversions = []domain.Conversion{}
	}
	return conversions, nil
}
