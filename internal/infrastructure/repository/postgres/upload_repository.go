package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

type UploadRepository struct {
	db *sql.DB
}

func NewUploadRepository(db *sql.DB) *UploadRepository {
	return &UploadRepository{db: db}
}

func (r *UploadRepository) Create(ctx context.Context, upload *domain.Upload) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO uploads (id, company_id, user_id, filename, storage_path, status, error_message, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		upload.ID, upload.CompanyID, upload.UserID, upload.Filename, upload.StoragePath,
		string(upload.Status), upload.Error, upload.CreatedAt, upload.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert upload: %w", err)
	}
	return nil
}

func (r *UploadRepository) GetByID(ctx context.Context, id string) (*domain.Upload, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, company_id, user_id, filename, storage_path, status, error_message, created_at, updated_at
FROM uploads
WHERE id = $1
`, id)

	var upload domain.Upload
	var status string
	err := row.Scan(
		&upload.ID, &upload.CompanyID, &upload.UserID, &upload.Filename, &upload.StoragePath,
		&status, &upload.Error, &upload.CreatedAt, &upload.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrUploadNotFound, "get upload", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan upload: %w", err)
	}
	upload.Status = domain.UploadStatus(status)
	return &upload, nil
}

func (r *UploadRepository) UpdateStatus(ctx context.Context, id string, status domain.UploadStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE uploads
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update upload status: %w", err)
	}
	return expectRow(res, domain.ErrUploadNotFound, "update upload status", id)
}

func (r *UploadRepository) InsertStatusEvent(ctx context.Context, event domain.StatusEvent) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO status_history (status_id, upload_id, user_id, status, details, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, event.StatusID, event.UploadID, event.UserID, string(event.Status), event.Details, event.CreatedAt, event.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

func (r *UploadRepository) UpdateStatusEvent(ctx context.Context, statusID string, status domain.UploadStatus, details string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE status_history
SET status = $2, details = $3, updated_at = $4
WHERE status_id = $1
`, statusID, string(status), details, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update status history: %w", err)
	}
	return expectRow(res, domain.ErrUploadNotFound, "update status history", statusID)
}
