package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

type ConversionRepository struct {
	db *sql.DB
}

func NewConversionRepository(db *sql.DB) *ConversionRepository {
	return &ConversionRepository{db: db}
}

const conversionColumns = `conversion_id, upload_id, unit, raw_file_path, settings_file_path, preview_path,
	pre_signed_raw, pre_signed_json, image_url, status, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversion(row rowScanner) (domain.Conversion, error) {
	var c domain.Conversion
	var status string
	var raw, settings, image sql.NullString
	err := row.Scan(
		&c.ID, &c.UploadID, &c.Unit, &c.RawPath, &c.SettingsPath, &c.PreviewPath,
		&raw, &settings, &image, &status, &c.Error, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Conversion{}, err
	}
	c.Status = domain.ConversionStatus(status)
	c.PresignedRaw = nullableString(raw)
	c.PresignedJSON = nullableString(settings)
	c.IllustrationURL = nullableString(image)
	return c, nil
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func (r *ConversionRepository) CreateConversion(ctx context.Context, c *domain.Conversion) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO file_conversions (`+conversionColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
		c.ID, c.UploadID, c.Unit, c.RawPath, c.SettingsPath, c.PreviewPath,
		c.PresignedRaw, c.PresignedJSON, c.IllustrationURL, string(c.Status), c.Error, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversion: %w", err)
	}
	return nil
}

func (r *ConversionRepository) GetConversion(ctx context.Context, id string) (*domain.Conversion, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conversionColumns+` FROM file_conversions WHERE conversion_id = $1`, id)
	c, err := scanConversion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrConversionNotFound, "get conversion", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan conversion: %w", err)
	}
	return &c, nil
}

func (r *ConversionRepository) ListByUpload(ctx context.Context, uploadID string) ([]domain.Conversion, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+conversionColumns+`
FROM file_conversions
WHERE upload_id = $1
ORDER BY created_at, conversion_id
`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("list conversions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Conversion, 0)
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversion: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversions: %w", err)
	}
	return out, nil
}

func (r *ConversionRepository) CompleteConversion(ctx context.Context, id string, illustrationURL *string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE file_conversions
SET status = $2, image_url = COALESCE($3, image_url), error_message = '', updated_at = $4
WHERE conversion_id = $1
`, id, string(domain.ConversionCompleted), illustrationURL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("complete conversion: %w", err)
	}
	return expectRow(res, domain.ErrConversionNotFound, "complete conversion", id)
}

func (r *ConversionRepository) FailConversion(ctx context.Context, id string, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE file_conversions
SET status = $2, error_message = $3, updated_at = $4
WHERE conversion_id = $1
`, id, string(domain.ConversionFailed), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("fail conversion: %w", err)
	}
	return expectRow(res, domain.ErrConversionNotFound, "fail conversion", id)
}
