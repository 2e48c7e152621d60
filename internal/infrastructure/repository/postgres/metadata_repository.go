package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

type MetadataRepository struct {
	db *sql.DB
}

func NewMetadataRepository(db *sql.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

func (r *MetadataRepository) InsertImage(ctx context.Context, img domain.ImageRecord) (string, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
INSERT INTO dicom_images (
	conversion_id, sop_instance_uid, file_path, instance_number, slice_location,
	image_position_patient, image_orientation_patient, pixel_spacing
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING image_id
`,
		img.ConversionID, img.SOPInstanceUID, img.FilePath, img.InstanceNumber, img.SliceLocation,
		img.ImagePositionPatient, img.ImageOrientationPatient, img.PixelSpacing,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert dicom image: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// InsertMetadata writes entries as one multi-row insert.
func (r *MetadataRepository) InsertMetadata(ctx context.Context, imageID string, entries []domain.MetadataEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("INSERT INTO dicom_metadata (image_id, attribute_key, attribute_value) VALUES ")
	args := make([]any, 0, len(entries)*3)
	for i, e := range entries {
		if i > 0 {
			b.WriteString(",")
		}
		n := i * 3
		fmt.Fprintf(&b, "($%d,$%d,$%d)", n+1, n+2, n+3)
		args = append(args, imageID, e.Key, e.Value)
	}
	if _, err := r.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert dicom metadata: %w", err)
	}
	return nil
}
