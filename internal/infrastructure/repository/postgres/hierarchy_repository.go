package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/core/hierarchy"
)

// HierarchyRepository stores the series and patient rows of one extraction.
// Each call is one transaction; rows already present are left untouched.
type HierarchyRepository struct {
	db *sql.DB
}

func NewHierarchyRepository(db *sql.DB) *HierarchyRepository {
	return &HierarchyRepository{db: db}
}

func (r *HierarchyRepository) SaveSeries(ctx context.Context, records []domain.SeriesRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.inTx(ctx, "series", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO series (
	series_upload_id, series_id, study_id, dicom_series_id, modality, modalities, series_description,
	series_number, slice_thickness, number_of_slices, image_orientation, pixel_spacing,
	manufacturer, manufacturer_model_name, patient_name, user_id, upload_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (series_upload_id) DO NOTHING
`)
		if err != nil {
			return fmt.Errorf("prepare series insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			_, err := stmt.ExecContext(ctx,
				rec.SeriesUploadID, rec.SeriesID, rec.StudyID, rec.DicomSeriesID, rec.Modality,
				hierarchy.FormatModalities(rec.Modalities), rec.SeriesDescription,
				rec.SeriesNumber, rec.SliceThickness, rec.NumberOfSlices, rec.ImageOrientation, rec.PixelSpacing,
				rec.Manufacturer, rec.ManufacturerModelName, rec.PatientName, rec.UserID, rec.UploadID, rec.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert series %s: %w", rec.SeriesUploadID, err)
			}
		}
		return nil
	})
}

func (r *HierarchyRepository) SavePatients(ctx context.Context, records []domain.PatientRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.inTx(ctx, "patients", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO patients (patient_id, dicom_patient_id, first_name, last_name, birth_date, sex, series_upload_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (patient_id, series_upload_id) DO NOTHING
`)
		if err != nil {
			return fmt.Errorf("prepare patient insert: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			_, err := stmt.ExecContext(ctx,
				rec.PatientID, rec.DicomPatientID, rec.FirstName, rec.LastName, rec.BirthDate,
				string(rec.Sex), rec.SeriesUploadID, rec.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("insert patient %s: %w", rec.PatientID, err)
			}
		}
		return nil
	})
}

func (r *HierarchyRepository) inTx(ctx context.Context, table string, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s tx: %w", table, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s tx: %w", table, err)
	}
	return nil
}
