package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS uploads (
	id TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_user ON uploads(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS status_history (
	status_id TEXT PRIMARY KEY,
	upload_id TEXT NOT NULL REFERENCES uploads(id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_status_history_upload ON status_history(upload_id, created_at);

CREATE TABLE IF NOT EXISTS series (
	series_upload_id TEXT PRIMARY KEY,
	series_id TEXT NOT NULL,
	study_id TEXT NOT NULL,
	dicom_series_id TEXT NOT NULL,
	modality TEXT NOT NULL DEFAULT '',
	modalities TEXT NOT NULL DEFAULT 'None',
	series_description TEXT NOT NULL DEFAULT '',
	series_number INTEGER,
	slice_thickness DOUBLE PRECISION,
	number_of_slices INTEGER,
	image_orientation TEXT NOT NULL DEFAULT '',
	pixel_spacing TEXT NOT NULL DEFAULT '',
	manufacturer TEXT NOT NULL DEFAULT '',
	manufacturer_model_name TEXT NOT NULL DEFAULT '',
	patient_name TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL,
	upload_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_series_upload ON series(upload_id);

CREATE TABLE IF NOT EXISTS patients (
	patient_id TEXT NOT NULL,
	dicom_patient_id TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	birth_date TEXT,
	sex TEXT NOT NULL DEFAULT 'A',
	series_upload_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (patient_id, series_upload_id)
);

CREATE TABLE IF NOT EXISTS file_conversions (
	conversion_id TEXT PRIMARY KEY,
	upload_id TEXT NOT NULL REFERENCES uploads(id) ON DELETE CASCADE,
	unit TEXT NOT NULL,
	raw_file_path TEXT NOT NULL,
	settings_file_path TEXT NOT NULL,
	preview_path TEXT NOT NULL DEFAULT '',
	pre_signed_raw TEXT,
	pre_signed_json TEXT,
	image_url TEXT,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_conversions_upload ON file_conversions(upload_id, created_at);

CREATE TABLE IF NOT EXISTS dicom_images (
	image_id BIGSERIAL PRIMARY KEY,
	conversion_id TEXT NOT NULL REFERENCES file_conversions(conversion_id) ON DELETE CASCADE,
	sop_instance_uid TEXT NOT NULL,
	file_path TEXT NOT NULL,
	instance_number TEXT NOT NULL DEFAULT '',
	slice_location TEXT NOT NULL DEFAULT '',
	image_position_patient TEXT NOT NULL DEFAULT '',
	image_orientation_patient TEXT NOT NULL DEFAULT '',
	pixel_spacing TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS dicom_metadata (
	image_id BIGINT NOT NULL REFERENCES dicom_images(image_id) ON DELETE CASCADE,
	attribute_key TEXT NOT NULL,
	attribute_value TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dicom_metadata_image ON dicom_metadata(image_id);
`

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// expectRow maps an UPDATE that touched nothing to notFound.
func expectRow(res sql.Result, notFound error, op, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w: id=%s", op, notFound, id)
	}
	return nil
}
