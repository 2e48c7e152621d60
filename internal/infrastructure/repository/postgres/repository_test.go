package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return db, mock, func() { _ = db.Close() }
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock($1)")).WithArgs(int64(2026101901)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS uploads").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestGetUploadReturnsDomainNotFound(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewUploadRepository(db)

	mock.ExpectQuery("SELECT id, company_id, user_id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrUploadNotFound) {
		t.Fatalf("expected ErrUploadNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestGetUploadScansRow(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewUploadRepository(db)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "company_id", "user_id", "filename", "storage_path", "status", "error_message", "created_at", "updated_at"}).
		AddRow("u1", "acme", "user-1", "scan.zip", "acme/user-1/uploads/u1/u1.zip", "extracted", "", now, now)
	mock.ExpectQuery("SELECT id, company_id, user_id").WithArgs("u1").WillReturnRows(rows)

	upload, err := repo.GetByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if upload.Status != domain.StatusExtracted || upload.Filename != "scan.zip" {
		t.Fatalf("unexpected upload %+v", upload)
	}
	expectationsMet(t, mock)
}

func TestUpdateUploadStatusNotFoundWhenNoRowsAffected(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewUploadRepository(db)

	mock.ExpectExec("UPDATE uploads").
		WithArgs("missing", string(domain.StatusFailed), "boom", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "missing", domain.StatusFailed, "boom")
	if !domain.IsKind(err, domain.ErrUploadNotFound) {
		t.Fatalf("expected ErrUploadNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestSaveSeriesFormatsModalitiesInOneTx(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewHierarchyRepository(db)
	number := 3

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO series")
	prep.ExpectExec().
		WithArgs("se1_up", "se1", "st1", "se1", "CT", "CT, PT", "Chest", &number, nil, nil, "", "", "", "", "DOE^JANE", "user-1", "up", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs("se2_up", "se2", "st1", "se2", "", "None", "", nil, nil, nil, "", "", "", "", "", "user-1", "up", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.SaveSeries(context.Background(), []domain.SeriesRecord{
		{SeriesUploadID: "se1_up", SeriesID: "se1", StudyID: "st1", DicomSeriesID: "se1", Modality: "CT", Modalities: []string{"CT", "PT"},
			SeriesDescription: "Chest", SeriesNumber: &number, PatientName: "DOE^JANE", UserID: "user-1", UploadID: "up"},
		{SeriesUploadID: "se2_up", SeriesID: "se2", StudyID: "st1", DicomSeriesID: "se2", UserID: "user-1", UploadID: "up"},
	})
	if err != nil {
		t.Fatalf("SaveSeries() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestSavePatientsRollsBackOnFailure(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewHierarchyRepository(db)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO patients")
	prep.ExpectExec().WillReturnError(errors.New("constraint violated"))
	mock.ExpectRollback()

	err := repo.SavePatients(context.Background(), []domain.PatientRecord{{PatientID: "p1", DicomPatientID: "P1", Sex: domain.SexUnknown, SeriesUploadID: "se1_up"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	expectationsMet(t, mock)
}

func TestSaveHierarchySkipsEmptyBatches(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewHierarchyRepository(db)

	if err := repo.SaveSeries(context.Background(), nil); err != nil {
		t.Fatalf("SaveSeries() error = %v", err)
	}
	if err := repo.SavePatients(context.Background(), nil); err != nil {
		t.Fatalf("SavePatients() error = %v", err)
	}
	expectationsMet(t, mock)
}

func TestGetConversionNullablePresigns(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewConversionRepository(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"conversion_id", "upload_id", "unit", "raw_file_path", "settings_file_path", "preview_path",
		"pre_signed_raw", "pre_signed_json", "image_url", "status", "error_message", "created_at", "updated_at",
	}).AddRow("c1", "up", "up", "k.raw", "k.json", "", "https://raw", nil, nil, "pending", "", now, now)
	mock.ExpectQuery("SELECT conversion_id").WithArgs("c1").WillReturnRows(rows)

	c, err := repo.GetConversion(context.Background(), "c1")
	if err != nil {
		t.Fatalf("GetConversion() error = %v", err)
	}
	if c.PresignedRaw == nil || *c.PresignedRaw != "https://raw" || c.PresignedJSON != nil || c.IllustrationURL != nil {
		t.Fatalf("unexpected presigns %+v", c)
	}
	expectationsMet(t, mock)
}

func TestGetConversionNotFound(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewConversionRepository(db)

	mock.ExpectQuery("SELECT conversion_id").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetConversion(context.Background(), "nope")
	if !domain.IsKind(err, domain.ErrConversionNotFound) {
		t.Fatalf("expected ErrConversionNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestCompleteConversionNotFound(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewConversionRepository(db)

	mock.ExpectExec("UPDATE file_conversions").
		WithArgs("nope", "completed", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.CompleteConversion(context.Background(), "nope", nil)
	if !domain.IsKind(err, domain.ErrConversionNotFound) {
		t.Fatalf("expected ErrConversionNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestInsertImageReturnsID(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewMetadataRepository(db)

	mock.ExpectQuery("INSERT INTO dicom_images").
		WithArgs("c1", "1.2.3", "k.raw", "7", "", "", "", "").
		WillReturnRows(sqlmock.NewRows([]string{"image_id"}).AddRow(int64(42)))

	id, err := repo.InsertImage(context.Background(), domain.ImageRecord{ConversionID: "c1", SOPInstanceUID: "1.2.3", FilePath: "k.raw", InstanceNumber: "7"})
	if err != nil {
		t.Fatalf("InsertImage() error = %v", err)
	}
	if id != "42" {
		t.Fatalf("expected id 42, got %s", id)
	}
	expectationsMet(t, mock)
}

func TestInsertMetadataBuildsMultiRowInsert(t *testing.T) {
	db, mock, done := newMock(t)
	defer done()
	repo := NewMetadataRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dicom_metadata (image_id, attribute_key, attribute_value) VALUES ($1,$2,$3),($4,$5,$6)")).
		WithArgs("42", "Modality", "CT", "42", "Rows", "512").
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.InsertMetadata(context.Background(), "42", []domain.MetadataEntry{{Key: "Modality", Value: "CT"}, {Key: "Rows", Value: "512"}})
	if err != nil {
		t.Fatalf("InsertMetadata() error = %v", err)
	}
	expectationsMet(t, mock)
}
