package domain

import (
	"strings"
	"time"
)

type UploadStatus string

const (
	StatusUploaded         UploadStatus = "uploaded"
	StatusExtracting       UploadStatus = "extracting"
	StatusExtracted        UploadStatus = "extracted"
	StatusConverting       UploadStatus = "converting"
	StatusRawFileGenerated UploadStatus = "raw_file_generated"
	StatusEnriching        UploadStatus = "enriching"
	StatusConverted        UploadStatus = "converted"
	StatusFailed           UploadStatus = "failed"
)

type Upload struct {
	ID          string       `json:"id"`
	CompanyID   string       `json:"company_id"`
	UserID      string       `json:"user_id"`
	Filename    string       `json:"filename"`
	StoragePath string       `json:"storage_path"`
	Status      UploadStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// StatusEvent is one row of an upload's status history.
type StatusEvent struct {
	StatusID  string       `json:"status_id"`
	UploadID  string       `json:"upload_id"`
	UserID    string       `json:"user_id"`
	Status    UploadStatus `json:"status"`
	Details   string       `json:"details,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type ConversionStatus string

const (
	ConversionPending   ConversionStatus = "pending"
	ConversionCompleted ConversionStatus = "completed"
	ConversionFailed    ConversionStatus = "failed"
)

// Conversion tracks one produced volume: the whole batch or a single series.
type Conversion struct {
	ID              string           `json:"conversion_id"`
	UploadID        string           `json:"upload_id"`
	Unit            string           `json:"unit"`
	RawPath         string           `json:"raw_file_path"`
	SettingsPath    string           `json:"settings_file_path"`
	PreviewPath     string           `json:"preview_path,omitempty"`
	PresignedRaw    *string          `json:"pre_signed_raw"`
	PresignedJSON   *string          `json:"pre_signed_json"`
	IllustrationURL *string          `json:"image_url,omitempty"`
	Status          ConversionStatus `json:"status"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// StageEvent is the payload passed between pipeline stages.
type StageEvent struct {
	CompanyID    string `json:"company_id"`
	UserID       string `json:"user_id"`
	UploadID     string `json:"upload_id"`
	StatusID     string `json:"status_id"`
	ConversionID string `json:"conversion_id,omitempty"`
}

// Validate reports the correlation identifiers missing from the event.
func (e StageEvent) Validate() error {
	var missing []string
	if strings.TrimSpace(e.CompanyID) == "" {
		missing = append(missing, "company_id")
	}
	if strings.TrimSpace(e.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(e.UploadID) == "" {
		missing = append(missing, "upload_id")
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingFieldsError{Fields: missing}
}

type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *MissingFieldsError) Unwrap() error {
	return ErrMissingCorrelation
}

type Stage string

const (
	StageUploaded  Stage = "uploaded"
	StageExtracted Stage = "extracted"
	StageConverted Stage = "converted"
)

// StageResult is what a stage invocation reports back to its trigger.
type StageResult struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

type ErrorNotice struct {
	Type        string `json:"error_type"`
	Title       string `json:"error_title"`
	Description string `json:"error_description"`
	UserID      string `json:"user_id"`
}

type SuccessNotice struct {
	CompanyID    string    `json:"company_id"`
	UserID       string    `json:"user_id"`
	StatusID     string    `json:"status_id"`
	UploadID     string    `json:"upload_id"`
	ConversionID string    `json:"conversion_id,omitempty"`
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	NoticeValidation = "VALIDATION_ERROR"
	NoticeStorage    = "STORAGE_ERROR"
	NoticeArchive    = "ARCHIVE_ERROR"
	NoticeDatabase   = "DATABASE_ERROR"
	NoticeProcessing = "PROCESSING_ERROR"
	NoticeEnrichment = "ENRICHMENT_ERROR"
)
