package domain

import "time"

type Sex string

const (
	SexMale    Sex = "M"
	SexFemale  Sex = "F"
	SexOther   Sex = "O"
	SexUnknown Sex = "A"
)

// ParseSex coerces anything outside M/F/O/A to A.
func ParseSex(raw string) Sex {
	switch Sex(raw) {
	case SexMale, SexFemale, SexOther, SexUnknown:
		return Sex(raw)
	default:
		return SexUnknown
	}
}

type SeriesRecord struct {
	SeriesUploadID        string    `json:"series_upload_id"`
	SeriesID              string    `json:"series_id"`
	StudyID               string    `json:"study_id"`
	DicomSeriesID         string    `json:"dicom_series_id"`
	Modality              string    `json:"modality"`
	Modalities            []string  `json:"modalities"`
	SeriesDescription     string    `json:"series_description"`
	SeriesNumber          *int      `json:"series_number"`
	SliceThickness        *float64  `json:"slice_thickness"`
	NumberOfSlices        *int      `json:"number_of_slices"`
	ImageOrientation      string    `json:"image_orientation"`
	PixelSpacing          string    `json:"pixel_spacing"`
	Manufacturer          string    `json:"manufacturer"`
	ManufacturerModelName string    `json:"manufacturer_model_name"`
	PatientName           string    `json:"patient_name"`
	UserID                string    `json:"user_id"`
	UploadID              string    `json:"file_id"`
	CreatedAt             time.Time `json:"created_at"`
}

type PatientRecord struct {
	PatientID      string    `json:"patient_id"`
	DicomPatientID string    `json:"dicom_patient_id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	BirthDate      *string   `json:"birth_date"`
	Sex            Sex       `json:"sex"`
	SeriesUploadID string    `json:"series_upload_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// SeriesUploadID builds the composite key that is unique per upload.
func SeriesUploadID(seriesID, uploadID string) string {
	return seriesID + "_" + uploadID
}
