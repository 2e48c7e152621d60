// Package hierarchy groups parsed images into series and patient records for
// one upload.
package hierarchy

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

const (
	anonymousFirstName = "Anonymous"
	anonymousLastName  = "Patient"
	nameSeparator      = "^"
)

// Aggregator owns the dedup state of one aggregation pass. It is not safe for
// concurrent use; call Reset before reusing it for another upload.
type Aggregator struct {
	userID   string
	uploadID string

	now   func() time.Time
	newID func() string

	series       []domain.SeriesRecord
	seriesIndex  map[string]int
	patients     []domain.PatientRecord
	seenPatients map[string]struct{}
	anonymousTag string
	tree         *treeIndex
}

func NewAggregator(userID, uploadID string) *Aggregator {
	a := &Aggregator{
		now:   time.Now,
		newID: uuid.NewString,
	}
	a.Reset(userID, uploadID)
	return a
}

func (a *Aggregator) Reset(userID, uploadID string) {
	a.userID = userID
	a.uploadID = uploadID
	a.series = nil
	a.seriesIndex = make(map[string]int)
	a.patients = nil
	a.seenPatients = make(map[string]struct{})
	a.anonymousTag = ""
	a.tree = newTreeIndex()
}

// Add folds one parsed image into the pass. Images without a study or series
// identifier contribute nothing.
func (a *Aggregator) Add(img *domain.ParsedImage) {
	if img == nil {
		return
	}
	studyID, ok := domain.NormalizeIdentifier(img.StudyID)
	if !ok {
		return
	}
	seriesID, ok := domain.NormalizeIdentifier(img.SeriesID)
	if !ok {
		return
	}
	seriesUploadID := domain.SeriesUploadID(seriesID, a.uploadID)

	if pos, seen := a.seriesIndex[seriesID]; seen {
		a.series[pos].Modalities = appendUnique(a.series[pos].Modalities, img.Modality)
	} else {
		a.seriesIndex[seriesID] = len(a.series)
		a.series = append(a.series, a.seriesRecord(img, seriesID, studyID, seriesUploadID))
	}

	patientID := a.addPatient(img, seriesUploadID)
	a.tree.add(patientID, studyID, seriesID, img.Modality)
}

// Aggregate adds every image and returns the records in encounter order.
func (a *Aggregator) Aggregate(images []*domain.ParsedImage) ([]domain.SeriesRecord, []domain.PatientRecord) {
	for _, img := range images {
		a.Add(img)
	}
	return a.Series(), a.Patients()
}

func (a *Aggregator) Series() []domain.SeriesRecord {
	out := make([]domain.SeriesRecord, len(a.series))
	copy(out, a.series)
	return out
}

func (a *Aggregator) Patients() []domain.PatientRecord {
	out := make([]domain.PatientRecord, len(a.patients))
	copy(out, a.patients)
	return out
}

// Tree returns the patient -> study -> series -> modalities view of the pass.
func (a *Aggregator) Tree() []PatientNode {
	return a.tree.snapshot()
}

func (a *Aggregator) seriesRecord(img *domain.ParsedImage, seriesID, studyID, seriesUploadID string) domain.SeriesRecord {
	numberOfSlices := optionalInt(img, "NumberOfSlices")
	if numberOfSlices == nil {
		numberOfSlices = optionalInt(img, "NumberOfFrames")
	}
	return domain.SeriesRecord{
		SeriesUploadID:        seriesUploadID,
		SeriesID:              seriesID,
		StudyID:               studyID,
		DicomSeriesID:         seriesID,
		Modality:              img.Modality,
		Modalities:            appendUnique(nil, img.Modality),
		SeriesDescription:     img.AttrText("SeriesDescription"),
		SeriesNumber:          optionalInt(img, "SeriesNumber"),
		SliceThickness:        optionalFloat(img, "SliceThickness"),
		NumberOfSlices:        numberOfSlices,
		ImageOrientation:      img.AttrText("ImageOrientationPatient"),
		PixelSpacing:          img.AttrText("PixelSpacing"),
		Manufacturer:          img.AttrText("Manufacturer"),
		ManufacturerModelName: img.AttrText("ManufacturerModelName"),
		PatientName:           img.AttrText("PatientName"),
		UserID:                a.userID,
		UploadID:              a.uploadID,
		CreatedAt:             a.now().UTC(),
	}
}

func (a *Aggregator) addPatient(img *domain.ParsedImage, seriesUploadID string) string {
	dicomPatientID, ok := domain.NormalizeIdentifier(img.PatientID)
	if !ok {
		dicomPatientID = a.anonymousPatientTag()
	}
	if _, seen := a.seenPatients[dicomPatientID]; seen {
		return dicomPatientID
	}
	a.seenPatients[dicomPatientID] = struct{}{}

	firstName, lastName := splitName(img.AttrText("PatientName"))
	var birthDate *string
	if bd := img.AttrText("PatientBirthDate"); bd != "" {
		birthDate = &bd
	}

	a.patients = append(a.patients, domain.PatientRecord{
		PatientID:      a.newID(),
		DicomPatientID: dicomPatientID,
		FirstName:      firstName,
		LastName:       lastName,
		BirthDate:      birthDate,
		Sex:            domain.ParseSex(strings.ToUpper(img.AttrText("PatientSex"))),
		SeriesUploadID: seriesUploadID,
		CreatedAt:      a.now().UTC(),
	})
	return dicomPatientID
}

// anonymousPatientTag is shared by every image without a patient id in this pass.
func (a *Aggregator) anonymousPatientTag() string {
	if a.anonymousTag == "" {
		id := strings.ReplaceAll(a.newID(), "-", "")
		if len(id) > 8 {
			id = id[:8]
		}
		a.anonymousTag = "ANON-" + strings.ToUpper(id)
	}
	return a.anonymousTag
}

// splitName reads a DICOM person name (family^given^middle^prefix^suffix).
// Missing components fall back to anonymous placeholders.
func splitName(raw string) (first, last string) {
	parts := strings.Split(raw, nameSeparator)
	last = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		first = strings.TrimSpace(parts[1])
	}
	if first == "" {
		first = anonymousFirstName
	}
	if last == "" {
		last = anonymousLastName
	}
	return first, last
}

func optionalInt(img *domain.ParsedImage, keyword string) *int {
	v, ok := img.Attr(keyword)
	if !ok {
		return nil
	}
	n, ok := v.AsInt()
	if !ok || n == 0 {
		return nil
	}
	out := int(n)
	return &out
}

func optionalFloat(img *domain.ParsedImage, keyword string) *float64 {
	v, ok := img.Attr(keyword)
	if !ok {
		return nil
	}
	f, ok := v.AsFloat()
	if !ok || f == 0 {
		return nil
	}
	return &f
}

func appendUnique(list []string, value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return list
	}
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

// FormatModalities renders a modality set the way the hierarchy table stores it.
func FormatModalities(modalities []string) string {
	if len(modalities) == 0 {
		return "None"
	}
	return strings.Join(modalities, ", ")
}
