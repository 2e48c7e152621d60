// Package dicomtest writes small DICOM files for tests.
package dicomtest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const explicitVRLittleEndian = "1.2.840.10008.1.2.1"

// Image describes one single-frame monochrome file. Zero Rows or Cols writes
// a header-only file without PixelData.
type Image struct {
	PatientID   string
	PatientName string
	PatientSex  string
	BirthDate   string
	StudyUID    string
	SeriesUID   string
	SOPUID      string
	Modality    string
	SeriesDesc  string
	Rows        int
	Cols        int
	Signed      bool
	BitsStored  int

	// Fill returns the stored sample at (row, col).
	Fill func(row, col int) uint16
}

// Write encodes img into dir/name and returns the full path.
func Write(t testing.TB, dir, name string, img Image) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir fixture dir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	defer f.Close()

	if err := dicom.Write(f, dicom.Dataset{Elements: elements(t, img)}); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}

func elements(t testing.TB, img Image) []*dicom.Element {
	t.Helper()

	out := []*dicom.Element{
		mustElement(t, tag.TransferSyntaxUID, []string{explicitVRLittleEndian}),
		mustElement(t, tag.MediaStorageSOPClassUID, []string{"1.2.840.10008.5.1.4.1.1.2"}),
		mustElement(t, tag.MediaStorageSOPInstanceUID, []string{orDefault(img.SOPUID, "1.2.3.4.5")}),
	}
	strs := []struct {
		t     tag.Tag
		value string
	}{
		{tag.PatientID, img.PatientID},
		{tag.PatientName, img.PatientName},
		{tag.PatientSex, img.PatientSex},
		{tag.PatientBirthDate, img.BirthDate},
		{tag.StudyInstanceUID, img.StudyUID},
		{tag.SeriesInstanceUID, img.SeriesUID},
		{tag.SOPInstanceUID, img.SOPUID},
		{tag.Modality, img.Modality},
		{tag.SeriesDescription, img.SeriesDesc},
	}
	for _, s := range strs {
		if s.value == "" {
			continue
		}
		out = append(out, mustElement(t, s.t, []string{s.value}))
	}

	if img.Rows == 0 || img.Cols == 0 {
		return out
	}

	bitsStored := img.BitsStored
	if bitsStored == 0 {
		bitsStored = 16
	}
	repr := 0
	if img.Signed {
		repr = 1
	}
	out = append(out,
		mustElement(t, tag.Rows, []int{img.Rows}),
		mustElement(t, tag.Columns, []int{img.Cols}),
		mustElement(t, tag.BitsAllocated, []int{16}),
		mustElement(t, tag.BitsStored, []int{bitsStored}),
		mustElement(t, tag.HighBit, []int{bitsStored - 1}),
		mustElement(t, tag.PixelRepresentation, []int{repr}),
		mustElement(t, tag.SamplesPerPixel, []int{1}),
		mustElement(t, tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
	)

	pixels := img.Rows * img.Cols
	native := frame.NewNativeFrame[uint16](16, img.Rows, img.Cols, pixels, 1)
	for r := 0; r < img.Rows; r++ {
		for c := 0; c < img.Cols; c++ {
			if img.Fill != nil {
				native.RawData[r*img.Cols+c] = img.Fill(r, c)
			}
		}
	}
	info := dicom.PixelDataInfo{
		Frames: []*frame.Frame{{Encapsulated: false, NativeData: native}},
	}
	return append(out, mustElement(t, tag.PixelData, info))
}

func mustElement(t testing.TB, tg tag.Tag, value any) *dicom.Element {
	t.Helper()
	elem, err := dicom.NewElement(tg, value)
	if err != nil {
		t.Fatalf("new element %v: %v", tg, err)
	}
	return elem
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
