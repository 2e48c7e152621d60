// Package dicomparser reads DICOM Part 10 files into domain.ParsedImage values.
package dicomparser

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

type Parser struct {
	skipPixels bool
}

func NewParser() *Parser {
	return &Parser{}
}

// SkipPixels returns a header-only parser for passes that never touch frames.
func (p *Parser) SkipPixels() *Parser {
	return &Parser{skipPixels: true}
}

func (p *Parser) Parse(ctx context.Context, path string) (*domain.ParsedImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dicom file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat dicom file: %w", err)
	}
	if info.IsDir() {
		return nil, domain.WrapError(domain.ErrNotDICOM, "parse dicom", fmt.Errorf("%s is a directory", path))
	}
	return p.ParseReader(f, info.Size(), path)
}

// ParseReader parses size bytes from r. Any decoding failure is reported as
// domain.ErrNotDICOM so callers can skip the file.
func (p *Parser) ParseReader(r io.Reader, size int64, name string) (img *domain.ParsedImage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			img = nil
			err = domain.WrapError(domain.ErrNotDICOM, "parse dicom", fmt.Errorf("%s: %v", name, rec))
		}
	}()

	var opts []dicom.ParseOption
	if p.skipPixels {
		opts = append(opts, dicom.SkipPixelData())
	}
	ds, err := dicom.Parse(r, size, nil, opts...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrNotDICOM, "parse dicom", fmt.Errorf("%s: %w", name, err))
	}
	return p.fromDataset(ds, name), nil
}

func (p *Parser) fromDataset(ds dicom.Dataset, name string) *domain.ParsedImage {
	img := &domain.ParsedImage{
		Path:       name,
		Attributes: make(map[string]domain.Value, len(ds.Elements)),
	}

	var pixelElem *dicom.Element
	for _, elem := range ds.Elements {
		if elem == nil || elem.Value == nil {
			continue
		}
		if elem.Tag == tag.PixelData {
			pixelElem = elem
			continue
		}
		keyword, ok := keywordOf(elem.Tag)
		if !ok {
			continue
		}
		if keyword == directoryRecordSequence {
			img.Attributes[keyword] = summarizeDirectoryRecords(elem)
			continue
		}
		img.Attributes[keyword] = cleanElement(elem)
	}

	img.PatientID = identifier(img, "PatientID")
	img.StudyID = identifier(img, "StudyInstanceUID")
	img.SeriesID = identifier(img, "SeriesInstanceUID")
	img.SOPInstanceUID = identifier(img, "SOPInstanceUID")
	img.Modality = img.AttrText("Modality")

	if repr, ok := intAttr(img, "PixelRepresentation"); ok && repr == 1 {
		img.PixelRepresentation = domain.PixelSigned
	}
	if bits, ok := intAttr(img, "BitsStored"); ok {
		img.BitsStored = int(bits)
	}

	if pixelElem != nil && !p.skipPixels {
		img.Pixels, img.PixelErr = pixelGrid(pixelElem)
	}
	return img
}

// pixelGrid returns the single native frame of the element. Compressed and
// multi-frame payloads are reported instead of partially decoded.
func pixelGrid(elem *dicom.Element) (*domain.PixelGrid, error) {
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || info.IntentionallySkipped {
		return nil, domain.ErrNoPixelData
	}
	if info.IsEncapsulated {
		return nil, domain.WrapError(domain.ErrNoPixelData, "read pixels", fmt.Errorf("encapsulated transfer syntax is not supported"))
	}
	if len(info.Frames) == 0 {
		return nil, domain.ErrNoPixelData
	}
	if len(info.Frames) > 1 {
		return nil, domain.WrapError(domain.ErrShapeMismatch, "read pixels", fmt.Errorf("%d frames in one file", len(info.Frames)))
	}

	fr := info.Frames[0]
	if fr == nil || fr.Encapsulated || fr.NativeData == nil {
		return nil, domain.ErrNoPixelData
	}
	return nativeGrid(fr.NativeData)
}

func nativeGrid(native frame.INativeFrame) (*domain.PixelGrid, error) {
	rows, cols := native.Rows(), native.Cols()
	samplesPerPixel := native.SamplesPerPixel()
	if samplesPerPixel < 1 {
		samplesPerPixel = 1
	}

	raw, err := widenSamples(native.RawDataSlice())
	if err != nil {
		return nil, domain.WrapError(domain.ErrNoPixelData, "read pixels", err)
	}
	if len(raw) != rows*cols*samplesPerPixel {
		return nil, domain.WrapError(
			domain.ErrShapeMismatch,
			"read pixels",
			fmt.Errorf("%d samples for %dx%d with %d samples per pixel", len(raw), rows, cols, samplesPerPixel),
		)
	}

	samples := raw
	if samplesPerPixel > 1 {
		samples = make([]int64, rows*cols)
		for i := range samples {
			samples[i] = raw[i*samplesPerPixel]
		}
	}
	return &domain.PixelGrid{Rows: rows, Cols: cols, Samples: samples}, nil
}

func widenSamples(data any) ([]int64, error) {
	switch v := data.(type) {
	case []uint8:
		return widen(v), nil
	case []uint16:
		return widen(v), nil
	case []uint32:
		return widen(v), nil
	case []int8:
		return widen(v), nil
	case []int16:
		return widen(v), nil
	case []int32:
		return widen(v), nil
	case []int:
		return widen(v), nil
	default:
		return nil, fmt.Errorf("unsupported sample type %T", data)
	}
}

func widen[T uint8 | uint16 | uint32 | int8 | int16 | int32 | int](in []T) []int64 {
	out := make([]int64, len(in))
	for i, s := range in {
		out[i] = int64(s)
	}
	return out
}

func keywordOf(t tag.Tag) (string, bool) {
	info, err := tag.Find(t)
	if err != nil || info.Keyword == "" {
		return "", false
	}
	return info.Keyword, true
}

func identifier(img *domain.ParsedImage, keyword string) string {
	id, _ := domain.NormalizeIdentifier(img.AttrText(keyword))
	return id
}

func intAttr(img *domain.ParsedImage, keyword string) (int64, bool) {
	v, ok := img.Attr(keyword)
	if !ok {
		return 0, false
	}
	return v.AsInt()
}

func trimPadding(s string) string {
	return strings.TrimRight(s, " \x00")
}
