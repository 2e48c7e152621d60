package domain

import (
	"fmt"
	"strings"
)

type PixelRepresentation int

const (
	PixelUnsigned PixelRepresentation = 0
	PixelSigned   PixelRepresentation = 1
)

func (p PixelRepresentation) String() string {
	if p == PixelSigned {
		return "signed"
	}
	return "unsigned"
}

// Shape is a (rows, cols) frame geometry.
type Shape struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d)", s.Rows, s.Cols)
}

// PixelGrid holds one frame of raw stored samples in row-major order.
type PixelGrid struct {
	Rows    int
	Cols    int
	Samples []int64
}

func (g *PixelGrid) Shape() Shape {
	return Shape{Rows: g.Rows, Cols: g.Cols}
}

// ParsedImage is the extraction result of one source file.
// Identifier fields are empty when the source has no usable value.
type ParsedImage struct {
	Path           string
	PatientID      string
	StudyID        string
	SeriesID       string
	SOPInstanceUID string
	Modality       string

	Attributes map[string]Value

	Pixels              *PixelGrid
	PixelRepresentation PixelRepresentation
	BitsStored          int

	// PixelErr explains why Pixels is nil for a file that declares pixel data.
	PixelErr error
}

func (p *ParsedImage) HasPixels() bool {
	return p != nil && p.Pixels != nil && len(p.Pixels.Samples) > 0
}

func (p *ParsedImage) Attr(keyword string) (Value, bool) {
	if p == nil || p.Attributes == nil {
		return Value{}, false
	}
	v, ok := p.Attributes[keyword]
	return v, ok
}

// AttrText returns the attribute as trimmed text, empty when absent.
func (p *ParsedImage) AttrText(keyword string) string {
	v, ok := p.Attr(keyword)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.Text())
}

// NormalizeIdentifier maps blank and "none" placeholders to absence.
func NormalizeIdentifier(raw string) (string, bool) {
	id := strings.TrimSpace(strings.Trim(raw, "\x00"))
	if id == "" || strings.EqualFold(id, "none") {
		return "", false
	}
	return id, true
}

// Frame is one normalized 2D grid.
type Frame struct {
	Rows int
	Cols int
	Data []int16
}

func (f Frame) Shape() Shape {
	return Shape{Rows: f.Rows, Cols: f.Cols}
}

// Volume is a stack of frames sharing one shape, in concatenation order.
type Volume struct {
	Rows   int
	Cols   int
	Frames []Frame
	Files  []string
}

func (v *Volume) Depth() int {
	if v == nil {
		return 0
	}
	return len(v.Frames)
}

// Shape returns (frames, rows, cols).
func (v *Volume) Shape() [3]int {
	return [3]int{v.Depth(), v.Rows, v.Cols}
}
