package volume

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

// Unit accumulates one batch or one series: frames go to the assembler and
// attributes to the consolidator, both in walk order.
type Unit struct {
	Name string

	assembler *Assembler
	meta      *Consolidator
	processed int
}

func NewUnit(name string, shape domain.Shape) *Unit {
	return &Unit{
		Name:      name,
		assembler: NewAssembler(shape),
		meta:      NewConsolidator(),
	}
}

// AddImage merges the image metadata and, when it carries pixels of the
// required shape, its normalized frame.
func (u *Unit) AddImage(img *domain.ParsedImage) {
	if img == nil {
		return
	}
	u.processed++
	u.meta.Merge(img.Attributes)

	name := displayName(img.Path)
	if !img.HasPixels() {
		reason := img.PixelErr
		if reason == nil {
			reason = domain.ErrNoPixelData
		}
		u.assembler.Warn(fmt.Sprintf("%s: %v", name, reason))
		return
	}
	frame, err := Normalize(img.Pixels, img.PixelRepresentation, img.BitsStored)
	if err != nil {
		u.assembler.Warn(fmt.Sprintf("%s: %v", name, err))
		return
	}
	u.assembler.Add(name, frame)
}

// AddFailure records a file that could not be parsed.
func (u *Unit) AddFailure(path string, err error) {
	u.assembler.Warn(fmt.Sprintf("%s: %v", displayName(path), err))
}

func (u *Unit) FilesProcessed() int {
	return u.processed
}

func (u *Unit) Warnings() []string {
	return u.assembler.Warnings()
}

type UnitResult struct {
	Name     string
	Volume   *domain.Volume
	Metadata map[string]domain.Value
	Info     domain.ProcessingInfo
}

// Result assembles the unit. ErrNoValidFrames and ErrShapeMismatch are
// terminal for this unit only.
func (u *Unit) Result(now time.Time) (*UnitResult, error) {
	vol, err := u.assembler.Build()
	if err != nil {
		return nil, fmt.Errorf("unit %s: %w", u.Name, err)
	}
	warnings := u.assembler.Warnings()
	if warnings == nil {
		warnings = []string{}
	}
	return &UnitResult{
		Name:     u.Name,
		Volume:   vol,
		Metadata: u.meta.Result(),
		Info: domain.ProcessingInfo{
			FilesProcessed: u.processed,
			Warnings:       warnings,
			ProcessedAt:    now.UTC(),
		},
	}, nil
}

// IsUnitFailure reports whether err only invalidates the current unit.
func IsUnitFailure(err error) bool {
	return errors.Is(err, domain.ErrNoValidFrames) || errors.Is(err, domain.ErrShapeMismatch)
}

func displayName(path string) string {
	if path == "" {
		return "<unnamed>"
	}
	return filepath.Base(path)
}
