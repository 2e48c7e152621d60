package volume

import (
	"fmt"
	"strings"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

type Mode string

const (
	// ModeBatch stacks every file of an upload into one volume.
	ModeBatch Mode = "batch"
	// ModeSeries writes one volume per SeriesInstanceUID.
	ModeSeries Mode = "series"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeBatch:
		return ModeBatch, nil
	case ModeSeries:
		return ModeSeries, nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "parse volume mode", fmt.Errorf("unknown mode %q", raw))
	}
}

// UnitSet routes images into units as they are parsed, so pixel samples are
// normalized and released one file at a time. In series mode units keep the
// order in which their series was first seen.
type UnitSet struct {
	mode      Mode
	shape     domain.Shape
	batchName string

	units      []*Unit
	index      map[string]int
	unassigned []string
}

func NewUnitSet(mode Mode, shape domain.Shape, batchName string) *UnitSet {
	return &UnitSet{
		mode:      mode,
		shape:     shape,
		batchName: batchName,
		index:     make(map[string]int),
	}
}

func (s *UnitSet) Add(img *domain.ParsedImage) {
	if img == nil {
		return
	}
	unit := s.unitFor(img.SeriesID)
	if unit == nil {
		s.unassigned = append(s.unassigned, fmt.Sprintf("%s: no series instance uid", displayName(img.Path)))
		return
	}
	unit.AddImage(img)
}

// AddFailure records a parse failure. In series mode the file cannot be
// attributed to a series and is reported as unassigned.
func (s *UnitSet) AddFailure(path string, err error) {
	if s.mode == ModeSeries {
		s.unassigned = append(s.unassigned, fmt.Sprintf("%s: %v", displayName(path), err))
		return
	}
	s.unitFor("").AddFailure(path, err)
}

func (s *UnitSet) Units() []*Unit {
	out := make([]*Unit, len(s.units))
	copy(out, s.units)
	return out
}

// Unassigned lists files that no unit could take.
func (s *UnitSet) Unassigned() []string {
	out := make([]string, len(s.unassigned))
	copy(out, s.unassigned)
	return out
}

func (s *UnitSet) unitFor(seriesID string) *Unit {
	key := s.batchName
	if s.mode == ModeSeries {
		if seriesID == "" {
			return nil
		}
		key = seriesID
	}
	if pos, ok := s.index[key]; ok {
		return s.units[pos]
	}
	unit := NewUnit(key, s.shape)
	s.index[key] = len(s.units)
	s.units = append(s.units, unit)
	return unit
}
