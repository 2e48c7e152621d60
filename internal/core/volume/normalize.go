package volume

import (
	"fmt"
	"math"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

const (
	int16Max = math.MaxInt16
	int16Min = math.MinInt16
)

// Normalize converts one frame of stored samples into int16 without
// wraparound. Magnitudes above 32767 are rescaled proportionally, then the
// result is clipped to the range of the source representation.
func Normalize(grid *domain.PixelGrid, repr domain.PixelRepresentation, bitsStored int) (frame domain.Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("normalize pixels: %v", r)
		}
	}()

	if grid == nil || len(grid.Samples) == 0 {
		return domain.Frame{}, domain.ErrNoPixelData
	}
	if grid.Rows <= 0 || grid.Cols <= 0 || len(grid.Samples) != grid.Rows*grid.Cols {
		return domain.Frame{}, domain.WrapError(
			domain.ErrShapeMismatch,
			"normalize pixels",
			fmt.Errorf("%d samples for shape %s", len(grid.Samples), grid.Shape()),
		)
	}

	wide := make([]float64, len(grid.Samples))
	maxAbs := 0.0
	fits := true
	for i, s := range grid.Samples {
		v := float64(storedValue(s, repr, bitsStored))
		wide[i] = v
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
		if v > int16Max || v < int16Min {
			fits = false
		}
	}

	// -32768 alone is representable and does not trigger a rescale.
	if !fits {
		scale := int16Max / maxAbs
		for i := range wide {
			wide[i] *= scale
		}
	}

	lo := 0.0
	if repr == domain.PixelSigned {
		lo = int16Min
	}

	out := make([]int16, len(wide))
	for i, v := range wide {
		v = math.Round(v)
		if v < lo {
			v = lo
		}
		if v > int16Max {
			v = int16Max
		}
		out[i] = int16(v)
	}

	return domain.Frame{Rows: grid.Rows, Cols: grid.Cols, Data: out}, nil
}

// storedValue sign-extends signed samples that arrive as raw bitsStored-wide
// words. Magnitudes are never truncated; unsigned samples pass unchanged.
func storedValue(sample int64, repr domain.PixelRepresentation, bitsStored int) int64 {
	if repr != domain.PixelSigned || bitsStored <= 0 || bitsStored >= 63 {
		return sample
	}
	width := int64(1) << bitsStored
	if sample >= width/2 && sample < width {
		return sample - width
	}
	return sample
}
