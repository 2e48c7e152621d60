package preview

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/draw"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

// PNGRenderer draws the middle slice of a volume as an 8-bit grayscale PNG,
// windowed to the slice's own value range and scaled to fit MaxSide.
type PNGRenderer struct {
	MaxSide int
}

func NewPNGRenderer(maxSide int) *PNGRenderer {
	if maxSide <= 0 {
		maxSide = 256
	}
	return &PNGRenderer{MaxSide: maxSide}
}

func (r *PNGRenderer) Render(w io.Writer, vol *domain.Volume) error {
	if vol.Depth() == 0 {
		return errors.New("render preview: empty volume")
	}
	frame := vol.Frames[vol.Depth()/2]
	src := grayFrame(frame)

	dst := image.Image(src)
	if width, height := fit(frame.Cols, frame.Rows, r.MaxSide); width != frame.Cols || height != frame.Rows {
		scaled := image.NewGray(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, src.Bounds(), draw.Src, nil)
		dst = scaled
	}
	if err := png.Encode(w, dst); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	return nil
}

func grayFrame(frame domain.Frame) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, frame.Cols, frame.Rows))
	if len(frame.Data) == 0 {
		return img
	}
	lo, hi := frame.Data[0], frame.Data[0]
	for _, v := range frame.Data {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := float64(hi) - float64(lo)
	for i, v := range frame.Data {
		var level uint8
		if span > 0 {
			level = uint8((float64(v) - float64(lo)) / span * 255)
		}
		img.SetGray(i%frame.Cols, i/frame.Cols, color.Gray{Y: level})
	}
	return img
}

// fit shrinks (w, h) so the longer side is at most maxSide.
func fit(w, h, maxSide int) (int, int) {
	longest := max(w, h)
	if longest <= maxSide {
		return w, h
	}
	return max(1, w*maxSide/longest), max(1, h*maxSide/longest)
}
