package volume

import (
	"fmt"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

// DefaultShape is the only acquisition resolution accepted into a volume.
var DefaultShape = domain.Shape{Rows: 512, Cols: 512}

// Assembler stacks frames of one required shape in the order they are added.
type Assembler struct {
	shape    domain.Shape
	frames   []domain.Frame
	files    []string
	warnings []string
}

func NewAssembler(shape domain.Shape) *Assembler {
	if shape.Rows <= 0 || shape.Cols <= 0 {
		shape = DefaultShape
	}
	return &Assembler{shape: shape}
}

func (a *Assembler) RequiredShape() domain.Shape {
	return a.shape
}

// Add accepts the frame when its shape equals the required shape. Rejected
// frames are recorded as warnings naming the file.
func (a *Assembler) Add(name string, frame domain.Frame) bool {
	if frame.Shape() != a.shape {
		a.Warn(fmt.Sprintf("%s: invalid pixel shape %s, expected %s", name, frame.Shape(), a.shape))
		return false
	}
	a.frames = append(a.frames, frame)
	a.files = append(a.files, name)
	return true
}

func (a *Assembler) Warn(message string) {
	a.warnings = append(a.warnings, message)
}

func (a *Assembler) Accepted() int {
	return len(a.frames)
}

func (a *Assembler) Warnings() []string {
	out := make([]string, len(a.warnings))
	copy(out, a.warnings)
	return out
}

// Build concatenates the accepted frames along a new leading axis.
func (a *Assembler) Build() (*domain.Volume, error) {
	if len(a.frames) == 0 {
		return nil, domain.WrapError(domain.ErrNoValidFrames, "assemble volume", fmt.Errorf("no frames of shape %s", a.shape))
	}

	want := a.shape.Rows * a.shape.Cols
	frames := make([]domain.Frame, 0, len(a.frames))
	for i, f := range a.frames {
		if len(f.Data) != want {
			return nil, domain.WrapError(
				domain.ErrShapeMismatch,
				"assemble volume",
				fmt.Errorf("frame %d (%s) holds %d samples, expected %d", i, a.files[i], len(f.Data), want),
			)
		}
		frames = append(frames, f)
	}

	files := make([]string, len(a.files))
	copy(files, a.files)
	return &domain.Volume{
		Rows:   a.shape.Rows,
		Cols:   a.shape.Cols,
		Frames: frames,
		Files:  files,
	}, nil
}
