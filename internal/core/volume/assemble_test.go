package volume

import (
	"strings"
	"testing"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

func filledFrame(rows, cols int, fill int16) domain.Frame {
	data := make([]int16, rows*cols)
	for i := range data {
		data[i] = fill
	}
	return domain.Frame{Rows: rows, Cols: cols, Data: data}
}

func TestAssemblerConcatenatesInInputOrder(t *testing.T) {
	asm := NewAssembler(DefaultShape)
	for i := int16(1); i <= 3; i++ {
		if !asm.Add("f"+string(rune('0'+i)), filledFrame(512, 512, i)) {
			t.Fatalf("frame %d rejected", i)
		}
	}

	vol, err := asm.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := vol.Shape(); got != [3]int{3, 512, 512} {
		t.Fatalf("expected shape (3,512,512), got %v", got)
	}
	for i, f := range vol.Frames {
		if f.Data[0] != int16(i+1) {
			t.Fatalf("frame %d out of order: first sample %d", i, f.Data[0])
		}
	}
}

func TestAssemblerExcludesMismatchedShape(t *testing.T) {
	asm := NewAssembler(DefaultShape)
	asm.Add("a.dcm", filledFrame(512, 512, 1))
	if asm.Add("small.dcm", filledFrame(256, 256, 2)) {
		t.Fatalf("expected 256x256 frame to be rejected")
	}
	asm.Add("b.dcm", filledFrame(512, 512, 3))

	vol, err := asm.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if vol.Depth() != 2 {
		t.Fatalf("expected depth 2, got %d", vol.Depth())
	}
	warnings := asm.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", warnings)
	}
	if !strings.Contains(warnings[0], "small.dcm") || !strings.Contains(warnings[0], "(256, 256)") {
		t.Fatalf("warning should name file and shape, got %q", warnings[0])
	}
}

func TestAssemblerWithoutFramesReportsNoValidFrames(t *testing.T) {
	asm := NewAssembler(DefaultShape)
	asm.Add("small.dcm", filledFrame(2, 2, 1))

	_, err := asm.Build()
	if !domain.IsKind(err, domain.ErrNoValidFrames) {
		t.Fatalf("expected ErrNoValidFrames, got %v", err)
	}
}

func TestAssemblerDetectsInconsistentFrameData(t *testing.T) {
	asm := NewAssembler(domain.Shape{Rows: 2, Cols: 2})
	asm.Add("broken.dcm", domain.Frame{Rows: 2, Cols: 2, Data: []int16{1, 2, 3}})

	_, err := asm.Build()
	if !domain.IsKind(err, domain.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}
