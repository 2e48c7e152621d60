package volume

import (
	"errors"
	"testing"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

func gridOf(rows, cols int, samples ...int64) *domain.PixelGrid {
	return &domain.PixelGrid{Rows: rows, Cols: cols, Samples: samples}
}

func TestNormalizeKeepsInRangeSignedValues(t *testing.T) {
	grid := gridOf(2, 3, -32768, -1, 0, 1, 1234, 32767)

	frame, err := Normalize(grid, domain.PixelSigned, 16)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := []int16{-32768, -1, 0, 1, 1234, 32767}
	for i, v := range want {
		if frame.Data[i] != v {
			t.Fatalf("sample %d: expected %d, got %d", i, v, frame.Data[i])
		}
	}
	if frame.Rows != 2 || frame.Cols != 3 {
		t.Fatalf("unexpected frame shape %s", frame.Shape())
	}
}

func TestNormalizeRescalesUnsignedOverflowToBoundary(t *testing.T) {
	grid := gridOf(1, 4, 0, 35000, 70000, 17500)

	frame, err := Normalize(grid, domain.PixelUnsigned, 32)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	var maxV int16
	for _, v := range frame.Data {
		if v < 0 {
			t.Fatalf("unsigned output must not wrap negative, got %d", v)
		}
		if v > maxV {
			maxV = v
		}
	}
	if maxV != 32767 {
		t.Fatalf("expected max 32767, got %d", maxV)
	}
	if frame.Data[1] != 16384 && frame.Data[1] != 16383 {
		t.Fatalf("expected proportional rescale near 16383, got %d", frame.Data[1])
	}
}

func TestNormalizeRescalesSixteenBitUnsignedWithoutTruncation(t *testing.T) {
	for _, bits := range []int{16, 12} {
		frame, err := Normalize(gridOf(1, 3, 0, 35000, 70000), domain.PixelUnsigned, bits)
		if err != nil {
			t.Fatalf("Normalize(bits=%d) error = %v", bits, err)
		}
		if frame.Data[2] != 32767 {
			t.Fatalf("bits=%d: expected 70000 to map to 32767, got %v", bits, frame.Data)
		}
		if frame.Data[1] != 16384 && frame.Data[1] != 16383 {
			t.Fatalf("bits=%d: expected proportional rescale near 16383, got %v", bits, frame.Data)
		}
		if frame.Data[0] != 0 {
			t.Fatalf("bits=%d: expected 0 to stay 0, got %v", bits, frame.Data)
		}
	}
}

func TestNormalizeKeepsAlreadySignedSamples(t *testing.T) {
	frame, err := Normalize(gridOf(1, 3, -1, -2048, 5000), domain.PixelSigned, 12)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := []int16{-1, -2048, 5000}
	for i, v := range want {
		if frame.Data[i] != v {
			t.Fatalf("sample %d: expected %d, got %d", i, v, frame.Data[i])
		}
	}
}

func TestNormalizeClipsNegativeUnsigned(t *testing.T) {
	grid := gridOf(1, 2, -5, 10)

	frame, err := Normalize(grid, domain.PixelUnsigned, 0)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if frame.Data[0] != 0 || frame.Data[1] != 10 {
		t.Fatalf("unexpected output %v", frame.Data)
	}
}

func TestNormalizeSignExtendsStoredBits(t *testing.T) {
	// 12-bit two's complement: 0xFFF is -1, 0x800 is -2048.
	grid := gridOf(1, 3, 0xFFF, 0x800, 0x7FF)

	frame, err := Normalize(grid, domain.PixelSigned, 12)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := []int16{-1, -2048, 2047}
	for i, v := range want {
		if frame.Data[i] != v {
			t.Fatalf("sample %d: expected %d, got %d", i, v, frame.Data[i])
		}
	}
}

func TestNormalizeRejectsMissingPixels(t *testing.T) {
	_, err := Normalize(nil, domain.PixelUnsigned, 16)
	if !errors.Is(err, domain.ErrNoPixelData) {
		t.Fatalf("expected ErrNoPixelData, got %v", err)
	}
}

func TestNormalizeRejectsSampleCountMismatch(t *testing.T) {
	_, err := Normalize(gridOf(2, 2, 1, 2, 3), domain.PixelUnsigned, 16)
	if !domain.IsKind(err, domain.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}
