package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUploadNotFound     = errors.New("upload not found")
	ErrConversionNotFound = errors.New("conversion not found")
	ErrObjectNotFound     = errors.New("object not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrTemporary          = errors.New("temporary failure")
	ErrNotDICOM           = errors.New("not a dicom file")
	ErrNoPixelData        = errors.New("no pixel data")
	ErrShapeMismatch      = errors.New("frame shape mismatch")
	ErrNoValidFrames      = errors.New("no valid frames")
	ErrMissingCorrelation = errors.New("missing correlation identifiers")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
