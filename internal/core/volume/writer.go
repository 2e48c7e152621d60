package volume

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

// WriteRaw dumps the volume as little-endian int16 samples, frame by frame,
// rows in order, with no header.
func WriteRaw(w io.Writer, vol *domain.Volume) error {
	if vol == nil {
		return domain.WrapError(domain.ErrNoValidFrames, "write raw volume", fmt.Errorf("nil volume"))
	}
	bw := bufio.NewWriter(w)
	for i, frame := range vol.Frames {
		if err := binary.Write(bw, binary.LittleEndian, frame.Data); err != nil {
			return fmt.Errorf("write frame %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush raw volume: %w", err)
	}
	return nil
}

// OutputDimensions derives width/height/depth from the (frames, rows, cols) shape.
func OutputDimensions(vol *domain.Volume) domain.Dimensions {
	if vol == nil {
		return domain.Dimensions{}
	}
	shape := vol.Shape()
	return domain.Dimensions{
		Width:  shape[2],
		Height: shape[1],
		Depth:  shape[0],
	}
}

func NewDocument(vol *domain.Volume, meta map[string]domain.Value, info *domain.ProcessingInfo) domain.VolumeDocument {
	if meta == nil {
		meta = map[string]domain.Value{}
	}
	return domain.VolumeDocument{
		DicomMetadata:    meta,
		OutputDimensions: OutputDimensions(vol),
		VoxelScale:       domain.DefaultVoxelScale(),
		ProcessingInfo:   info,
	}
}

func EncodeDocument(w io.Writer, doc domain.VolumeDocument) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode volume document: %w", err)
	}
	return nil
}

func DecodeDocument(r io.Reader) (domain.VolumeDocument, error) {
	var doc domain.VolumeDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return domain.VolumeDocument{}, domain.WrapError(domain.ErrInvalidInput, "decode volume document", err)
	}
	if doc.DicomMetadata == nil {
		doc.DicomMetadata = map[string]domain.Value{}
	}
	return doc, nil
}

// ArtifactStore receives finished local files.
type ArtifactStore interface {
	Put(ctx context.Context, localPath, key string) error
}

// ArtifactKeys names where a unit's outputs are stored.
type ArtifactKeys struct {
	Raw      string
	Settings string
}

// Writer stages artifacts in a private scratch directory before handing them
// to the store. The scratch directory is removed on every return path.
type Writer struct {
	store      ArtifactStore
	scratchDir string
}

func NewWriter(store ArtifactStore, scratchDir string) *Writer {
	return &Writer{store: store, scratchDir: scratchDir}
}

func (w *Writer) Emit(ctx context.Context, keys ArtifactKeys, vol *domain.Volume, doc domain.VolumeDocument) (err error) {
	dir, err := os.MkdirTemp(w.scratchDir, "volume-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil && err == nil {
			err = fmt.Errorf("remove scratch dir: %w", rmErr)
		}
	}()

	rawPath := filepath.Join(dir, "volume.raw")
	if err := writeFile(rawPath, func(f io.Writer) error { return WriteRaw(f, vol) }); err != nil {
		return err
	}
	settingsPath := filepath.Join(dir, "settings.json")
	if err := writeFile(settingsPath, func(f io.Writer) error { return EncodeDocument(f, doc) }); err != nil {
		return err
	}

	if err := w.store.Put(ctx, rawPath, keys.Raw); err != nil {
		return fmt.Errorf("store raw volume: %w", err)
	}
	if err := w.store.Put(ctx, settingsPath, keys.Settings); err != nil {
		return fmt.Errorf("store volume settings: %w", err)
	}
	return nil
}

func writeFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if err := fill(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return nil
}
