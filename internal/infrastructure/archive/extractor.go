package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

const (
	defaultMaxFiles = 20000
	defaultMaxBytes = 8 << 30
)

type Options struct {
	MaxFiles int
	MaxBytes int64
}

// Extractor unpacks an uploaded zip archive. Archives found inside it
// (.zip, .tar, .tar.gz, .tgz) are expanded one level deep next to where they
// were found.
type Extractor struct {
	maxFiles int
	maxBytes int64
}

func NewExtractor(opts Options) *Extractor {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = defaultMaxFiles
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	return &Extractor{maxFiles: opts.MaxFiles, maxBytes: opts.MaxBytes}
}

// budget tracks what one Extract call has written so far.
type budget struct {
	files    int
	bytes    int64
	maxFiles int
	maxBytes int64
}

func (b *budget) take(size int64) error {
	b.files++
	b.bytes += size
	if b.files > b.maxFiles {
		return fmt.Errorf("archive holds more than %d files", b.maxFiles)
	}
	if b.bytes > b.maxBytes {
		return fmt.Errorf("archive expands beyond %d bytes", b.maxBytes)
	}
	return nil
}

// Extract writes the archive contents under destDir and returns the regular
// files in lexical walk order.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create extraction dir: %w", err)
	}
	b := &budget{maxFiles: e.maxFiles, maxBytes: e.maxBytes}
	if err := extractZip(ctx, archivePath, destDir, b); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract archive", err)
	}

	nested, err := collectFiles(destDir)
	if err != nil {
		return nil, err
	}
	for _, file := range nested {
		kind := nestedKind(file)
		if kind == "" {
			continue
		}
		target := file[:len(file)-len(kind)]
		if err := expandNested(ctx, file, kind, target, b); err != nil {
			slog.Warn("nested_archive_skipped", "file", filepath.Base(file), "error", err.Error())
			continue
		}
		if err := os.Remove(file); err != nil {
			return nil, fmt.Errorf("remove nested archive: %w", err)
		}
	}
	return collectFiles(destDir)
}

func extractZip(ctx context.Context, archivePath, destDir string, b *budget) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.FileInfo().IsDir() || skipEntry(f.Name) {
			continue
		}
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return err
		}
		if err := b.take(int64(f.UncompressedSize64)); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		err = writeEntry(target, rc, int64(f.UncompressedSize64))
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTar(ctx context.Context, r io.Reader, destDir string, b *budget) error {
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || skipEntry(hdr.Name) {
			continue
		}
		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}
		if err := b.take(hdr.Size); err != nil {
			return err
		}
		if err := writeEntry(target, tr, hdr.Size); err != nil {
			return err
		}
	}
}

func expandNested(ctx context.Context, file, kind, target string, b *budget) error {
	if kind == ".zip" {
		return extractZip(ctx, file, target, b)
	}
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if kind != ".tar" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return extractTar(ctx, r, target, b)
}

func writeEntry(target string, r io.Reader, size int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", filepath.Base(target), err)
	}
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(target), err)
	}
	// Declared sizes bound the copy so a lying header cannot fill the disk.
	if _, err := io.Copy(out, io.LimitReader(r, size)); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(target), err)
	}
	return out.Close()
}

// safeJoin rejects entry names that would land outside dir.
func safeJoin(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes extraction dir", name)
	}
	return filepath.Join(dir, clean), nil
}

func skipEntry(name string) bool {
	name = filepath.ToSlash(name)
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(filepath.Base(name), "._")
}

func nestedKind(file string) string {
	lower := strings.ToLower(file)
	for _, ext := range []string{".tar.gz", ".tgz", ".tar", ".zip"} {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return ""
}

func collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk extracted files: %w", err)
	}
	return files, nil
}
