package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/core/hierarchy"
	"github.com/kirillkom/dicom-pipeline/internal/core/ports"
	"github.com/kirillkom/dicom-pipeline/internal/core/volume"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/archive"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/dicomparser"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/preview"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/storage/localfs"
)

const cliUser = "local"

type volumeReport struct {
	Name     string
	Frames   int
	Files    int
	Warnings []string
	Raw      string
	Settings string
	Preview  string
	Summary  string
	Err      error
}

type report struct {
	Files   int
	Parsed  int
	Skipped int
	Tree    []hierarchy.PatientNode
	Volumes []volumeReport
}

func (r *report) written() int {
	n := 0
	for _, v := range r.Volumes {
		if v.Err == nil {
			n++
		}
	}
	return n
}

// runner converts a local directory or archive with the same components the
// worker uses, writing artifacts under the output directory.
type runner struct {
	opts       *Options
	parser     ports.ImageParser
	summarizer ports.MetadataSummarizer
	renderer   ports.PreviewRenderer
	progress   io.Writer
	now        func() time.Time
}

func newRunner(opts *Options, progress io.Writer) (*runner, error) {
	r := &runner{
		opts:     opts,
		parser:   dicomparser.NewParser(),
		progress: progress,
		now:      time.Now,
	}
	if opts.Preview {
		r.renderer = preview.NewPNGRenderer(0)
	}
	if opts.Summary {
		catalogue, err := ollama.DefaultCatalogue()
		if err != nil {
			return nil, err
		}
		if opts.OllamaURL != "" {
			client := ollama.New(opts.OllamaURL, opts.Model, ollama.Options{
				Executor: resilience.NewExecutor(resilience.SingleShot()),
			})
			r.summarizer = ollama.NewSummarizer(client, catalogue)
		} else {
			r.summarizer = ollama.NewCatalogueSummarizer(catalogue)
		}
	}
	return r, nil
}

func (r *runner) run(ctx context.Context) (*report, error) {
	scratch, err := os.MkdirTemp("", "dicomvol-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	files, err := r.inputFiles(ctx, scratch)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "collect input", fmt.Errorf("no files found in %s", r.opts.Input))
	}

	store, err := localfs.New(r.opts.Output, localfs.Options{})
	if err != nil {
		return nil, err
	}

	batchName := strings.TrimSuffix(filepath.Base(filepath.Clean(r.opts.Input)), filepath.Ext(r.opts.Input))
	units := volume.NewUnitSet(r.opts.Mode, r.opts.Shape(), batchName)
	aggregator := hierarchy.NewAggregator(cliUser, batchName)
	rep := &report{Files: len(files)}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWriter(r.progress),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetDescription("[cyan]parsing[reset]"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(r.progress) }),
	)
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := r.parser.Parse(ctx, file)
		_ = bar.Add(1)
		if err != nil {
			rep.Skipped++
			slog.Debug("file_skipped", "file", file, "error", err.Error())
			units.AddFailure(file, err)
			continue
		}
		rep.Parsed++
		aggregator.Add(img)
		units.Add(img)
	}
	_ = bar.Finish()

	for _, warning := range units.Unassigned() {
		slog.Debug("file_unassigned", "warning", warning)
	}
	rep.Tree = aggregator.Tree()

	writer := volume.NewWriter(store, scratch)
	for _, unit := range units.Units() {
		rep.Volumes = append(rep.Volumes, r.writeUnit(ctx, store, writer, unit))
	}
	return rep, nil
}

func (r *runner) writeUnit(ctx context.Context, store *localfs.Storage, writer *volume.Writer, unit *volume.Unit) volumeReport {
	vr := volumeReport{Name: unit.Name, Files: unit.FilesProcessed()}
	res, err := unit.Result(r.now())
	if err != nil {
		vr.Err = err
		return vr
	}
	vr.Frames = res.Volume.Depth()
	vr.Warnings = res.Info.Warnings

	keys := volume.ArtifactKeys{Raw: unit.Name + ".raw", Settings: unit.Name + "-settings.json"}
	if err := writer.Emit(ctx, keys, res.Volume, volume.NewDocument(res.Volume, res.Metadata, &res.Info)); err != nil {
		vr.Err = err
		return vr
	}
	vr.Raw = filepath.Join(r.opts.Output, keys.Raw)
	vr.Settings = filepath.Join(r.opts.Output, keys.Settings)

	if r.renderer != nil {
		key := unit.Name + "-preview.png"
		var buf bytes.Buffer
		if err := r.renderer.Render(&buf, res.Volume); err != nil {
			vr.Warnings = append(vr.Warnings, fmt.Sprintf("preview: %v", err))
		} else if err := store.Save(ctx, key, &buf); err != nil {
			vr.Warnings = append(vr.Warnings, fmt.Sprintf("preview: %v", err))
		} else {
			vr.Preview = filepath.Join(r.opts.Output, key)
		}
	}

	if r.summarizer != nil {
		key := unit.Name + "-summary.json"
		if err := r.writeSummary(ctx, store, key, res.Metadata); err != nil {
			vr.Warnings = append(vr.Warnings, fmt.Sprintf("summary: %v", err))
		} else {
			vr.Summary = filepath.Join(r.opts.Output, key)
		}
	}
	return vr
}

func (r *runner) writeSummary(ctx context.Context, store *localfs.Storage, key string, meta map[string]domain.Value) error {
	summary, err := r.summarizer.Summarize(ctx, meta)
	if err != nil {
		return err
	}
	entries := volume.Flatten(summary, r.opts.ValueLimit)
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return store.Save(ctx, key, bytes.NewReader(raw))
}

// inputFiles lists the files to parse in lexical order. Archives are
// extracted into scratch first.
func (r *runner) inputFiles(ctx context.Context, scratch string) ([]string, error) {
	info, err := os.Stat(r.opts.Input)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open input", err)
	}
	if !info.IsDir() {
		if !strings.EqualFold(filepath.Ext(r.opts.Input), ".zip") {
			return []string{r.opts.Input}, nil
		}
		return archive.NewExtractor(archive.Options{}).Extract(ctx, r.opts.Input, filepath.Join(scratch, "extracted"))
	}

	var files []string
	err = filepath.WalkDir(r.opts.Input, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != r.opts.Input {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasPrefix(d.Name(), ".") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk input: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
