package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/dicom-pipeline/internal/core/volume"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/dicomparser/dicomtest"
)

func TestParseOptionsDefaults(t *testing.T) {
	opts, err := parseOptions([]string{"-i", "/data/study"})
	if err != nil {
		t.Fatalf("parseOptions() error = %v", err)
	}
	if opts.Mode != volume.ModeBatch || opts.Rows != 512 || opts.Cols != 512 {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if opts.Output != "./volumes" {
		t.Fatalf("unexpected output default %q", opts.Output)
	}
}

func TestParseOptionsValidation(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{name: "missing input", args: []string{"--mode", "series"}},
		{name: "unknown mode", args: []string{"-i", "x", "--mode", "slab"}},
		{name: "zero rows", args: []string{"-i", "x", "--rows", "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseOptions(tc.args); err == nil {
				t.Fatalf("expected error for %v", tc.args)
			}
		})
	}

	if _, err := parseOptions([]string{"--help"}); !errors.Is(err, errHelp) {
		t.Fatalf("expected errHelp, got %v", err)
	}
}

func writeStudy(t *testing.T, dir string) {
	t.Helper()
	fill := func(row, col int) uint16 { return uint16(row*4 + col) }
	for i, series := range []string{"1.2.3.1", "1.2.3.1", "1.2.3.2"} {
		dicomtest.Write(t, dir, filepath.Join("series", string(rune('a'+i))+".dcm"), dicomtest.Image{
			PatientID:  "P1",
			StudyUID:   "1.2.3",
			SeriesUID:  series,
			SOPUID:     "1.2.3.9." + string(rune('1'+i)),
			Modality:   "CT",
			Rows:       4,
			Cols:       4,
			BitsStored: 12,
			Fill:       fill,
		})
	}
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not dicom"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestRunSeriesModeWritesOneVolumePerSeries(t *testing.T) {
	input := t.TempDir()
	output := t.TempDir()
	writeStudy(t, input)

	r, err := newRunner(&Options{
		Input:      input,
		Output:     output,
		Mode:       volume.ModeSeries,
		Rows:       4,
		Cols:       4,
		Preview:    true,
		Summary:    true,
		ValueLimit: 100,
	}, io.Discard)
	if err != nil {
		t.Fatalf("newRunner() error = %v", err)
	}
	rep, err := r.run(context.Background())
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}

	if rep.Files != 4 || rep.Parsed != 3 || rep.Skipped != 1 {
		t.Fatalf("unexpected counts: files=%d parsed=%d skipped=%d", rep.Files, rep.Parsed, rep.Skipped)
	}
	if len(rep.Volumes) != 2 || rep.written() != 2 {
		t.Fatalf("expected 2 written volumes, got %+v", rep.Volumes)
	}
	if rep.Volumes[0].Frames != 2 || rep.Volumes[1].Frames != 1 {
		t.Fatalf("unexpected frame counts: %d, %d", rep.Volumes[0].Frames, rep.Volumes[1].Frames)
	}
	if len(rep.Tree) != 1 || len(rep.Tree[0].Studies) != 1 || len(rep.Tree[0].Studies[0].Series) != 2 {
		t.Fatalf("unexpected tree: %+v", rep.Tree)
	}

	first := rep.Volumes[0]
	raw, err := os.ReadFile(first.Raw)
	if err != nil {
		t.Fatalf("ReadFile(raw) error = %v", err)
	}
	if len(raw) != 2*4*4*2 {
		t.Fatalf("raw size = %d, want %d", len(raw), 2*4*4*2)
	}
	if _, err := os.Stat(first.Preview); err != nil {
		t.Fatalf("preview missing: %v", err)
	}

	summaryRaw, err := os.ReadFile(first.Summary)
	if err != nil {
		t.Fatalf("ReadFile(summary) error = %v", err)
	}
	var summary map[string]string
	if err := json.Unmarshal(summaryRaw, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary["Modality"] != "CT" || summary["PatientID"] != "P1" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRunRejectsEmptyInput(t *testing.T) {
	r, err := newRunner(&Options{Input: t.TempDir(), Output: t.TempDir(), Mode: volume.ModeBatch, Rows: 4, Cols: 4}, io.Discard)
	if err != nil {
		t.Fatalf("newRunner() error = %v", err)
	}
	if _, err := r.run(context.Background()); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, &report{
		Files:  2,
		Parsed: 1,
		Volumes: []volumeReport{
			{Name: "study", Frames: 1, Files: 1, Raw: "out/study.raw"},
			{Name: "other", Err: errors.New("no valid frames")},
		},
	})
	out := buf.String()
	for _, want := range []string{"parsed 1", "study: 1 frames from 1 files", "out/study.raw", "other: no valid frames"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
