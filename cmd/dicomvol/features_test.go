package main

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cucumber/godog"

	"github.com/kirillkom/dicom-pipeline/internal/core/volume"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/dicomparser/dicomtest"
)

// scenario holds the directories and result of one feature scenario.
type scenario struct {
	t        testing.TB
	input    string
	output   string
	exitCode int
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) { initializeScenario(t, sc) },
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

func initializeScenario(t testing.TB, sc *godog.ScenarioContext) {
	s := &scenario{t: t}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		root, err := os.MkdirTemp("", "dicomvol-feature-*")
		if err != nil {
			return ctx, err
		}
		s.input = filepath.Join(root, "input")
		s.output = filepath.Join(root, "output")
		if err := os.MkdirAll(s.input, 0o755); err != nil {
			return ctx, err
		}
		return ctx, nil
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
		if s.input != "" {
			os.RemoveAll(filepath.Dir(s.input))
		}
		return ctx, err
	})

	sc.Step(`^a study of patient "([^"]*)" with (\d+) series of (\d+) slices of (\d+)x(\d+) pixels$`, s.aStudy)
	sc.Step(`^a stray file "([^"]*)"$`, s.aStrayFile)
	sc.Step(`^I run dicomvol with "([^"]*)"$`, s.iRunDicomvolWith)
	sc.Step(`^the exit code should be (\d+)$`, s.theExitCodeShouldBe)
	sc.Step(`^the output should hold (\d+) raw volumes?$`, s.theOutputShouldHoldRaw)
	sc.Step(`^the output should hold (\d+) preview images?$`, s.theOutputShouldHoldPreviews)
	sc.Step(`^every settings file should describe an? (\d+)x(\d+) grid of (\d+) slices$`, s.everySettingsFileShouldDescribe)
}

func (s *scenario) aStudy(patient string, series, slices, rows, cols int) error {
	fill := func(row, col int) uint16 { return uint16(row*16 + col) }
	for i := 0; i < series; i++ {
		seriesUID := fmt.Sprintf("1.2.840.%d", i+1)
		for j := 0; j < slices; j++ {
			name := filepath.Join(fmt.Sprintf("series-%d", i+1), fmt.Sprintf("slice-%02d.dcm", j+1))
			dicomtest.Write(s.t, s.input, name, dicomtest.Image{
				PatientID:  patient,
				StudyUID:   "1.2.840",
				SeriesUID:  seriesUID,
				SOPUID:     fmt.Sprintf("%s.%d", seriesUID, j+1),
				Modality:   "MR",
				Rows:       rows,
				Cols:       cols,
				BitsStored: 12,
				Fill:       fill,
			})
		}
	}
	return nil
}

func (s *scenario) aStrayFile(name string) error {
	return os.WriteFile(filepath.Join(s.input, name), []byte("not a dicom file"), 0o644)
}

func (s *scenario) iRunDicomvolWith(args string) error {
	args = strings.ReplaceAll(args, "{input}", s.input)
	args = strings.ReplaceAll(args, "{output}", s.output)
	s.exitCode = realMain(strings.Fields(args))
	return nil
}

func (s *scenario) theExitCodeShouldBe(expected int) error {
	if s.exitCode != expected {
		return fmt.Errorf("expected exit code %d, got %d", expected, s.exitCode)
	}
	return nil
}

func (s *scenario) theOutputShouldHoldRaw(count int) error {
	return s.countOutputs(".raw", count)
}

func (s *scenario) theOutputShouldHoldPreviews(count int) error {
	return s.countOutputs("-preview.png", count)
}

func (s *scenario) countOutputs(suffix string, expected int) error {
	files, err := s.outputs(suffix)
	if err != nil {
		return err
	}
	if len(files) != expected {
		return fmt.Errorf("expected %d %s files, found %d: %v", expected, suffix, len(files), files)
	}
	return nil
}

func (s *scenario) everySettingsFileShouldDescribe(width, height, depth int) error {
	files, err := s.outputs("-settings.json")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no settings files in %s", s.output)
	}
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		doc, err := volume.DecodeDocument(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("decode %s: %w", file, err)
		}
		got := doc.OutputDimensions
		if got.Width != width || got.Height != height || got.Depth != depth {
			return fmt.Errorf("%s: dimensions %+v, want %dx%dx%d", file, got, width, height, depth)
		}
	}
	return nil
}

func (s *scenario) outputs(suffix string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.output, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return fs.SkipAll
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, suffix) {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
