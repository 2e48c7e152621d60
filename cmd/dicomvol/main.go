// Command dicomvol converts a local directory or zip archive of DICOM files
// into raw volumes and JSON settings files without the queue or databases.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/k0kubun/go-ansi"

	"github.com/kirillkom/dicom-pipeline/internal/observability/logging"
)

const (
	colorReset = "\x1b[0m"
	colorRed   = "\x1b[31m"
	colorGreen = "\x1b[32m"
	colorCyan  = "\x1b[36m"
	colorDim   = "\x1b[2m"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	opts, err := parseOptions(args)
	if errors.Is(err, errHelp) {
		fmt.Fprint(os.Stderr, opts.usage)
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dicomvol: %v\n", err)
		return 2
	}

	level := "warn"
	if opts.Debug {
		level = "debug"
	}
	slog.SetDefault(logging.NewTextLogger(os.Stderr, level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stdout := ansi.NewAnsiStdout()
	progress := stdout
	if opts.Quiet {
		progress = io.Discard
	}
	r, err := newRunner(opts, progress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dicomvol: %v\n", err)
		return 1
	}
	rep, err := r.run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dicomvol: %v\n", err)
		return 1
	}
	printReport(stdout, rep)
	if rep.written() == 0 {
		return 1
	}
	return 0
}

func printReport(w io.Writer, rep *report) {
	fmt.Fprintf(w, "%sfiles%s %d  parsed %d  skipped %d\n", colorCyan, colorReset, rep.Files, rep.Parsed, rep.Skipped)

	for _, patient := range rep.Tree {
		fmt.Fprintf(w, "%spatient%s %s\n", colorCyan, colorReset, patient.PatientID)
		for _, study := range patient.Studies {
			fmt.Fprintf(w, "  study %s\n", study.StudyID)
			for _, series := range study.Series {
				fmt.Fprintf(w, "    series %s %s[%s]%s\n", series.SeriesID, colorDim, strings.Join(series.Modalities, ","), colorReset)
			}
		}
	}

	for _, v := range rep.Volumes {
		if v.Err != nil {
			fmt.Fprintf(w, "%sskipped%s %s: %v\n", colorRed, colorReset, v.Name, v.Err)
			continue
		}
		fmt.Fprintf(w, "%swrote%s %s: %d frames from %d files\n", colorGreen, colorReset, v.Name, v.Frames, v.Files)
		for _, path := range []string{v.Raw, v.Settings, v.Preview, v.Summary} {
			if path != "" {
				fmt.Fprintf(w, "  %s\n", path)
			}
		}
		for _, warning := range v.Warnings {
			fmt.Fprintf(w, "  %swarning%s %s\n", colorDim, colorReset, warning)
		}
	}
}
