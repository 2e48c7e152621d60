package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/DavidGamba/go-getoptions"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/core/volume"
)

// Options are the dicomvol command line parameters.
type Options struct {
	Input      string
	Output     string
	Mode       volume.Mode
	Rows       int
	Cols       int
	Preview    bool
	Summary    bool
	OllamaURL  string
	Model      string
	ValueLimit int
	Quiet      bool
	Debug      bool

	usage string
}

var errHelp = errors.New("help requested")

func (o *Options) Shape() domain.Shape {
	return domain.Shape{Rows: o.Rows, Cols: o.Cols}
}

func parseOptions(args []string) (*Options, error) {
	o := &Options{}
	var mode string

	opt := getoptions.New()
	opt.Bool("help", false, opt.Alias("h"),
		opt.Description("show help information"))
	opt.StringVar(&o.Input, "input", "", opt.Alias("i"),
		opt.Description("directory of DICOM files or a .zip archive"))
	opt.StringVar(&o.Output, "output", "./volumes", opt.Alias("o"),
		opt.Description("directory for raw volumes and settings files"))
	opt.StringVar(&mode, "mode", string(volume.ModeBatch), opt.Alias("m"),
		opt.Description("batch: one volume for all files, series: one volume per series"))
	opt.IntVar(&o.Rows, "rows", volume.DefaultShape.Rows,
		opt.Description("required frame rows"))
	opt.IntVar(&o.Cols, "cols", volume.DefaultShape.Cols,
		opt.Description("required frame columns"))
	opt.BoolVar(&o.Preview, "preview", false, opt.Alias("p"),
		opt.Description("write a PNG thumbnail of the middle slice"))
	opt.BoolVar(&o.Summary, "summary", false, opt.Alias("s"),
		opt.Description("write the clinically relevant metadata subset next to each volume"))
	opt.StringVar(&o.OllamaURL, "ollama-url", "",
		opt.Description("summarize with an Ollama model instead of the built-in field catalogue"))
	opt.StringVar(&o.Model, "model", "llama3.1:8b",
		opt.Description("Ollama model used with --ollama-url"))
	opt.IntVar(&o.ValueLimit, "value-limit", volume.DefaultValueLimit,
		opt.Description("truncate summary values longer than this many characters"))
	opt.BoolVar(&o.Quiet, "quiet", false, opt.Alias("q"),
		opt.Description("hide the progress bar"))
	opt.BoolVar(&o.Debug, "debug", false,
		opt.Description("log skipped files and warnings"))

	o.usage = opt.Help()
	if _, err := opt.Parse(args); err != nil {
		return nil, err
	}
	if opt.Called("help") {
		return o, errHelp
	}

	if strings.TrimSpace(o.Input) == "" {
		return nil, fmt.Errorf("--input is required")
	}
	parsed, err := volume.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	o.Mode = parsed
	if o.Rows <= 0 || o.Cols <= 0 {
		return nil, fmt.Errorf("--rows and --cols must be positive, got %dx%d", o.Rows, o.Cols)
	}
	return o, nil
}
