package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/kirillkom/dicom-pipeline/internal/config"
	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/core/ports"
	"github.com/kirillkom/dicom-pipeline/internal/core/usecase"
	"github.com/kirillkom/dicom-pipeline/internal/core/volume"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/archive"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/dicomparser"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/llm/imagegen"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/preview"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/queue/nats"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/storage/gcs"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	Queue    ports.StageQueue
	Storage  ports.ObjectStorage
	IngestUC ports.UploadIngestor
	ReadUC   ports.UploadReader

	// LocalObjects is set when artifacts live on the local filesystem and
	// the API has to serve their signed URLs itself.
	LocalObjects *localfs.Storage

	// Stages maps the subject a worker listens on to the handler it runs.
	Stages map[domain.Stage]ports.StageHandler

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, pipelineMetrics ports.PipelineMetrics) (*App, error) {
	mode, err := volume.ParseMode(cfg.VolumeMode)
	if err != nil {
		return nil, err
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	newExecutor := func() *resilience.Executor {
		return resilience.NewExecutor(resilienceConfig(cfg))
	}

	storage, localObjects, closeStorage, err := newObjectStorage(ctx, cfg, newExecutor())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubjectPrefix, nats.Options{
		QueueGroup:         cfg.NATSQueueGroup,
		ResilienceExecutor: newExecutor(),
	})
	if err != nil {
		closeStorage()
		_ = db.Close()
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	notifier := nats.NewNotifier(queue)

	summarizer, err := newSummarizer(cfg, newExecutor())
	if err != nil {
		queue.Close()
		closeStorage()
		_ = db.Close()
		return nil, fmt.Errorf("init metadata summarizer: %w", err)
	}

	var illustrator ports.Illustrator
	if cfg.EnrichIllustrate {
		illustrator = imagegen.New(cfg.ImageGenURL, cfg.ImageGenAPIKey, imagegen.Options{
			Model:             cfg.ImageGenModel,
			Size:              cfg.ImageGenSize,
			Executor:          newExecutor(),
			RequestsPerMinute: cfg.ImageGenRPM,
		})
	}

	uploads := postgres.NewUploadRepository(db)
	conversions := postgres.NewConversionRepository(db)
	parser := dicomparser.NewParser()
	shape := domain.Shape{Rows: cfg.VolumeRows, Cols: cfg.VolumeCols}

	extractUC := usecase.NewExtractUseCase(
		storage,
		archive.NewExtractor(archive.Options{MaxFiles: cfg.ArchiveMaxFiles, MaxBytes: cfg.ArchiveMaxBytes}),
		dicomparser.NewParser().SkipPixels(),
		uploads,
		postgres.NewHierarchyRepository(db),
		notifier,
		queue,
		pipelineMetrics,
		cfg.ScratchDir,
	)
	convertUC := usecase.NewConvertUseCase(
		storage,
		parser,
		uploads,
		conversions,
		notifier,
		queue,
		preview.NewPNGRenderer(cfg.PreviewMaxSide),
		pipelineMetrics,
		usecase.ConvertOptions{
			Mode:       mode,
			Shape:      shape,
			PresignTTL: cfg.PresignTTL,
			ScratchDir: cfg.ScratchDir,
		},
	)
	enrichUC := usecase.NewEnrichUseCase(
		storage,
		uploads,
		conversions,
		postgres.NewMetadataRepository(db),
		summarizer,
		illustrator,
		notifier,
		usecase.EnrichOptions{
			ValueLimit: cfg.MetadataValueLimit,
			Illustrate: cfg.EnrichIllustrate,
			PresignTTL: cfg.PresignTTL,
		},
	)

	slog.Info("bootstrap_ready",
		"storage_backend", cfg.StorageBackend,
		"volume_mode", mode,
		"shape", shape.String(),
		"summary_backend", cfg.SummaryBackend,
		"illustrate", cfg.EnrichIllustrate,
	)

	return &App{
		Config:       cfg,
		Queue:        queue,
		Storage:      storage,
		IngestUC:     usecase.NewIngestUploadUseCase(uploads, storage, queue),
		ReadUC:       usecase.NewUploadQueryUseCase(uploads, conversions),
		LocalObjects: localObjects,
		Stages: map[domain.Stage]ports.StageHandler{
			domain.StageUploaded:  extractUC,
			domain.StageExtracted: convertUC,
			domain.StageConverted: enrichUC,
		},
		closeFn: func() {
			queue.Close()
			closeStorage()
			closeDB(db)
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Warn("postgres_close_failed", "error", err.Error())
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.RetryMaxAttempts = cfg.RetryMaxAttempts
	rc.RetryInitialBackoff = cfg.RetryInitialDelay
	rc.BreakerEnabled = cfg.BreakerEnabled
	rc.BreakerOpenTimeout = cfg.BreakerOpenTimeout
	return rc
}

func newObjectStorage(ctx context.Context, cfg config.Config, executor *resilience.Executor) (ports.ObjectStorage, *localfs.Storage, func(), error) {
	switch cfg.StorageBackend {
	case "", "localfs":
		store, err := localfs.New(cfg.StoragePath, localfs.Options{
			PublicURL:  cfg.StoragePublicURL,
			SigningKey: cfg.StorageSigningKey,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store, func() {}, nil
	case "gcs":
		var privateKey string
		if cfg.GCSPrivateKeyPath != "" {
			raw, err := os.ReadFile(cfg.GCSPrivateKeyPath)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("read gcs signer key: %w", err)
			}
			privateKey = string(raw)
		}
		store, err := gcs.New(ctx, gcs.Options{
			Bucket:           cfg.GCSBucket,
			CredentialsFile:  cfg.GCSCredentials,
			SignerEmail:      cfg.GCSSignerEmail,
			SignerPrivateKey: privateKey,
			Executor:         executor,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return store, nil, func() {
			if err := store.Close(); err != nil {
				slog.Warn("gcs_close_failed", "error", err.Error())
			}
		}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func newSummarizer(cfg config.Config, executor *resilience.Executor) (ports.MetadataSummarizer, error) {
	catalogue, err := loadCatalogue(cfg.CataloguePath)
	if err != nil {
		return nil, err
	}
	switch cfg.SummaryBackend {
	case "catalogue":
		return ollama.NewCatalogueSummarizer(catalogue), nil
	case "", "ollama":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, ollama.Options{
			Executor:          executor,
			RequestsPerSecond: cfg.OllamaRPS,
			Burst:             cfg.OllamaBurst,
		})
		return ollama.NewSummarizer(client, catalogue), nil
	default:
		return nil, fmt.Errorf("unknown summary backend %q", cfg.SummaryBackend)
	}
}

func loadCatalogue(path string) (*ollama.Catalogue, error) {
	if path == "" {
		return ollama.DefaultCatalogue()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return ollama.ParseCatalogue(raw)
}
