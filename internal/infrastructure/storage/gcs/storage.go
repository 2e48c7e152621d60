package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/core/ports"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/resilience"
)

type Options struct {
	Bucket          string
	CredentialsFile string
	// SignerEmail and SignerPrivateKey are only needed when the runtime
	// credentials cannot sign URLs themselves.
	SignerEmail      string
	SignerPrivateKey string
	Executor         *resilience.Executor
}

// Storage is an ObjectStorage backed by one Google Cloud Storage bucket.
type Storage struct {
	client   *storage.Client
	bucket   *storage.BucketHandle
	opts     Options
	executor *resilience.Executor
}

func New(ctx context.Context, opts Options) (*Storage, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &Storage{
		client:   client,
		bucket:   client.Bucket(opts.Bucket),
		opts:     opts,
		executor: opts.Executor,
	}, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

var classifyGCSError = resilience.TransientClassifier(func(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return resilience.IsRetryableStatus(apiErr.Code)
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
})

func (s *Storage) do(ctx context.Context, operation string, fn func(context.Context) error) error {
	err := s.executor.Execute(ctx, operation, fn, classifyGCSError)
	return resilience.WrapTemporary(operation, err, classifyGCSError)
}

// Save buffers data to a temp file first so a retry can replay it.
func (s *Storage) Save(ctx context.Context, key string, data io.Reader) error {
	tmp, err := os.CreateTemp("", "gcs-upload-*")
	if err != nil {
		return fmt.Errorf("create upload buffer: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, data); err != nil {
		return fmt.Errorf("buffer upload: %w", err)
	}
	return s.upload(ctx, tmp, key)
}

func (s *Storage) Put(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()
	return s.upload(ctx, f, key)
}

func (s *Storage) upload(ctx context.Context, src io.ReadSeeker, key string) error {
	return s.do(ctx, "gcs.upload", func(ctx context.Context) error {
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return err
		}
		w := s.bucket.Object(key).NewWriter(ctx)
		if _, err := io.Copy(w, src); err != nil {
			_ = w.Close()
			return fmt.Errorf("write object %s: %w", key, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("finalize object %s: %w", key, err)
		}
		return nil
	})
}

func (s *Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := resilience.Call(ctx, s.executor, "gcs.open", func(ctx context.Context) (io.ReadCloser, error) {
		return s.bucket.Object(key).NewReader(ctx)
	}, classifyGCSError)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, domain.WrapError(domain.ErrObjectNotFound, "open object", fmt.Errorf("key=%s", key))
	}
	if err != nil {
		return nil, resilience.WrapTemporary("gcs.open", err, classifyGCSError)
	}
	return rc, nil
}

func (s *Storage) List(ctx context.Context, prefix string) ([]ports.ObjectInfo, error) {
	var out []ports.ObjectInfo
	err := s.do(ctx, "gcs.list", func(ctx context.Context) error {
		out = out[:0]
		it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("list %s: %w", prefix, err)
			}
			out = append(out, ports.ObjectInfo{Key: attrs.Name, Size: attrs.Size})
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Storage) FetchToLocal(ctx context.Context, key, dir string) (string, error) {
	local := filepath.Join(dir, path.Base(key))
	err := s.do(ctx, "gcs.download", func(ctx context.Context) error {
		rc, err := s.bucket.Object(key).NewReader(ctx)
		if err != nil {
			return err
		}
		defer rc.Close()
		f, err := os.Create(local)
		if err != nil {
			return fmt.Errorf("create local copy: %w", err)
		}
		if _, err := io.Copy(f, rc); err != nil {
			_ = f.Close()
			return fmt.Errorf("copy %s: %w", key, err)
		}
		return f.Close()
	})
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", domain.WrapError(domain.ErrObjectNotFound, "fetch object", fmt.Errorf("key=%s", key))
	}
	if err != nil {
		return "", err
	}
	return local, nil
}

func (s *Storage) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	}
	if s.opts.SignerEmail != "" && s.opts.SignerPrivateKey != "" {
		opts.GoogleAccessID = s.opts.SignerEmail
		opts.PrivateKey = []byte(s.opts.SignerPrivateKey)
	}
	url, err := s.bucket.SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", key, err)
	}
	return url, nil
}
