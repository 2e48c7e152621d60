package localfs

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/core/ports"
)

// Storage keeps objects as files under basePath. Keys are slash separated.
type Storage struct {
	basePath   string
	publicURL  string
	signingKey []byte
	now        func() time.Time
}

type Options struct {
	// PublicURL is the externally reachable object route, for example
	// http://localhost:8080/v1/objects.
	PublicURL  string
	SigningKey string
}

func New(basePath string, opts Options) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/storage"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{
		basePath:   basePath,
		publicURL:  strings.TrimRight(opts.PublicURL, "/"),
		signingKey: []byte(opts.SigningKey),
		now:        time.Now,
	}, nil
}

func (s *Storage) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve object key", fmt.Errorf("empty key %q", key))
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean[1:])), nil
}

func (s *Storage) Save(_ context.Context, key string, data io.Reader) error {
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit file: %w", err)
	}
	return nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.WrapError(domain.ErrObjectNotFound, "open object", fmt.Errorf("key=%s", key))
	}
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// List returns the objects whose key starts with prefix, sorted by key.
func (s *Storage) List(_ context.Context, prefix string) ([]ports.ObjectInfo, error) {
	dir := strings.TrimPrefix(path.Clean("/"+prefix), "/")
	if !strings.HasSuffix(prefix, "/") {
		dir = path.Dir(dir)
	}
	root := s.basePath
	if dir != "." && dir != "" {
		root = filepath.Join(s.basePath, filepath.FromSlash(dir))
	}

	var out []ports.ObjectInfo
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, ports.ObjectInfo{Key: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Storage) FetchToLocal(ctx context.Context, key, dir string) (string, error) {
	rc, err := s.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	local := filepath.Join(dir, path.Base(key))
	f, err := os.Create(local)
	if err != nil {
		return "", fmt.Errorf("create local copy: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("copy %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close local copy: %w", err)
	}
	return local, nil
}

func (s *Storage) Put(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()
	return s.Save(ctx, key, f)
}

// PresignGet returns an expiring URL on the object route, signed with
// HMAC-SHA256 over key and expiry.
func (s *Storage) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	if s.publicURL == "" || len(s.signingKey) == 0 {
		return "", errors.New("presigning is not configured")
	}
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(key, expires))
	return s.publicURL + "/" + strings.TrimPrefix(key, "/") + "?" + q.Encode(), nil
}

// Verify checks a signature produced by PresignGet.
func (s *Storage) Verify(key, expires, sig string) error {
	if len(s.signingKey) == 0 {
		return errors.New("presigning is not configured")
	}
	at, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "verify signature", fmt.Errorf("bad expires %q", expires))
	}
	if s.now().Unix() > at {
		return domain.WrapError(domain.ErrInvalidInput, "verify signature", errors.New("url expired"))
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(key, at))) {
		return domain.WrapError(domain.ErrInvalidInput, "verify signature", errors.New("signature mismatch"))
	}
	return nil
}

func (s *Storage) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(strings.TrimPrefix(key, "/")))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
