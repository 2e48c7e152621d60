package localfs

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(t.TempDir(), Options{PublicURL: "http://localhost:8080/v1/objects/", SigningKey: "secret"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestSaveOpenList(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	for _, key := range []string{"acme/u/uploads/1/extracted/b.dcm", "acme/u/uploads/1/extracted/a.dcm", "acme/u/uploads/1/1.zip"} {
		if err := s.Save(ctx, key, strings.NewReader(key)); err != nil {
			t.Fatalf("Save(%s) error = %v", key, err)
		}
	}

	objects, err := s.List(ctx, "acme/u/uploads/1/extracted/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 2 || objects[0].Key != "acme/u/uploads/1/extracted/a.dcm" || objects[1].Key != "acme/u/uploads/1/extracted/b.dcm" {
		t.Fatalf("unexpected listing %+v", objects)
	}

	rc, err := s.Open(ctx, "acme/u/uploads/1/1.zip")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "acme/u/uploads/1/1.zip" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestListMissingPrefixIsEmpty(t *testing.T) {
	s := newTestStorage(t)
	objects, err := s.List(context.Background(), "nobody/here/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 0 {
		t.Fatalf("expected empty listing, got %+v", objects)
	}
}

func TestOpenMissingObject(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.Open(context.Background(), "missing/key")
	if !domain.IsKind(err, domain.ErrObjectNotFound) {
		t.Fatalf("expected object not found, got %v", err)
	}
}

func TestKeysCannotEscapeBase(t *testing.T) {
	s := newTestStorage(t)
	if err := s.Save(context.Background(), "../../outside.txt", strings.NewReader("x")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.basePath, "outside.txt")); err != nil {
		t.Fatalf("expected key clamped under base: %v", err)
	}
}

func TestPutAndFetchToLocal(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	local := filepath.Join(t.TempDir(), "volume.raw")
	if err := os.WriteFile(local, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := s.Put(ctx, local, "acme/u/uploads/1/temp/1.raw"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	dir := t.TempDir()
	fetched, err := s.FetchToLocal(ctx, "acme/u/uploads/1/temp/1.raw", dir)
	if err != nil {
		t.Fatalf("FetchToLocal() error = %v", err)
	}
	if fetched != filepath.Join(dir, "1.raw") {
		t.Fatalf("unexpected local path %s", fetched)
	}
	data, _ := os.ReadFile(fetched)
	if len(data) != 3 {
		t.Fatalf("unexpected fetched size %d", len(data))
	}
}

func TestPresignAndVerify(t *testing.T) {
	s := newTestStorage(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return now }

	raw, err := s.PresignGet(context.Background(), "acme/u/uploads/1/temp/1.raw", time.Hour)
	if err != nil {
		t.Fatalf("PresignGet() error = %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if u.Path != "/v1/objects/acme/u/uploads/1/temp/1.raw" {
		t.Fatalf("unexpected path %s", u.Path)
	}
	q := u.Query()
	if err := s.Verify("acme/u/uploads/1/temp/1.raw", q.Get("expires"), q.Get("sig")); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if err := s.Verify("acme/u/uploads/1/temp/other.raw", q.Get("expires"), q.Get("sig")); err == nil {
		t.Fatalf("expected signature mismatch for another key")
	}

	now = now.Add(2 * time.Hour)
	if err := s.Verify("acme/u/uploads/1/temp/1.raw", q.Get("expires"), q.Get("sig")); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected expired url, got %v", err)
	}
}

func TestPresignRequiresConfiguration(t *testing.T) {
	s, err := New(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := s.PresignGet(context.Background(), "k", time.Minute); err == nil {
		t.Fatalf("expected error without signing key")
	}
}
