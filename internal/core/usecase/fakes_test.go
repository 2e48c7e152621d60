package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/core/ports"
)

type memoryStorage struct {
	mu         sync.Mutex
	objects    map[string][]byte
	order      []string
	saveErr    error
	putErr     error
	presignErr error
	listErr    error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: map[string][]byte{}}
}

func (s *memoryStorage) store(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		s.order = append(s.order, key)
	}
	s.objects[key] = data
}

func (s *memoryStorage) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

func (s *memoryStorage) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.order...)
	return out
}

func (s *memoryStorage) Save(_ context.Context, key string, data io.Reader) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.store(key, raw)
	return nil
}

func (s *memoryStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.get(key)
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memoryStorage) List(_ context.Context, prefix string) ([]ports.ObjectInfo, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []ports.ObjectInfo
	for _, key := range s.keys() {
		if strings.HasPrefix(key, prefix) {
			data, _ := s.get(key)
			out = append(out, ports.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (s *memoryStorage) FetchToLocal(_ context.Context, key, dir string) (string, error) {
	data, ok := s.get(key)
	if !ok {
		return "", fmt.Errorf("object %s not found", key)
	}
	local := filepath.Join(dir, path.Base(key))
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return "", err
	}
	return local, nil
}

func (s *memoryStorage) Put(_ context.Context, localPath, key string) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	s.store(key, data)
	return nil
}

func (s *memoryStorage) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if s.presignErr != nil {
		return "", s.presignErr
	}
	return "https://objects.test/" + key + "?sig=x", nil
}

type uploadRepoFake struct {
	mu        sync.Mutex
	uploads   map[string]*domain.Upload
	statuses  []domain.UploadStatus
	history   []domain.StatusEvent
	createErr error
	statusErr error
	histErr   error
}

func newUploadRepoFake() *uploadRepoFake {
	return &uploadRepoFake{uploads: map[string]*domain.Upload{}}
}

func (f *uploadRepoFake) Create(_ context.Context, upload *domain.Upload) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copyUpload := *upload
	f.uploads[upload.ID] = &copyUpload
	return nil
}

func (f *uploadRepoFake) GetByID(_ context.Context, id string) (*domain.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	upload, ok := f.uploads[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrUploadNotFound, "get upload", fmt.Errorf("id=%s", id))
	}
	copyUpload := *upload
	return &copyUpload, nil
}

func (f *uploadRepoFake) UpdateStatus(_ context.Context, _ string, status domain.UploadStatus, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return f.statusErr
}

func (f *uploadRepoFake) InsertStatusEvent(_ context.Context, event domain.StatusEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.histErr != nil {
		return f.histErr
	}
	f.history = append(f.history, event)
	return nil
}

func (f *uploadRepoFake) UpdateStatusEvent(context.Context, string, domain.UploadStatus, string) error {
	return nil
}

func (f *uploadRepoFake) lastStatus() domain.UploadStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

type notifierFake struct {
	mu        sync.Mutex
	errors    []domain.ErrorNotice
	successes []domain.SuccessNotice
}

func (n *notifierFake) NotifyError(_ context.Context, notice domain.ErrorNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, notice)
	return nil
}

func (n *notifierFake) NotifySuccess(_ context.Context, notice domain.SuccessNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, notice)
	return nil
}

func (n *notifierFake) errorTypes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.errors))
	for _, e := range n.errors {
		out = append(out, e.Type)
	}
	return out
}

type published struct {
	stage domain.Stage
	event domain.StageEvent
}

type queueFake struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (q *queueFake) Publish(_ context.Context, stage domain.Stage, event domain.StageEvent) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, published{stage: stage, event: event})
	return nil
}

func (q *queueFake) Subscribe(context.Context, domain.Stage, func(context.Context, domain.StageEvent) error) error {
	return errors.New("not implemented")
}

// parserFake returns prepared images keyed by file base name.
type parserFake struct {
	images map[string]*domain.ParsedImage
}

func (p *parserFake) Parse(_ context.Context, file string) (*domain.ParsedImage, error) {
	img, ok := p.images[filepath.Base(file)]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotDICOM, "parse dicom", fmt.Errorf("%s", file))
	}
	copyImg := *img
	copyImg.Path = file
	return &copyImg, nil
}

// extractorFake writes the configured files into destDir.
type extractorFake struct {
	files map[string]string
	err   error
}

func (e *extractorFake) Extract(_ context.Context, _ string, destDir string) ([]string, error) {
	if e.err != nil {
		return nil, e.err
	}
	names := make([]string, 0, len(e.files))
	for name := range e.files {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		full := filepath.Join(destDir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(full, []byte(e.files[name]), 0o644); err != nil {
			return nil, err
		}
		out = append(out, full)
	}
	return out, nil
}

type hierarchyStoreFake struct {
	series    []domain.SeriesRecord
	patients  []domain.PatientRecord
	seriesErr error
}

func (h *hierarchyStoreFake) SaveSeries(_ context.Context, records []domain.SeriesRecord) error {
	if h.seriesErr != nil {
		return h.seriesErr
	}
	h.series = append(h.series, records...)
	return nil
}

func (h *hierarchyStoreFake) SavePatients(_ context.Context, records []domain.PatientRecord) error {
	h.patients = append(h.patients, records...)
	return nil
}

type conversionRepoFake struct {
	mu          sync.Mutex
	conversions map[string]*domain.Conversion
	created     []string
	createErr   error
	completed   map[string]*string
	failed      map[string]string
}

func newConversionRepoFake() *conversionRepoFake {
	return &conversionRepoFake{
		conversions: map[string]*domain.Conversion{},
		completed:   map[string]*string{},
		failed:      map[string]string{},
	}
}

func (c *conversionRepoFake) CreateConversion(_ context.Context, conversion *domain.Conversion) error {
	if c.createErr != nil {
		return c.createErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	copyConv := *conversion
	c.conversions[conversion.ID] = &copyConv
	c.created = append(c.created, conversion.ID)
	return nil
}

func (c *conversionRepoFake) GetConversion(_ context.Context, id string) (*domain.Conversion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrConversionNotFound, "get conversion", fmt.Errorf("id=%s", id))
	}
	copyConv := *conv
	return &copyConv, nil
}

func (c *conversionRepoFake) ListByUpload(_ context.Context, uploadID string) ([]domain.Conversion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Conversion
	for _, id := range c.created {
		if conv := c.conversions[id]; conv.UploadID == uploadID {
			out = append(out, *conv)
		}
	}
	return out, nil
}

func (c *conversionRepoFake) CompleteConversion(_ context.Context, id string, illustrationURL *string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed[id] = illustrationURL
	return nil
}

func (c *conversionRepoFake) FailConversion(_ context.Context, id string, errMessage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed[id] = errMessage
	return nil
}

type metadataStoreFake struct {
	images  []domain.ImageRecord
	batches [][]domain.MetadataEntry
	err     error
}

func (m *metadataStoreFake) InsertImage(_ context.Context, image domain.ImageRecord) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.images = append(m.images, image)
	return fmt.Sprintf("image-%d", len(m.images)), nil
}

func (m *metadataStoreFake) InsertMetadata(_ context.Context, _ string, entries []domain.MetadataEntry) error {
	batch := append([]domain.MetadataEntry(nil), entries...)
	m.batches = append(m.batches, batch)
	return nil
}

type metricsFake struct {
	parsed, skipped int
	volumes         int
}

func (m *metricsFake) FilesParsed(_ string, parsed, skipped int) {
	m.parsed += parsed
	m.skipped += skipped
}

func (m *metricsFake) VolumeWritten(string, int, int) {
	m.volumes++
}

func testEvent() domain.StageEvent {
	return domain.StageEvent{
		CompanyID: "acme",
		UserID:    "user-1",
		UploadID:  "upload-1",
		StatusID:  "status-1",
	}
}
