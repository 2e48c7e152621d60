package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/core/ports"
)

// StageMetrics observes each stage invocation.
type StageMetrics interface {
	StartStage(stage string)
	FinishStage(stage string, duration time.Duration, statusCode int)
}

// Dispatcher subscribes every configured stage on the queue and runs its
// handler with a per-event deadline.
type Dispatcher struct {
	queue   ports.StageQueue
	stages  map[domain.Stage]ports.StageHandler
	metrics StageMetrics
	timeout time.Duration
	now     func() time.Time
}

func NewDispatcher(queue ports.StageQueue, stages map[domain.Stage]ports.StageHandler, metrics StageMetrics, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Dispatcher{
		queue:   queue,
		stages:  stages,
		metrics: metrics,
		timeout: timeout,
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled or one subscription fails.
func (d *Dispatcher) Run(ctx context.Context) error {
	names := make([]string, 0, len(d.stages))
	for stage := range d.stages {
		names = append(names, string(stage))
	}
	sort.Strings(names)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range names {
		stage := domain.Stage(name)
		handler := d.stages[stage]
		group.Go(func() error {
			slog.Info("worker_subscribed", "stage", name)
			if err := d.queue.Subscribe(groupCtx, stage, d.handlerFor(stage, handler)); err != nil {
				return fmt.Errorf("subscribe %s: %w", name, err)
			}
			return nil
		})
	}
	return group.Wait()
}

func (d *Dispatcher) handlerFor(stage domain.Stage, handler ports.StageHandler) func(context.Context, domain.StageEvent) error {
	return func(ctx context.Context, event domain.StageEvent) error {
		result := d.Dispatch(ctx, stage, handler, event)
		if result.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("stage %s returned %d: %s", stage, result.StatusCode, result.Message)
		}
		return nil
	}
}

// Dispatch runs one event through handler and records the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, stage domain.Stage, handler ports.StageHandler, event domain.StageEvent) domain.StageResult {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := d.now()
	if d.metrics != nil {
		d.metrics.StartStage(string(stage))
	}
	result := handler.Handle(ctx, event)
	elapsed := d.now().Sub(start)
	if d.metrics != nil {
		d.metrics.FinishStage(string(stage), elapsed, result.StatusCode)
	}

	attrs := []any{
		"stage", string(stage),
		"upload_id", event.UploadID,
		"conversion_id", event.ConversionID,
		"status_code", result.StatusCode,
		"duration_ms", elapsed.Milliseconds(),
		"message", result.Message,
	}
	switch {
	case result.StatusCode >= http.StatusInternalServerError:
		slog.Error("stage_completed", attrs...)
	case result.StatusCode >= http.StatusBadRequest:
		slog.Warn("stage_completed", attrs...)
	default:
		slog.Info("stage_completed", attrs...)
	}
	return result
}
