package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/dicom-pipeline/internal/core/domain"
	"github.com/kirillkom/dicom-pipeline/internal/infrastructure/resilience"
)

// Queue carries stage events on <prefix>.<stage> and notices on
// <prefix>.notify.error / <prefix>.notify.success.
type Queue struct {
	conn     *nats.Conn
	prefix   string
	group    string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	QueueGroup           string
	ResilienceExecutor   *resilience.Executor
}

func New(url, prefix string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("dicom-pipeline"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newQueue(conn, prefix, options), nil
}

func newQueue(conn *nats.Conn, prefix string, options Options) *Queue {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "dicom"
	}
	group := options.QueueGroup
	if group == "" {
		group = "workers"
	}
	return &Queue{
		conn:     conn,
		prefix:   prefix,
		group:    group,
		executor: options.ResilienceExecutor,
	}
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) Subject(stage domain.Stage) string {
	return q.prefix + "." + string(stage)
}

func (q *Queue) Publish(ctx context.Context, stage domain.Stage, event domain.StageEvent) error {
	return q.publishJSON(ctx, q.Subject(stage), event)
}

func (q *Queue) publishJSON(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", subject, err)
	}
	call := func(_ context.Context) error {
		if err := q.conn.Publish(subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	return resilience.WrapTemporary("nats publish", err, classifyNATSError)
}

// Subscribe delivers stage events to handler until ctx is cancelled, then
// drains the subscription.
func (q *Queue) Subscribe(ctx context.Context, stage domain.Stage, handler func(context.Context, domain.StageEvent) error) error {
	subject := q.Subject(stage)
	sub, err := q.conn.QueueSubscribe(subject, q.group+"-"+string(stage), func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		var event domain.StageEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Error("stage_event_invalid", "subject", subject, "error", err.Error())
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, event); err != nil {
			slog.Error("stage_handler_failed", "subject", subject, "upload_id", event.UploadID, "error", err.Error())
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// Notifier publishes user notices on the queue connection.
type Notifier struct {
	queue *Queue
}

func NewNotifier(queue *Queue) *Notifier {
	return &Notifier{queue: queue}
}

func (n *Notifier) NotifyError(ctx context.Context, notice domain.ErrorNotice) error {
	return n.queue.publishJSON(ctx, n.queue.prefix+".notify.error", notice)
}

func (n *Notifier) NotifySuccess(ctx context.Context, notice domain.SuccessNotice) error {
	return n.queue.publishJSON(ctx, n.queue.prefix+".notify.success", notice)
}
