package nats

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/tax-document-intelligence/internal/core/domain"
	"github.com/kirillkom/tax-document-intelligence/internal/infrastructure/resilience"
	"github.com/kirillkom/tax-document-intelligence/internal/observability/logging"
)

const (
	publishOperation = "nats.publish"
	workerGroup      = "extraction-workers"
	drainTimeout     = 5 * time.Second
)

// submission is the body of a document-submitted message.
type submission struct {
	DocumentID  string    `json:"document_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Queue hands uploaded documents to workers over a NATS queue group and
// fans pipeline alerts out on a separate subject.
type Queue struct {
	conn         *nats.Conn
	subject      string
	alertSubject string
	executor     *resilience.Executor
	logger       *slog.Logger
}

type Options struct {
	Subject        string
	AlertSubject   string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	Executor       *resilience.Executor
}

// Connect dials url and keeps retrying in the background if the server is
// not up yet, so the API can start before the broker.
func Connect(url string, opts Options) (*Queue, error) {
	if strings.TrimSpace(opts.Subject) == "" {
		return nil, fmt.Errorf("nats: document subject is required")
	}
	logger := logging.Component("nats").With("subject", opts.Subject)
	conn, err := nats.Connect(url,
		nats.Name("tax-document-intelligence"),
		nats.Timeout(cmp.Or(opts.ConnectTimeout, 2*time.Second)),
		nats.ReconnectWait(cmp.Or(opts.ReconnectWait, 2*time.Second)),
		nats.MaxReconnects(cmp.Or(opts.MaxReconnects, 60)),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:         conn,
		subject:      opts.Subject,
		alertSubject: opts.AlertSubject,
		executor:     opts.Executor,
		logger:       logger,
	}, nil
}

func (q *Queue) Close() {
	q.conn.Close()
}

func (q *Queue) Ping(context.Context) error {
	if !q.conn.IsConnected() {
		return fmt.Errorf("nats %s: %w", q.conn.Status(), nats.ErrDisconnected)
	}
	return nil
}

func (q *Queue) PublishDocumentSubmitted(ctx context.Context, documentID string) error {
	payload, err := json.Marshal(submission{DocumentID: documentID, SubmittedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	return q.publish(ctx, q.subject, payload)
}

// PublishAlert is an alert subscriber; delivery failures are only logged.
func (q *Queue) PublishAlert(alert domain.Alert) {
	if q.alertSubject == "" {
		return
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		q.logger.Error("alert_encode_failed", "alert_type", alert.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := q.publish(ctx, q.alertSubject, payload); err != nil {
		q.logger.Warn("alert_publish_failed", "alert_type", alert.Type, "error", err)
	}
}

func (q *Queue) publish(ctx context.Context, subject string, payload []byte) error {
	send := func(context.Context) error {
		if err := q.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish %s: %w", subject, err)
		}
		return nil
	}
	if q.executor == nil {
		return publishFailure(send(ctx))
	}
	return publishFailure(q.executor.Execute(ctx, publishOperation, send, classifyPublishError))
}

// decodeSubmission also accepts a bare document ID.
func decodeSubmission(data []byte) submission {
	var s submission
	if err := json.Unmarshal(data, &s); err == nil && s.DocumentID != "" {
		return s
	}
	return submission{DocumentID: strings.TrimSpace(string(data))}
}

// SubscribeDocumentSubmitted joins the worker queue group and blocks until
// ctx ends, then drains so in-flight messages are still delivered.
func (q *Queue) SubscribeDocumentSubmitted(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerGroup, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		s := decodeSubmission(msg.Data)
		if s.DocumentID == "" {
			q.logger.Warn("submission_without_document_id", "bytes", len(msg.Data))
			return
		}
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, s.DocumentID); err != nil {
			q.logger.Error("worker_handler_failed", "document_id", s.DocumentID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(drainTimeout); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
