package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"kinledger/internal/platform/kafka"
	id "kinledger/pkg/domain"
	txcontext "kinledger/pkg/platform/tx"
)

// Publisher delivers a batch of records, all or nothing.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

type Metrics struct {
	Published *prometheus.CounterVec
	Failures  prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kinledger_outbox_published_total",
			Help: "Outbox messages published, by topic",
		}, []string{"topic"}),
		Failures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "kinledger_outbox_publish_failures_total",
			Help: "Outbox batches that failed to publish",
		}),
	}
}

func (m *Metrics) published(topic string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(topic).Inc()
}

func (m *Metrics) failed() {
	if m == nil {
		return
	}
	m.Failures.Inc()
}

// Worker relays unpublished messages to the publisher. Delivery is at least
// once: a crash between publish and commit republishes the batch.
type Worker struct {
	store     Store
	tx        txcontext.Runner
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *Metrics
}

type WorkerOption func(*Worker)

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

func WithWorkerMetrics(m *Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

func WithBatch(interval time.Duration, size int) WorkerOption {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
		if size > 0 {
			w.batchSize = size
		}
	}
}

func NewWorker(store Store, tx txcontext.Runner, publisher Publisher, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:     store,
		tx:        tx,
		publisher: publisher,
		interval:  time.Second,
		batchSize: 100,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Flush(ctx); err != nil {
				w.logger.ErrorContext(ctx, "outbox flush failed", "error", err)
			}
		}
	}
}

// Flush publishes one batch and returns how many messages went out.
func (w *Worker) Flush(ctx context.Context) (int, error) {
	sent := 0
	err := w.tx.RunInTx(ctx, func(ctx context.Context) error {
		batch, err := w.store.Claim(ctx, w.batchSize)
		if err != nil || len(batch) == 0 {
			return err
		}
		ids := make([]id.MessageID, len(batch))
		records := make([]kafka.Message, len(batch))
		for i, m := range batch {
			ids[i] = m.ID
			records[i] = kafka.Message{
				Topic: m.Topic,
				Key:   m.Key,
				Value: m.Payload,
				Headers: map[string]string{
					"event_type": m.EventType,
					"message_id": m.ID.String(),
				},
			}
		}
		if err := w.publisher.Publish(ctx, records...); err != nil {
			w.metrics.failed()
			w.logger.WarnContext(ctx, "outbox publish failed",
				"batch_size", len(batch),
				"error", err,
			)
			return w.store.MarkAttempted(ctx, ids)
		}
		if err := w.store.MarkPublished(ctx, ids, time.Now().UTC()); err != nil {
			return err
		}
		for _, m := range batch {
			w.metrics.published(m.Topic)
		}
		sent = len(batch)
		return nil
	})
	return sent, err
}

// LogPublisher writes records to the log instead of Kafka. It is used when
// no brokers are configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		p.Logger.InfoContext(ctx, "outbox message",
			"topic", m.Topic,
			"key", m.Key,
			"event_type", m.Headers["event_type"],
		)
	}
	return nil
}
