// Package worker drains the outbox table into a broker.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tumi/internal/outbox/models"
	"tumi/pkg/platform/tx"
)

type Store interface {
	FetchUnpublished(ctx context.Context, limit int) ([]models.Message, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

type Publisher interface {
	Publish(ctx context.Context, m models.Message) error
}

// Worker polls the outbox and publishes unpublished rows in creation order.
// Delivery is at least once: a crash between publish and mark re-sends.
type Worker struct {
	store     Store
	publisher Publisher
	runner    tx.Runner
	logger    *slog.Logger
	metrics   *Metrics
	interval  time.Duration
	batch     int
	now       func() time.Time
}

type Option func(*Worker)

func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batch = n
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

func withClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func New(store Store, publisher Publisher, runner tx.Runner, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		store:     store,
		publisher: publisher,
		runner:    runner,
		logger:    logger,
		interval:  2 * time.Second,
		batch:     100,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run flushes on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.InfoContext(ctx, "outbox worker started", "interval", w.interval.String(), "batch", w.batch)
	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "outbox worker stopped")
			return nil
		case <-ticker.C:
			if _, err := w.Flush(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "outbox flush failed", "error", err)
			}
		}
	}
}

// Flush publishes one batch and returns how many messages were marked.
// Publishing stops at the first failure; messages sent before it are still
// marked so they are not re-sent.
func (w *Worker) Flush(ctx context.Context) (int, error) {
	var published int
	err := w.runner.RunInTx(ctx, func(ctx context.Context) error {
		msgs, err := w.store.FetchUnpublished(ctx, w.batch)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		sent := make([]uuid.UUID, 0, len(msgs))
		var pubErr error
		for _, m := range msgs {
			if err := w.publisher.Publish(ctx, m); err != nil {
				pubErr = err
				w.metrics.observe(m.EventType, false)
				break
			}
			w.metrics.observe(m.EventType, true)
			sent = append(sent, m.ID)
		}

		if err := w.store.MarkPublished(ctx, sent, w.now()); err != nil {
			return err
		}
		published = len(sent)
		if pubErr != nil {
			w.logger.WarnContext(ctx, "outbox publish failed",
				"error", pubErr,
				"published", published,
				"pending", len(msgs)-published,
			)
		}
		return nil
	})
	return published, err
}
