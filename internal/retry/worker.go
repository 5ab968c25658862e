// Package retry periodically re-scans queued messages and pushes them
// back through the delivery client. It is the higher-level retry loop
// the delivery client itself deliberately lacks.
package retry

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/sms-router/internal/models"
	"github.com/example/sms-router/internal/router"
	"github.com/example/sms-router/internal/store"
)

// Config tunes the worker.
type Config struct {
	// PollInterval is the delay between store scans.
	PollInterval time.Duration
	// Concurrency bounds the number of in-flight delivery attempts.
	Concurrency int
}

// Worker redelivers queued messages. A first pass drains the backlog
// seeded at router startup; subsequent passes scan the store.
type Worker struct {
	cfg       Config
	logger    zerolog.Logger
	store     store.Store
	deliverer router.Deliverer
	events    router.EventPublisher

	seed []*models.Message

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New constructs a retry worker. events may be nil.
func New(cfg Config, st store.Store, deliverer router.Deliverer, events router.EventPublisher, logger zerolog.Logger) (*Worker, error) {
	if st == nil {
		return nil, errors.New("retry worker: store dependency is required")
	}
	if deliverer == nil {
		return nil, errors.New("retry worker: deliverer dependency is required")
	}
	if cfg.Concurrency < 1 {
		return nil, errors.New("retry worker: concurrency must be >= 1")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	return &Worker{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		deliverer: deliverer,
		events:    events,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
	}, nil
}

// Seed supplies the queued backlog hydrated at router startup; the
// worker delivers it on its first pass instead of scanning the store.
func (w *Worker) Seed(backlog []*models.Message) {
	w.seed = backlog
}

// Run blocks, redelivering queued messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("concurrency", w.cfg.Concurrency).
		Msg("retry worker started")

	// First pass: the hydrated backlog when seeded, a store scan
	// otherwise, so queued messages do not wait out a full interval.
	if len(w.seed) > 0 {
		w.deliverBatch(ctx, w.seed)
		w.seed = nil
	} else if queued, err := w.store.FindByStatus(ctx, models.StatusQueued); err == nil {
		w.deliverBatch(ctx, queued)
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			queued, err := w.store.FindByStatus(ctx, models.StatusQueued)
			if err != nil {
				w.logger.Error().Err(err).Msg("retry worker: queued scan failed")
				continue
			}
			w.deliverBatch(ctx, queued)
		}
	}
}

func (w *Worker) deliverBatch(ctx context.Context, batch []*models.Message) {
	if len(batch) == 0 {
		return
	}
	w.logger.Debug().Int("count", len(batch)).Msg("retry worker: redelivering queued messages")

	for _, msg := range batch {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return
		}
		w.wg.Add(1)
		go func(msg *models.Message) {
			defer w.wg.Done()
			defer w.sem.Release(1)
			w.redeliver(ctx, msg)
		}(msg)
	}
}

func (w *Worker) redeliver(ctx context.Context, msg *models.Message) {
	status := w.deliverer.Deliver(ctx, msg, nil)
	if status != models.StatusSent {
		// still queued; the next scan will pick it up again
		return
	}

	if err := w.store.UpdateStatus(ctx, msg.ID, models.StatusSent); err != nil {
		w.logger.Error().Err(err).Str("message_id", msg.ID).Msg("retry worker: record sent failed")
		return
	}
	w.logger.Info().Str("message_id", msg.ID).Msg("retry worker: queued message delivered")

	if w.events != nil {
		event := models.MessageEvent{
			MessageID:    msg.ID,
			Backend:      msg.Connection.Backend,
			Identity:     msg.Connection.Identity,
			Direction:    msg.Direction,
			EventType:    models.EventSent,
			Text:         msg.Text,
			InResponseTo: msg.InResponseTo,
			Timestamp:    time.Now().UTC(),
		}
		if err := w.events.PublishEvent(ctx, event); err != nil {
			w.logger.Error().Err(err).Str("message_id", msg.ID).Msg("retry worker: publish event failed")
		}
	}
}
