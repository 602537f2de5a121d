package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"byteme/database"
	"byteme/models"
	"byteme/rabbitmq"
	"byteme/utils"
)

var outboxBacklog = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "byteme",
	Subsystem: "outbox",
	Name:      "pending_events",
	Help:      "Outbox events not yet published.",
})

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type OutboxStore interface {
	FetchPending(ctx context.Context, tx *sql.Tx, limit int, now time.Time) ([]models.OutboxEvent, error)
	Claim(ctx context.Context, q database.Querier, ids []string, until time.Time) error
	MarkPublished(ctx context.Context, q database.Querier, id string) error
	RecordFailure(ctx context.Context, q database.Querier, id, lastError string, retryAt time.Time) error
	CountPending(ctx context.Context) (int, error)
}

// FlushStats describes one batch.
type FlushStats struct {
	Fetched   int
	Published int
	Failed    int
}

// OutboxRelay publishes outbox events written by the order service.
type OutboxRelay struct {
	db        TxRunner
	store     OutboxStore
	publisher rabbitmq.Publisher
	interval  time.Duration
	batchSize int
	lease     time.Duration
	maxRetry  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

func NewOutboxRelay(db TxRunner, store OutboxStore, publisher rabbitmq.Publisher, interval time.Duration, batchSize int, logger *zap.Logger) *OutboxRelay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &OutboxRelay{
		db:        db,
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		lease:     30 * time.Second,
		maxRetry:  5 * time.Minute,
		now:       time.Now,
		logger:    logger.With(zap.String("component", "outbox_relay")),
	}
}

// Run flushes the outbox every interval until ctx is cancelled. A full,
// clean batch is followed by another flush straight away; a batch with
// failures waits for the next tick.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			for {
				stats, err := r.Flush(ctx)
				if err != nil {
					if ctx.Err() == nil {
						r.logger.Error("flushing outbox failed", zap.Error(err))
					}
					break
				}
				if stats.Fetched < r.batchSize || stats.Failed > 0 {
					break
				}
			}
			r.observeBacklog(ctx)
		}
	}
}

func (r *OutboxRelay) observeBacklog(ctx context.Context) {
	n, err := r.store.CountPending(ctx)
	if err != nil {
		r.logger.Debug("counting pending outbox events failed", zap.Error(err))
		return
	}
	outboxBacklog.Set(float64(n))
}

// Flush claims one batch of due events and publishes it outside the
// claiming transaction. An event that fails stays pending and is retried
// after a backoff; events the batch had no time for come back when their
// lease expires.
func (r *OutboxRelay) Flush(ctx context.Context) (FlushStats, error) {
	var (
		stats  FlushStats
		events []models.OutboxEvent
	)
	now := r.now()
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		events, err = r.store.FetchPending(ctx, tx, r.batchSize, now)
		if err != nil {
			return err
		}
		ids := make([]string, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		return r.store.Claim(ctx, tx, ids, now.Add(r.lease))
	})
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(events)

	publishCtx, cancel := context.WithTimeout(ctx, r.lease)
	defer cancel()

	for _, e := range events {
		if publishCtx.Err() != nil {
			break
		}
		log := r.logger.With(
			zap.String("eventId", e.ID),
			zap.String("exchange", e.Exchange),
			zap.String("routingKey", e.RoutingKey),
		)

		if pubErr := r.publish(publishCtx, e); pubErr != nil {
			stats.Failed++
			retryAt := r.now().Add(utils.Backoff(e.Attempts+1, r.interval, r.maxRetry))
			if errors.Is(pubErr, rabbitmq.ErrDelayedUnavailable) {
				// 延迟插件缺失，等插件装好后再投递
				retryAt = r.now().Add(r.maxRetry)
			}
			log.Warn("publishing outbox event failed",
				zap.Int("attempts", e.Attempts+1),
				zap.Time("retryAt", retryAt),
				zap.Error(pubErr),
			)
			if err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
				return r.store.RecordFailure(ctx, tx, e.ID, pubErr.Error(), retryAt)
			}); err != nil {
				return stats, err
			}
			continue
		}

		if err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
			return r.store.MarkPublished(ctx, tx, e.ID)
		}); err != nil {
			return stats, err
		}
		stats.Published++
		log.Debug("outbox event published")
	}
	return stats, nil
}

func (r *OutboxRelay) publish(ctx context.Context, e models.OutboxEvent) error {
	opts := []rabbitmq.PublishOption{rabbitmq.WithMessageID(e.ID)}
	if e.Priority > 0 {
		opts = append(opts, rabbitmq.WithPriority(e.Priority))
	}
	if e.Delay > 0 {
		return r.publisher.PublishDelayed(ctx, e.RoutingKey, e.Payload, e.Delay, opts...)
	}
	return r.publisher.Publish(ctx, e.Exchange, e.RoutingKey, e.Payload, opts...)
}
