package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platemate/order-core/pkg/models"
)

// OutboxSource is the slice of the order store the drain worker needs.
type OutboxSource interface {
	FetchUnpublished(ctx context.Context, limit int) ([]models.OutboxEntry, error)
	MarkPublished(ctx context.Context, id int64) error
}

// Publisher abstracts the Kafka producer so the worker can be tested
// without a broker.
type Publisher interface {
	Publish(topic, key string, value []byte) error
}

// DrainWorker polls the outbox table and republishes pending rows to
// Kafka. Rows are only marked published after the broker acknowledges
// the write, so a crash between publish and mark yields a duplicate,
// never a loss.
type DrainWorker struct {
	source    OutboxSource
	publisher Publisher
	logger    *logrus.Logger
	interval  time.Duration
	batchSize int
}

func NewDrainWorker(source OutboxSource, publisher Publisher, logger *logrus.Logger, interval time.Duration, batchSize int) *DrainWorker {
	return &DrainWorker{
		source:    source,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

func (w *DrainWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.WithField("interval", w.interval.String()).Info("Outbox drain worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Outbox drain worker stopped")
			return
		case <-ticker.C:
			if err := w.DrainOnce(ctx); err != nil {
				w.logger.WithError(err).Error("Outbox drain pass failed")
			}
		}
	}
}

// DrainOnce publishes one batch of unpublished rows in insertion order.
// A publish failure stops the pass so ordering per order is preserved;
// the failed row is retried on the next tick.
func (w *DrainWorker) DrainOnce(ctx context.Context) error {
	entries, err := w.source.FetchUnpublished(ctx, w.batchSize)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		// The event id was fixed when the row was written; republishing
		// after a partial failure keeps it, so duplicates are detectable.
		envelope := Envelope{
			EventID:   entry.EventID,
			Event:     entry.EventType,
			Payload:   entry.Payload,
			EmittedAt: time.Now(),
			Source:    "order-service",
		}

		data, err := json.Marshal(envelope)
		if err != nil {
			w.logger.WithError(err).WithField("outbox_id", entry.ID).Error("Failed to marshal outbox envelope")
			return err
		}

		if err := w.publisher.Publish(OrderEventsTopic, entry.AggregateID, data); err != nil {
			return err
		}

		if err := w.source.MarkPublished(ctx, entry.ID); err != nil {
			w.logger.WithError(err).WithField("outbox_id", entry.ID).Error("Failed to mark outbox entry published")
			return err
		}

		w.logger.WithFields(logrus.Fields{
			"outbox_id": entry.ID,
			"event":     entry.EventType,
			"order_id":  entry.AggregateID,
		}).Info("Outbox entry published")
	}

	return nil
}
