package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/platemate/order-core/internal/orders"
	"github.com/platemate/order-core/pkg/apperrors"
)

// PaymentHandler reconciles one payment fact against order state.
type PaymentHandler interface {
	ReconcilePayment(ctx context.Context, fact orders.PaymentFact) error
}

// ConsumerMetrics tracks consumption outcomes. Counters are atomic so
// callers can read them while the consumer loop is running.
type ConsumerMetrics struct {
	Processed int64
	Malformed int64
	Failed    int64
}

// PaymentConsumer consumes payment_events at least once. Handlers are
// idempotent, so redelivery after a crash is safe. Malformed messages
// are dead-lettered and acknowledged; handler errors leave the offset
// unmarked so the message is redelivered.
type PaymentConsumer struct {
	consumerGroup sarama.ConsumerGroup
	producer      sarama.SyncProducer
	handler       PaymentHandler
	logger        *logrus.Logger
	metrics       *ConsumerMetrics
	topics        []string
}

type paymentGroupHandler struct {
	handler  PaymentHandler
	producer sarama.SyncProducer
	logger   *logrus.Logger
	metrics  *ConsumerMetrics
}

func NewPaymentConsumer(brokers, groupID string, handler PaymentHandler, logger *logrus.Logger) (*PaymentConsumer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), groupID, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment consumer: %w", err)
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), producerConfig)
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create DLQ producer: %w", err)
	}

	return &PaymentConsumer{
		consumerGroup: consumerGroup,
		producer:      producer,
		handler:       handler,
		logger:        logger,
		metrics:       &ConsumerMetrics{},
		topics:        []string{PaymentEventsTopic},
	}, nil
}

func (c *PaymentConsumer) Start(ctx context.Context) error {
	handler := &paymentGroupHandler{
		handler:  c.handler,
		producer: c.producer,
		logger:   c.logger,
		metrics:  c.metrics,
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Payment consumer context cancelled")
			return nil
		default:
			if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
				c.logger.WithError(err).Error("Error consuming payment events")
				return err
			}
		}
	}
}

func (c *PaymentConsumer) Metrics() ConsumerMetrics {
	return ConsumerMetrics{
		Processed: atomic.LoadInt64(&c.metrics.Processed),
		Malformed: atomic.LoadInt64(&c.metrics.Malformed),
		Failed:    atomic.LoadInt64(&c.metrics.Failed),
	}
}

func (c *PaymentConsumer) Close() error {
	if err := c.consumerGroup.Close(); err != nil {
		c.producer.Close()
		return err
	}
	return c.producer.Close()
}

func (h *paymentGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Payment consumer group session setup")
	return nil
}

func (h *paymentGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Payment consumer group session cleanup")
	return nil
}

func (h *paymentGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			fact, decodeErr := decodePaymentMessage(message.Value)
			if decodeErr != nil {
				h.logger.WithError(decodeErr).WithFields(logrus.Fields{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Warn("Malformed payment event, routing to DLQ")
				atomic.AddInt64(&h.metrics.Malformed, 1)

				if dlqErr := h.sendToDLQ(message, decodeErr); dlqErr != nil {
					h.logger.WithError(dlqErr).Error("Failed to send payment event to DLQ")
					// Do not ack; redeliver so the event is not dropped.
					continue
				}
				session.MarkMessage(message, "")
				continue
			}

			err := h.handler.ReconcilePayment(session.Context(), fact)
			if err != nil {
				var validationErr *apperrors.ValidationError
				if errors.As(err, &validationErr) {
					// Retrying cannot fix a semantically invalid event.
					h.logger.WithError(err).WithField("order_id", fact.OrderID).Warn("Unprocessable payment event, routing to DLQ")
					atomic.AddInt64(&h.metrics.Malformed, 1)
					if dlqErr := h.sendToDLQ(message, err); dlqErr != nil {
						h.logger.WithError(dlqErr).Error("Failed to send payment event to DLQ")
						continue
					}
					session.MarkMessage(message, "")
					continue
				}

				h.logger.WithError(err).WithField("order_id", fact.OrderID).Error("Failed to reconcile payment event")
				atomic.AddInt64(&h.metrics.Failed, 1)
				// Leave the offset unmarked so the broker redelivers.
				continue
			}

			atomic.AddInt64(&h.metrics.Processed, 1)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			h.logger.Info("Payment consumer session context cancelled")
			return nil
		}
	}
}

// decodePaymentMessage validates the envelope far enough to address an
// order. Anything that fails here is malformed by definition.
func decodePaymentMessage(value []byte) (orders.PaymentFact, error) {
	var envelope PaymentEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return orders.PaymentFact{}, fmt.Errorf("invalid payment event JSON: %w", err)
	}
	if envelope.Event == "" {
		return orders.PaymentFact{}, fmt.Errorf("payment event missing event type")
	}
	if envelope.Payload.OrderID == "" {
		return orders.PaymentFact{}, fmt.Errorf("payment event missing order_id")
	}

	return orders.PaymentFact{
		Type:      envelope.Event,
		OrderID:   envelope.Payload.OrderID,
		PaymentID: envelope.Payload.PaymentID,
		RefundID:  envelope.Payload.RefundID,
		Amount:    envelope.Payload.Amount,
	}, nil
}

func (h *paymentGroupHandler) sendToDLQ(message *sarama.ConsumerMessage, cause error) error {
	metadata := DLQMetadata{
		FailedAt:      time.Now(),
		OriginalTopic: message.Topic,
		ErrorMessage:  cause.Error(),
	}

	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ metadata: %w", err)
	}

	dlqMessage := &sarama.ProducerMessage{
		Topic: PaymentEventsDLQTopic,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("metadata"),
				Value: metadataBytes,
			},
			{
				Key:   []byte("original_topic"),
				Value: []byte(message.Topic),
			},
		},
	}

	_, _, err = h.producer.SendMessage(dlqMessage)
	return err
}
