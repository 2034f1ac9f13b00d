package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	appconfig "github.com/platemate/order-core/internal/config"
	"github.com/platemate/order-core/internal/events"
)

// dlq-monitor tails payment_events.dlq and surfaces dead-lettered
// payment events for operators. It never mutates order state.
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg := appconfig.Load()

	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Version = sarama.V2_6_0_0

	consumer, err := sarama.NewConsumerGroup(strings.Split(cfg.KafkaBrokers, ","), "payment-dlq-monitor", saramaConfig)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create DLQ consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := &dlqHandler{logger: logger}

	go func() {
		for {
			if err := consumer.Consume(ctx, []string{events.PaymentEventsDLQTopic}, handler); err != nil {
				logger.WithError(err).Error("Error consuming from DLQ")
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	logger.WithField("topic", events.PaymentEventsDLQTopic).Info("DLQ monitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down DLQ monitor...")
}

type dlqHandler struct {
	logger *logrus.Logger
}

func (h *dlqHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *dlqHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *dlqHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var metadata events.DLQMetadata
		for _, header := range message.Headers {
			if string(header.Key) == "metadata" {
				if err := json.Unmarshal(header.Value, &metadata); err != nil {
					h.logger.WithError(err).Warn("Unreadable DLQ metadata header")
				}
			}
		}

		fields := logrus.Fields{
			"topic":          message.Topic,
			"partition":      message.Partition,
			"offset":         message.Offset,
			"key":            string(message.Key),
			"original_topic": metadata.OriginalTopic,
			"error":          metadata.ErrorMessage,
			"failed_at":      metadata.FailedAt,
		}

		// Best-effort decode; the payload is dead-lettered precisely
		// because it may not parse.
		var envelope events.PaymentEnvelope
		if err := json.Unmarshal(message.Value, &envelope); err == nil {
			fields["event"] = envelope.Event
			fields["order_id"] = envelope.Payload.OrderID
		}

		h.logger.WithFields(fields).Warn("Dead-lettered payment event")

		session.MarkMessage(message, "")
	}

	return nil
}
