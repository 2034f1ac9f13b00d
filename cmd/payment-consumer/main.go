package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platemate/order-core/internal/config"
	"github.com/platemate/order-core/internal/events"
	"github.com/platemate/order-core/internal/orders"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			logger.Info("Database connection established")
			break
		}
		logger.Info("Waiting for database...")
		time.Sleep(2 * time.Second)
	}

	store := orders.NewStore(db, logger)
	reconciler := orders.NewPaymentReconciler(store, logger)

	consumer, err := events.NewPaymentConsumer(cfg.KafkaBrokers, "order-payment-reconciler", reconciler, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create payment consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Payment consumer stopped with error")
		}
	}()

	logger.WithField("topic", events.PaymentEventsTopic).Info("Payment consumer started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down payment consumer...")
	cancel()

	metrics := consumer.Metrics()
	logger.WithFields(logrus.Fields{
		"processed": metrics.Processed,
		"malformed": metrics.Malformed,
		"failed":    metrics.Failed,
	}).Info("Payment consumer stopped")
}
