package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platemate/order-core/internal/catalog"
	"github.com/platemate/order-core/internal/circuitbreaker"
	"github.com/platemate/order-core/internal/config"
	"github.com/platemate/order-core/internal/events"
	"github.com/platemate/order-core/internal/orders"
	"github.com/platemate/order-core/internal/pricing"
	"github.com/platemate/order-core/internal/websocket"
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

	// Wait for database to be ready
	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			logger.Info("Database connection established")
			break
		}
		logger.Info("Waiting for database...")
		time.Sleep(2 * time.Second)
	}

	if err := orders.EnsureSchema(db); err != nil {
		logger.WithError(err).Fatal("Failed to create tables")
	}

	publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka publisher")
	}
	defer publisher.Close()

	breakers := circuitbreaker.NewManager(logger)
	catalogBreaker := breakers.GetOrCreate("catalog", circuitbreaker.Config{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		MaxRequests: 2,
	})

	catalogClient := catalog.NewGuardedClient(
		catalog.NewClient(cfg.CatalogBaseURL, cfg.CatalogTimeout, logger),
		catalogBreaker,
	)

	resolver := pricing.NewResolver(catalogClient, cfg.TrustClientPricing, cfg.DefaultTaxRate, logger)

	store := orders.NewStore(db, logger)
	service := orders.NewService(store, resolver, logger)
	handler := orders.NewHandler(service, logger)

	hub := websocket.NewHub(logger)
	go hub.Run()
	handler.SetWebSocketHub(hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drainer := events.NewDrainWorker(store, publisher, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
	go drainer.Run(ctx)

	router := mux.NewRouter()
	router.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	router.HandleFunc("/ws", hub.HandleWebSocket)
	handler.RegisterRoutes(router)

	router.Use(loggingMiddleware(logger))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.HTTPPort).Info("Starting order service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"remote":   r.RemoteAddr,
				"duration": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}
