package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	KafkaBrokers string

	CatalogBaseURL string
	CatalogTimeout time.Duration

	// TrustClientPricing permits the client-fallback pricing path when the
	// catalog fetch fails transport-wise. It is threaded explicitly into the
	// pricing resolver so both modes are deterministically testable.
	TrustClientPricing bool

	DefaultTaxRate float64

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
}

// Load reads configuration from the environment, with an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPPort: getEnv("ORDER_SERVICE_PORT", "8081"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "orderservice"),
		DBPassword: getEnv("DB_PASSWORD", "orderservice"),
		DBName:     getEnv("DB_NAME", "orders"),

		KafkaBrokers: getEnv("KAFKA_BROKERS", "localhost:9092"),

		CatalogBaseURL: getEnv("CATALOG_BASE_URL", "http://localhost:8090"),
		CatalogTimeout: getEnvDuration("CATALOG_TIMEOUT", 5*time.Second),

		TrustClientPricing: getEnvBool("TRUST_CLIENT_PRICING", false),

		DefaultTaxRate: getEnvFloat("DEFAULT_TAX_RATE", 7.0),

		OutboxPollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 50),
	}
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
