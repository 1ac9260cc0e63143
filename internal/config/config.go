package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every setting the ledger binaries read from the environment.
type Config struct {
	DatabaseURL    string   `env:"DATABASE_URL"`
	ServerPort     string   `env:"SERVER_PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"inventory-ledger-events"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"inventory-ledger"`

	// AuditSchedule is a cron spec for the reservation audit job. Empty disables it.
	AuditSchedule string `env:"AUDIT_SCHEDULE" envDefault:"@every 15m"`
	// AuditReconcile makes the audit job heal drift instead of only reporting it.
	AuditReconcile bool `env:"AUDIT_RECONCILE" envDefault:"false"`

	AllocationStrategy string `env:"ALLOCATION_STRATEGY" envDefault:"ascending-quantity"`
	// WarehousePriority lists warehouse IDs for the warehouse-priority strategy.
	WarehousePriority []int `env:"WAREHOUSE_PRIORITY" envSeparator:","`
}

// Load reads an optional .env file and parses the environment into Config.
// Variables already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	return &cfg, nil
}

// RequireDatabase returns an error when DATABASE_URL is missing.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	return nil
}

// KafkaEnabled reports whether ledger events should be published to Kafka.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaTopic != ""
}
