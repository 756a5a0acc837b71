package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`

	// STORAGE_DRIVER=memory keeps everything in process and starts empty
	// unless MEMORY_SEED_FILE names a JSON seed; meant for local runs and tests.
	StorageDriver  string `envconfig:"STORAGE_DRIVER" default:"postgres"`
	MemorySeedFile string `envconfig:"MEMORY_SEED_FILE"`
	PostgresDSN    string `envconfig:"POSTGRES_DSN" default:"host=localhost user=postgres password=postgres dbname=parcels sslmode=disable"`
	MigrateOnStart bool   `envconfig:"MIGRATE_ON_START" default:"true"`

	RedisAddr       string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	BalanceCacheTTL time.Duration `envconfig:"BALANCE_CACHE_TTL" default:"5m"`
	IdempotencyTTL  time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	KafkaBrokers     []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaEventsTopic string   `envconfig:"KAFKA_EVENTS_TOPIC" default:"bid-events"`
	KafkaTopUpsTopic string   `envconfig:"KAFKA_TOPUPS_TOPIC" default:"wallet-topups"`
	KafkaGroupID     string   `envconfig:"KAFKA_GROUP_ID" default:"parcel-bid-service"`

	JWTSecret string `envconfig:"JWT_SECRET" default:"supersecret"`

	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	MetricsAddr  string `envconfig:"METRICS_ADDR" default:":9090"`
	OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using environment only", "error", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}
