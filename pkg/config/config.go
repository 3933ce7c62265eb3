// Package config loads and validates trawler configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Trawl, ObjectStore, Catalog, Redis, Kafka, Logging, Metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level trawler configuration.
type Config struct {
	Trawl       TrawlConfig       `yaml:"trawl"`
	ObjectStore ObjectStoreConfig `yaml:"objectStore"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Health      HealthConfig      `yaml:"health"`
}

// TrawlConfig controls the scan loop: the root directory, walk budget,
// transfer limits and ingest concurrency.
type TrawlConfig struct {
	RootDir          string        `yaml:"rootDir"`
	WalkTimeout      time.Duration `yaml:"walkTimeout"`
	MaxTransfers     int           `yaml:"maxTransfers"`
	WorkerMultiplier int           `yaml:"workerMultiplier"`
	MaxInFlight      int           `yaml:"maxInFlight"`
	IdleSleep        time.Duration `yaml:"idleSleep"`
	IdleSleepMax     time.Duration `yaml:"idleSleepMax"`
	RetrySleep       time.Duration `yaml:"retrySleep"`
}

// ObjectStoreConfig holds S3-compatible object store connection parameters.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"useSSL"`
}

// CatalogConfig holds PostgreSQL connection parameters for the product
// catalog, the durable system of record for transfer state.
type CatalogConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (c CatalogConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis connection parameters for the terminal-record
// cache in front of the catalog.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings for lifecycle events.
type KafkaConfig struct {
	Enabled bool        `yaml:"enabled"`
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	TransferEvents string `yaml:"transferEvents"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// HealthConfig controls the liveness/readiness HTTP server.
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Trawl.RootDir == "" {
		return fmt.Errorf("trawl.rootDir must be set")
	}
	if c.Trawl.MaxTransfers <= 0 {
		return fmt.Errorf("trawl.maxTransfers must be positive, got %d", c.Trawl.MaxTransfers)
	}
	if c.Trawl.WorkerMultiplier <= 0 {
		return fmt.Errorf("trawl.workerMultiplier must be positive, got %d", c.Trawl.WorkerMultiplier)
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Trawl: TrawlConfig{
			RootDir:          "/data",
			WalkTimeout:      10 * time.Second,
			MaxTransfers:     5000,
			WorkerMultiplier: 10,
			MaxInFlight:      2,
			IdleSleep:        20 * time.Second,
			IdleSleepMax:     5 * time.Minute,
			RetrySleep:       20 * time.Second,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:  "localhost:7480",
			AccessKey: "archive",
			SecretKey: "localdev",
			UseSSL:    false,
		},
		Catalog: CatalogConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "archivecatalog",
			User:            "archivecatalog",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled: true,
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				TransferEvents: "archive.transfer-events",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    8081,
		},
	}
}

// applyEnvOverrides reads TRAWL_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRAWL_ROOT_DIR"); v != "" {
		cfg.Trawl.RootDir = v
	}
	if v := os.Getenv("TRAWL_MAX_TRANSFERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Trawl.MaxTransfers = n
		}
	}
	if v := os.Getenv("TRAWL_OBJECTSTORE_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("TRAWL_OBJECTSTORE_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("TRAWL_OBJECTSTORE_SECRET_KEY"); v != "" {
		cfg.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("TRAWL_CATALOG_HOST"); v != "" {
		cfg.Catalog.Host = v
	}
	if v := os.Getenv("TRAWL_CATALOG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Catalog.Port = port
		}
	}
	if v := os.Getenv("TRAWL_CATALOG_DATABASE"); v != "" {
		cfg.Catalog.Database = v
	}
	if v := os.Getenv("TRAWL_CATALOG_USER"); v != "" {
		cfg.Catalog.User = v
	}
	if v := os.Getenv("TRAWL_CATALOG_PASSWORD"); v != "" {
		cfg.Catalog.Password = v
	}
	if v := os.Getenv("TRAWL_CATALOG_SSLMODE"); v != "" {
		cfg.Catalog.SSLMode = v
	}
	if v := os.Getenv("TRAWL_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TRAWL_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TRAWL_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TRAWL_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRAWL_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TRAWL_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
