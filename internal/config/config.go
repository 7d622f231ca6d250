package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Profile store and event ledger.
	StoreDriver      string
	DatabaseURL      string
	DatabaseMaxConns int32
	StoreTimeout     time.Duration

	// Dispatch pass tuning.
	MatchWorkers   int
	DedupCacheSize int

	// Profile limits. Zero MaxProfilesPerUser means unlimited.
	MaxProfilesPerUser     int
	FreeActiveProfileLimit int

	// GeoTablePath overrides the embedded place table when set.
	GeoTablePath string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	storeTimeout, err := parsePositiveDuration("STORE_TIMEOUT", "3s")
	if err != nil {
		return nil, err
	}

	matchWorkers, err := parseInt("MATCH_WORKERS", 8, 1)
	if err != nil {
		return nil, err
	}
	dedupCacheSize, err := parseInt("DEDUP_CACHE_SIZE", 10000, 1)
	if err != nil {
		return nil, err
	}
	maxConns, err := parseInt("DATABASE_MAX_CONNS", 10, 1)
	if err != nil {
		return nil, err
	}
	maxProfiles, err := parseInt("MAX_PROFILES_PER_USER", 0, 0)
	if err != nil {
		return nil, err
	}
	freeActive, err := parseInt("FREE_ACTIVE_PROFILE_LIMIT", 1, 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "seismic-events"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "alert-deliveries"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "quake-alert-dispatcher"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		StoreDriver:      sharedcfg.EnvOrDefault("STORE_DRIVER", StoreDriverPostgres),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DatabaseMaxConns: int32(maxConns),
		StoreTimeout:     storeTimeout,

		MatchWorkers:   matchWorkers,
		DedupCacheSize: dedupCacheSize,

		MaxProfilesPerUser:     maxProfiles,
		FreeActiveProfileLimit: freeActive,

		GeoTablePath: os.Getenv("GEO_TABLE_PATH"),
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}
	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q: must be %s or %s", cfg.StoreDriver, StoreDriverPostgres, StoreDriverMemory)
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseInt(key string, def, minimum int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s: must be an integer >= %d", key, minimum)
	}
	return n, nil
}
