package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Feed backends.
const (
	FeedAdafruit = "adafruit"
	FeedKafka    = "kafka"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	StoragePath       string
	OfflineBufferPath string

	FeedBackend    string
	RequestTimeout time.Duration
	FeedFetchLimit int

	// Adafruit IO credentials. Missing values mean local-only mode, not an error.
	AIOUsername string
	AIOKey      string
	AIOFeedKey  string

	KafkaBrokers []string
	KafkaTopic   string

	ClusterEpsMeters  float64
	ClusterMinSamples int

	SyncInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	requestTimeout, err := parseSeconds("REQUEST_TIMEOUT", "10")
	if err != nil {
		return nil, err
	}

	syncInterval, err := time.ParseDuration(sharedcfg.EnvOrDefault("SYNC_INTERVAL", "5m"))
	if err != nil || syncInterval <= 0 {
		return nil, errors.New("invalid SYNC_INTERVAL")
	}

	fetchLimit, err := parsePositiveInt("FEED_FETCH_LIMIT", "200")
	if err != nil {
		return nil, err
	}

	minSamples, err := parsePositiveInt("CLUSTER_MIN_SAMPLES", "3")
	if err != nil {
		return nil, err
	}

	eps, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("CLUSTER_EPS_METERS", "75"), 64)
	if err != nil || eps <= 0 {
		return nil, errors.New("invalid CLUSTER_EPS_METERS")
	}

	cfg := &Config{
		HTTPAddr:          sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:          sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:   shutdownTimeout,
		StoragePath:       sharedcfg.EnvOrDefault("STORAGE_PATH", "storage/data.jsonl"),
		OfflineBufferPath: sharedcfg.EnvOrDefault("OFFLINE_BUFFER_PATH", "storage/offline_buffer.jsonl"),
		FeedBackend:       strings.ToLower(sharedcfg.EnvOrDefault("FEED_BACKEND", FeedAdafruit)),
		RequestTimeout:    requestTimeout,
		FeedFetchLimit:    fetchLimit,
		AIOUsername:       os.Getenv("AIO_USERNAME"),
		AIOKey:            os.Getenv("AIO_KEY"),
		AIOFeedKey:        sharedcfg.EnvOrDefault("AIO_FEED_KEY", "wardrive"),
		KafkaBrokers:      parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:        sharedcfg.EnvOrDefault("KAFKA_TOPIC", "wardrive-observations"),
		ClusterEpsMeters:  eps,
		ClusterMinSamples: minSamples,
		SyncInterval:      syncInterval,
	}

	if cfg.FeedBackend != FeedAdafruit && cfg.FeedBackend != FeedKafka {
		return nil, fmt.Errorf("FEED_BACKEND must be %q or %q, got %q", FeedAdafruit, FeedKafka, cfg.FeedBackend)
	}
	if cfg.StoragePath == "" {
		return nil, errors.New("STORAGE_PATH is required")
	}
	if cfg.OfflineBufferPath == "" {
		return nil, errors.New("OFFLINE_BUFFER_PATH is required")
	}
	if cfg.StoragePath == cfg.OfflineBufferPath {
		return nil, errors.New("STORAGE_PATH and OFFLINE_BUFFER_PATH must differ")
	}

	return cfg, nil
}

// parseSeconds reads a positive number of seconds, fractions allowed.
func parseSeconds(key, def string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, def), 64)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func parsePositiveInt(key, def string) (int, error) {
	n, err := strconv.Atoi(sharedcfg.EnvOrDefault(key, def))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func parseBrokers(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return sharedcfg.ParseBrokers(s)
}
