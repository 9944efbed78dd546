package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vicwatch/vicemergency-monitor/internal/adapter/vicemergency"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	FeedURL         string
	TextOnlyURL     string
	WarningsEnabled bool
	FetchTimeout    time.Duration

	PostcodeCSVPath string
	StateFile       string
	HistoryFile     string

	PollInterval    time.Duration
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Reverse geocoding configuration.
	GeocodeEnabled   bool
	GeocodeUserAgent string
	GeocodeTimeout   time.Duration

	// Optional Kafka change feed.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaEnabled bool
}

// Load reads configuration from the environment, applying defaults where
// unset. A .env file in the working directory is merged in first when
// present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	fetchTimeout, err := parseDuration("FETCH_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	pollInterval, err := parseDuration("POLL_INTERVAL", "5m")
	if err != nil {
		return nil, err
	}
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	geocodeTimeout, err := parseDuration("GEOCODE_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}

	kafkaBrokers := parseBrokers(os.Getenv("KAFKA_BROKERS"))
	kafkaEnabled := len(kafkaBrokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	geocodeEnabled := true
	if v := os.Getenv("GEOCODE_ENABLED"); v != "" {
		geocodeEnabled = v == "true"
	}

	warningsEnabled := true
	if v := os.Getenv("WARNINGS_ENABLED"); v != "" {
		warningsEnabled = v == "true"
	}

	cfg := &Config{
		FeedURL:         envOrDefault("FEED_URL", vicemergency.DefaultFeedURL),
		TextOnlyURL:     envOrDefault("TEXT_ONLY_URL", vicemergency.DefaultTextOnlyURL),
		WarningsEnabled: warningsEnabled,
		FetchTimeout:    fetchTimeout,

		PostcodeCSVPath: envOrDefault("POSTCODE_CSV_PATH", "data/postcodes.csv"),
		StateFile:       envOrDefault("STATE_FILE", "data/state.json"),
		HistoryFile:     envOrDefault("HISTORY_FILE", "data/warning_history.json"),

		PollInterval:    pollInterval,
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		GeocodeEnabled:   geocodeEnabled,
		GeocodeUserAgent: envOrDefault("GEOCODE_USER_AGENT", "vicemergency-monitor/1.0"),
		GeocodeTimeout:   geocodeTimeout,

		KafkaBrokers: kafkaBrokers,
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "emergency-changes"),
		KafkaEnabled: kafkaEnabled,
	}

	if cfg.FeedURL == "" {
		return nil, errors.New("FEED_URL is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("POLL_INTERVAL must be positive")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.GeocodeEnabled && cfg.GeocodeUserAgent == "" {
		return nil, errors.New("GEOCODE_ENABLED is true but GEOCODE_USER_AGENT is not set")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	s := envOrDefault(key, fallback)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func parseBrokers(s string) []string {
	if s == "" {
		return nil
	}
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
