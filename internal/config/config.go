package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Sink names accepted in the SINKS list.
const (
	SinkKafka  = "kafka"
	SinkInflux = "influx"
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

	// Sinks lists where transformed records are loaded, in order.
	Sinks []string

	// Grid used to derive tile labels for samples that carry only coordinates.
	GridOriginLat float64
	GridOriginLon float64
	GridCellSize  float64

	// InfluxDB sink configuration.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// Picota training service configuration.
	PicotaBaseURL      string
	PicotaToken        string
	PicotaPollInterval time.Duration

	// Filesystem layout for the batch tools.
	DataDir     string
	ResultsDir  string
	CatalogPath string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	batchSize, err := parseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := parseDuration("BATCH_FLUSH_INTERVAL", "500ms")
	if err != nil {
		return nil, err
	}

	pollInterval, err := parseDuration("PICOTA_POLL_INTERVAL", "10s")
	if err != nil {
		return nil, err
	}

	originLat, err := parseFloat("GRID_ORIGIN_LAT", "-90")
	if err != nil {
		return nil, err
	}
	originLon, err := parseFloat("GRID_ORIGIN_LON", "-180")
	if err != nil {
		return nil, err
	}
	cellSize, err := parseFloat("GRID_CELL_SIZE", "0.25")
	if err != nil {
		return nil, err
	}
	if cellSize <= 0 {
		return nil, errors.New("GRID_CELL_SIZE must be positive")
	}

	sinks, err := parseSinks(envOrDefault("SINKS", SinkKafka))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       parseBrokers(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   envOrDefault("KAFKA_SOURCE_TOPIC", "raw-ocean-observations"),
		KafkaSinkTopic:     envOrDefault("KAFKA_SINK_TOPIC", "ocean-tile-records"),
		KafkaGroupID:       envOrDefault("KAFKA_GROUP_ID", "ocean-twin-etl"),
		HTTPAddr:           envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFormat:          envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		Sinks:              sinks,

		GridOriginLat: originLat,
		GridOriginLon: originLon,
		GridCellSize:  cellSize,

		InfluxURL:    os.Getenv("INFLUX_URL"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    os.Getenv("INFLUX_ORG"),
		InfluxBucket: os.Getenv("INFLUX_BUCKET"),

		PicotaBaseURL:      os.Getenv("PICOTA_BASE_URL"),
		PicotaToken:        os.Getenv("PICOTA_TOKEN"),
		PicotaPollInterval: pollInterval,

		DataDir:     envOrDefault("DATA_DIR", "data"),
		ResultsDir:  envOrDefault("RESULTS_DIR", "results"),
		CatalogPath: envOrDefault("CATALOG_PATH", "results/catalog.db"),
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
	if cfg.HasSink(SinkInflux) {
		if cfg.InfluxURL == "" {
			return nil, errors.New("INFLUX_URL is required when the influx sink is enabled")
		}
		if cfg.InfluxOrg == "" {
			return nil, errors.New("INFLUX_ORG is required when the influx sink is enabled")
		}
		if cfg.InfluxBucket == "" {
			return nil, errors.New("INFLUX_BUCKET is required when the influx sink is enabled")
		}
	}

	return cfg, nil
}

// HasSink reports whether the named sink is enabled.
func (c *Config) HasSink(name string) bool {
	return slices.Contains(c.Sinks, name)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func parseSinks(s string) ([]string, error) {
	var sinks []string
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if name != SinkKafka && name != SinkInflux {
			return nil, fmt.Errorf("unknown sink %q", name)
		}
		if !slices.Contains(sinks, name) {
			sinks = append(sinks, name)
		}
	}
	if len(sinks) == 0 {
		return nil, errors.New("SINKS must name at least one sink")
	}
	return sinks, nil
}

func parseBatchSize() (int, error) {
	s := envOrDefault("BATCH_SIZE", "50")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 1000 {
		return 0, errors.New("BATCH_SIZE must be between 1 and 1000")
	}
	return n, nil
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseFloat(key, fallback string) (float64, error) {
	f, err := strconv.ParseFloat(envOrDefault(key, fallback), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}
