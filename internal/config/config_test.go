package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultBroker = "localhost:9092"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "raw-ocean-observations", cfg.KafkaSourceTopic)
	assert.Equal(t, "ocean-tile-records", cfg.KafkaSinkTopic)
	assert.Equal(t, "ocean-twin-etl", cfg.KafkaGroupID)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)
	assert.Equal(t, []string{SinkKafka}, cfg.Sinks)
	assert.Equal(t, -90.0, cfg.GridOriginLat)
	assert.Equal(t, -180.0, cfg.GridOriginLon)
	assert.Equal(t, 0.25, cfg.GridCellSize)
	assert.Empty(t, cfg.InfluxURL)
	assert.Equal(t, 10*time.Second, cfg.PicotaPollInterval)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "results", cfg.ResultsDir)
	assert.Equal(t, "results/catalog.db", cfg.CatalogPath)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_SOURCE_TOPIC", "custom-source")
	t.Setenv("KAFKA_SINK_TOPIC", "custom-sink")
	t.Setenv("KAFKA_GROUP_ID", "custom-group")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("BATCH_FLUSH_INTERVAL", "1s")
	t.Setenv("SINKS", "kafka,influx")
	t.Setenv("GRID_ORIGIN_LAT", "35")
	t.Setenv("GRID_ORIGIN_LON", "-20")
	t.Setenv("GRID_CELL_SIZE", "0.5")
	t.Setenv("INFLUX_URL", "http://localhost:8086")
	t.Setenv("INFLUX_TOKEN", "test-token")
	t.Setenv("INFLUX_ORG", "seastate")
	t.Setenv("INFLUX_BUCKET", "ocean")
	t.Setenv("PICOTA_BASE_URL", "http://picota:9000")
	t.Setenv("PICOTA_POLL_INTERVAL", "2s")
	t.Setenv("DATA_DIR", "/var/data")
	t.Setenv("RESULTS_DIR", "/var/results")
	t.Setenv("CATALOG_PATH", "/var/results/cat.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-source", cfg.KafkaSourceTopic)
	assert.Equal(t, "custom-sink", cfg.KafkaSinkTopic)
	assert.Equal(t, "custom-group", cfg.KafkaGroupID)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.BatchFlushInterval)
	assert.Equal(t, []string{SinkKafka, SinkInflux}, cfg.Sinks)
	assert.Equal(t, 35.0, cfg.GridOriginLat)
	assert.Equal(t, -20.0, cfg.GridOriginLon)
	assert.Equal(t, 0.5, cfg.GridCellSize)
	assert.Equal(t, "http://localhost:8086", cfg.InfluxURL)
	assert.Equal(t, "test-token", cfg.InfluxToken)
	assert.Equal(t, "seastate", cfg.InfluxOrg)
	assert.Equal(t, "ocean", cfg.InfluxBucket)
	assert.Equal(t, "http://picota:9000", cfg.PicotaBaseURL)
	assert.Equal(t, 2*time.Second, cfg.PicotaPollInterval)
	assert.Equal(t, "/var/data", cfg.DataDir)
	assert.Equal(t, "/var/results", cfg.ResultsDir)
	assert.Equal(t, "/var/results/cat.db", cfg.CatalogPath)
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_NegativeShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "-1s")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidBatchSize(t *testing.T) {
	t.Setenv("BATCH_SIZE", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_BatchSizeTooLarge(t *testing.T) {
	t.Setenv("BATCH_SIZE", "9999")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_SIZE")
}

func TestLoad_InvalidBatchFlushInterval(t *testing.T) {
	t.Setenv("BATCH_FLUSH_INTERVAL", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_FLUSH_INTERVAL")
}

func TestLoad_EmptyBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", ",")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestLoad_UnknownSink(t *testing.T) {
	t.Setenv("SINKS", "kafka,postgres")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown sink "postgres"`)
}

func TestLoad_DuplicateSinksCollapse(t *testing.T) {
	t.Setenv("SINKS", "kafka, kafka")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{SinkKafka}, cfg.Sinks)
}

func TestLoad_InfluxSinkRequiresConnection(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		wantErr string
	}{
		{name: "missing url", unset: "INFLUX_URL", wantErr: "INFLUX_URL"},
		{name: "missing org", unset: "INFLUX_ORG", wantErr: "INFLUX_ORG"},
		{name: "missing bucket", unset: "INFLUX_BUCKET", wantErr: "INFLUX_BUCKET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SINKS", "influx")
			t.Setenv("INFLUX_URL", "http://localhost:8086")
			t.Setenv("INFLUX_ORG", "seastate")
			t.Setenv("INFLUX_BUCKET", "ocean")
			t.Setenv(tt.unset, "")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_InvalidGridCellSize(t *testing.T) {
	t.Setenv("GRID_CELL_SIZE", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GRID_CELL_SIZE")
}

func TestLoad_InvalidGridOrigin(t *testing.T) {
	t.Setenv("GRID_ORIGIN_LAT", "equator")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GRID_ORIGIN_LAT")
}

func TestHasSink(t *testing.T) {
	cfg := &Config{Sinks: []string{SinkKafka}}
	assert.True(t, cfg.HasSink(SinkKafka))
	assert.False(t, cfg.HasSink(SinkInflux))
}
