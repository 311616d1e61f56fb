//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/seastate/ocean-twin-etl/internal/domain"
)

// startKafka launches a single-broker Kafka container and returns its
// bootstrap address. The container is terminated when the test finishes.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	ctr, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("ocean-twin-test"),
	)
	if err != nil {
		t.Fatalf("start kafka container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = ctr.Terminate(cleanupCtx)
	})

	brokers, err := ctr.Brokers(ctx)
	if err != nil {
		t.Fatalf("resolve brokers: %v", err)
	}
	if len(brokers) == 0 {
		t.Fatal("kafka container reported no brokers")
	}
	return brokers[0]
}

// createTopic creates a single-partition topic on the cluster controller so
// tests do not depend on auto-creation.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	if err != nil {
		t.Fatalf("dial broker: %v", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		t.Fatalf("resolve controller: %v", err)
	}
	ctrlConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		t.Fatalf("dial controller: %v", err)
	}
	defer ctrlConn.Close()

	err = ctrlConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Fatalf("create topic %s: %v", topic, err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testGrid matches the default service grid: quarter-degree cells anchored
// at the south-west corner of the WGS-84 domain.
func testGrid() domain.GridSpec {
	return domain.GridSpec{OriginLat: -90, OriginLon: -180, CellSize: 0.25}
}

// observationJSON marshals a collector payload the way the collectors do:
// one flat JSON object with string values.
func observationJSON(t *testing.T, obs domain.RawObservation) []byte {
	t.Helper()
	payload, err := json.Marshal(obs)
	if err != nil {
		t.Fatalf("marshal observation: %v", err)
	}
	return payload
}

// sampleObservations is a small collector batch with known outcomes: four
// ocean samples that flow through (two labelled, two coordinate-only) and
// one land sample the pipeline filters.
func sampleObservations() []domain.RawObservation {
	return []domain.RawObservation{
		{
			Source: "globcolour", Time: "2023-06-01", GridID: "B3",
			Lat: "40.1", Lon: "-9.6", IsOcean: "1",
			Variables: map[string]string{"CHL": "0.42", "DIATO": "0.11"},
		},
		{
			Source: "globcolour", Time: "2023-06-01", GridID: "C3",
			Lat: "40.1", Lon: "-9.3", IsOcean: "1",
			Variables: map[string]string{"CHL": "0.37", "PICO": "0.05"},
		},
		{
			Source: "ostia", Time: "2023-06-01 12:00:00",
			Lat: "40.125", Lon: "-9.625", IsOcean: "true",
			Variables: map[string]string{"sea_surface_temperature": "17.9"},
		},
		{
			Source: "ostia", Time: "2023-06-02 12:00:00",
			Lat: "40.375", Lon: "-9.875", IsOcean: "true",
			Variables: map[string]string{"sea_surface_temperature": "18.2"},
		},
		{
			Source: "globcolour", Time: "2023-06-01", GridID: "A1",
			Lat: "39.9", Lon: "-10.0", IsOcean: "0",
			Variables: map[string]string{"CHL": "0.10"},
		},
	}
}
