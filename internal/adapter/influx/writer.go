package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/seastate/ocean-twin-etl/internal/config"
	"github.com/seastate/ocean-twin-etl/internal/domain"
)

const measurement = "ocean_state"

// Writer persists tile records as points in an InfluxDB bucket, tagged by
// tile and source so queries can group by grid cell.
// It implements pipeline.BatchLoader.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *slog.Logger
}

// NewWriter creates a client for the configured InfluxDB instance.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	return &Writer{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		logger:   logger,
	}
}

// LoadBatch writes one point per record that carries at least one variable
// value. Records without values (all rejected or missing) are skipped.
func (w *Writer) LoadBatch(ctx context.Context, records []domain.TileRecord) error {
	points := make([]*write.Point, 0, len(records))
	for _, rec := range records {
		if len(rec.Values) == 0 {
			continue
		}

		fields := make(map[string]interface{}, len(rec.Values)+2)
		for name, v := range rec.Values {
			fields[name] = v
		}
		fields["lat"] = rec.Geo.Lat
		fields["lon"] = rec.Geo.Lon

		tags := map[string]string{
			"tile":   rec.Tile,
			"source": rec.Source,
		}

		ts := rec.Time
		if ts.IsZero() {
			ts = rec.ProcessedAt
		}
		points = append(points, influxdb2.NewPoint(measurement, tags, fields, ts))
	}

	if len(points) == 0 {
		return nil
	}
	if err := w.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write points: %w", err)
	}
	return nil
}

// Ping verifies the connection so a misconfigured sink fails at startup
// rather than on the first batch.
func (w *Writer) Ping(ctx context.Context) error {
	ok, err := w.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influx ping: %w", err)
	}
	if !ok {
		return errors.New("influx ping: not ready")
	}
	return nil
}

func (w *Writer) Close() {
	w.client.Close()
}
