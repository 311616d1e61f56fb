package kafka

import (
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seastate/ocean-twin-etl/internal/domain"
)

func TestMapMessageToRawSample(t *testing.T) {
	now := time.Now()
	msg := kafkago.Message{
		Key:       []byte("key-1"),
		Value:     []byte(`{"grid_id":"D3"}`),
		Topic:     "raw-ocean-observations",
		Partition: 2,
		Offset:    42,
		Time:      now,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte("cmems-bio")},
		},
	}

	raw := mapMessageToRawSample(msg)

	assert.Equal(t, []byte("key-1"), raw.Key)
	assert.JSONEq(t, `{"grid_id":"D3"}`, string(raw.Value))
	assert.Equal(t, "raw-ocean-observations", raw.Topic)
	assert.Equal(t, 2, raw.Partition)
	assert.Equal(t, int64(42), raw.Offset)
	assert.Equal(t, now, raw.Timestamp)
	assert.Equal(t, "cmems-bio", raw.Headers["source"])
}

func TestSerializeToMessage(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	rec := domain.TileRecord{
		ID:          "cmems-bio-0011223344556677",
		Source:      "cmems-bio",
		Tile:        "D3",
		Geo:         domain.Geo{Lat: 42.875, Lon: -9.625},
		Ocean:       true,
		Values:      map[string]float64{"bio.chl": 0.42},
		ProcessedAt: now,
	}

	msg, err := serializeToMessage(rec)
	require.NoError(t, err)

	assert.Equal(t, []byte("cmems-bio-0011223344556677"), msg.Key)
	assert.Contains(t, string(msg.Value), `"tile":"D3"`)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "source", msg.Headers[0].Key)
	assert.Equal(t, []byte("cmems-bio"), msg.Headers[0].Value)
	assert.Equal(t, "tile", msg.Headers[1].Key)
	assert.Equal(t, []byte("D3"), msg.Headers[1].Value)
	assert.Equal(t, "processed_at", msg.Headers[2].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[2].Value)
}
