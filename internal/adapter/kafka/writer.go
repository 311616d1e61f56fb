package kafka

import (
	"context"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/seastate/ocean-twin-etl/internal/config"
	"github.com/seastate/ocean-twin-etl/internal/domain"
)

// Writer produces tile records to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes multiple tile records to the sink topic
// in a single WriteMessages call for efficiency.
func (w *Writer) LoadBatch(ctx context.Context, records []domain.TileRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeToMessage(records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a TileRecord into a Kafka message with routing
// metadata in the headers.
func serializeToMessage(rec domain.TileRecord) (kafkago.Message, error) {
	out, err := domain.SerializeTileRecord(rec)
	if err != nil {
		return kafkago.Message{}, err
	}
	return kafkago.Message{
		Key:   out.Key,
		Value: out.Value,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(out.Headers["source"])},
			{Key: "tile", Value: []byte(out.Headers["tile"])},
			{Key: "processed_at", Value: []byte(out.Headers["processed_at"])},
		},
	}, nil
}
