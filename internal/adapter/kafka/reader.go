package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/seastate/ocean-twin-etl/internal/config"
	"github.com/seastate/ocean-twin-etl/internal/domain"
)

// Reader consumes raw samples from the source topic as part of a consumer group.
// It implements pipeline.BatchExtractor.
type Reader struct {
	reader        *kafkago.Reader
	logger        *slog.Logger
	flushInterval time.Duration
}

// NewReader creates a Kafka consumer for the configured source topic.
// Offsets are committed explicitly through RawSample.Commit, never on fetch.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaSourceTopic,
		GroupID:     cfg.KafkaGroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	return &Reader{reader: r, logger: logger, flushInterval: cfg.BatchFlushInterval}
}

// ExtractBatch fetches up to batchSize messages, returning early once the
// flush interval elapses so partial batches keep flowing during quiet periods.
// An empty batch with a nil error means nothing arrived in time.
func (r *Reader) ExtractBatch(ctx context.Context, batchSize int) ([]domain.RawSample, error) {
	batchCtx, cancel := context.WithTimeout(ctx, r.flushInterval)
	defer cancel()

	samples := make([]domain.RawSample, 0, batchSize)
	for len(samples) < batchSize {
		msg, err := r.reader.FetchMessage(batchCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if len(samples) > 0 {
				r.logger.Warn("fetch failed mid-batch, flushing partial batch", "error", err)
				break
			}
			return nil, fmt.Errorf("fetch message: %w", err)
		}

		sample := mapMessageToRawSample(msg)
		sample.Commit = func(commitCtx context.Context) error {
			return r.reader.CommitMessages(commitCtx, msg)
		}
		samples = append(samples, sample)
	}

	return samples, nil
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// mapMessageToRawSample copies the Kafka message fields into the transport-agnostic
// sample the pipeline works with.
func mapMessageToRawSample(msg kafkago.Message) domain.RawSample {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return domain.RawSample{
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
	}
}
