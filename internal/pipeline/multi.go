package pipeline

import (
	"context"
	"fmt"

	"github.com/seastate/ocean-twin-etl/internal/domain"
)

// MultiLoader fans a batch out to several loaders in order. The first failure
// aborts the batch; because records carry deterministic IDs, sinks that
// already received the batch absorb the retry as an upsert.
type MultiLoader struct {
	loaders []BatchLoader
}

// NewMultiLoader creates a MultiLoader over the given loaders.
func NewMultiLoader(loaders ...BatchLoader) *MultiLoader {
	return &MultiLoader{loaders: loaders}
}

func (m *MultiLoader) LoadBatch(ctx context.Context, records []domain.TileRecord) error {
	for i, l := range m.loaders {
		if err := l.LoadBatch(ctx, records); err != nil {
			return fmt.Errorf("loader %d: %w", i, err)
		}
	}
	return nil
}
