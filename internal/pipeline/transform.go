package pipeline

import (
	"context"
	"log/slog"

	"github.com/seastate/ocean-twin-etl/internal/domain"
	"github.com/seastate/ocean-twin-etl/internal/observability"
)

// TileTransformer implements Transformer using the domain parse and enrich
// functions. Quality-control rejections are logged and counted but do not
// fail the sample.
type TileTransformer struct {
	grid    domain.GridSpec
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewTransformer creates a TileTransformer deriving tile labels on the given grid.
func NewTransformer(grid domain.GridSpec, metrics *observability.Metrics, logger *slog.Logger) *TileTransformer {
	return &TileTransformer{
		grid:    grid,
		metrics: metrics,
		logger:  logger,
	}
}

func (t *TileTransformer) Transform(_ context.Context, raw domain.RawSample) (domain.TileRecord, error) {
	rec, err := domain.ParseRawSample(raw)
	if err != nil {
		return domain.TileRecord{}, err
	}

	for _, rej := range rec.Rejected {
		t.metrics.QCRejections.WithLabelValues(rej.Variable, rej.Reason).Inc()
		t.logger.Debug("variable rejected",
			"variable", rej.Variable,
			"value", rej.Value,
			"reason", rej.Reason,
		)
	}

	return domain.EnrichTileRecord(rec, t.grid)
}
