package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seastate/ocean-twin-etl/internal/domain"
	"github.com/seastate/ocean-twin-etl/internal/observability"
	"github.com/seastate/ocean-twin-etl/internal/pipeline"
)

// --- mocks ---

type mockExtractor struct {
	samples []domain.RawSample
	index   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawSample, error) {
	i := int(m.index.Add(1) - 1)
	if i >= len(m.samples) {
		// block until context cancelled to simulate waiting for samples
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []domain.RawSample{m.samples[i]}, nil
}

type mockTransformer struct {
	err error
}

func (m *mockTransformer) Transform(_ context.Context, raw domain.RawSample) (domain.TileRecord, error) {
	if m.err != nil {
		return domain.TileRecord{}, m.err
	}
	return domain.TileRecord{ID: string(raw.Key), RawPayload: raw.Value}, nil
}

type mockLoader struct {
	loaded []domain.TileRecord
	err    error
}

func (m *mockLoader) LoadBatch(_ context.Context, records []domain.TileRecord) error {
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, records...)
	return nil
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	raw := makeRawSample(t, "D3", "0.42")

	ext := &mockExtractor{samples: []domain.RawSample{raw}}
	tfm := &mockTransformer{}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, ldr, slog.Default(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	require.Len(t, ldr.loaded, 1)
	assert.Equal(t, raw.Value, ldr.loaded[0].RawPayload)
	assert.NoError(t, p.CheckReadiness(context.Background()))
	assert.Equal(t, pipeline.Stats{Consumed: 1, Produced: 1}, p.Stats())
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{} // no samples, will block
	tfm := &mockTransformer{}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, ldr, slog.Default(), metrics, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	err := p.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, ldr.loaded)
}

func TestPipeline_Run_TransformError(t *testing.T) {
	raw := makeRawSample(t, "D3", "0.42")

	ext := &mockExtractor{samples: []domain.RawSample{raw}}
	tfm := &mockTransformer{err: errors.New("bad data")}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, ldr, slog.Default(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, ldr.loaded)
	assert.Error(t, p.CheckReadiness(context.Background()))
	assert.Equal(t, pipeline.Stats{Consumed: 1, Errors: 1}, p.Stats())
}

func TestPipeline_Run_FilteredSampleCommitsAndSkips(t *testing.T) {
	commits := 0
	raw := makeRawSample(t, "D3", "0.42")
	raw.Commit = func(_ context.Context) error {
		commits++
		return nil
	}

	ext := &mockExtractor{samples: []domain.RawSample{raw}}
	tfm := &mockTransformer{err: fmt.Errorf("land tile D3: %w", domain.ErrFiltered)}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, ldr, slog.Default(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, ldr.loaded)
	assert.Equal(t, 1, commits, "filtered samples must still be committed")
	assert.Equal(t, pipeline.Stats{Consumed: 1, Filtered: 1}, p.Stats())
}

func TestPipeline_Run_CommitsAfterLoad(t *testing.T) {
	commitCalled := false

	raw := makeRawSample(t, "D3", "0.42")
	raw.Topic = "raw-ocean-observations"
	raw.Commit = func(_ context.Context) error {
		commitCalled = true
		return nil
	}

	ext := &mockExtractor{samples: []domain.RawSample{raw}}
	tfm := &mockTransformer{}
	ldr := &mockLoader{}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, ldr, slog.Default(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	assert.True(t, commitCalled)
}

func TestPipeline_Run_LoadFailureLeavesOffsetsUncommitted(t *testing.T) {
	commits := 0
	raw := makeRawSample(t, "D3", "0.42")
	raw.Commit = func(_ context.Context) error {
		commits++
		return nil
	}

	ext := &mockExtractor{samples: []domain.RawSample{raw}}
	tfm := &mockTransformer{}
	ldr := &mockLoader{err: errors.New("sink unavailable")}
	metrics := newTestMetrics()

	p := pipeline.New(ext, tfm, ldr, slog.Default(), metrics, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, commits, "failed loads must not commit, Kafka redelivers on restart")
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestTileTransformer_Transform(t *testing.T) {
	grid := domain.GridSpec{OriginLat: -90, OriginLon: -180, CellSize: 0.25}
	tfm := pipeline.NewTransformer(grid, newTestMetrics(), slog.Default())

	rec, err := tfm.Transform(context.Background(), makeRawSample(t, "D3", "0.42"))
	require.NoError(t, err)

	type recordSummary struct {
		Tile   string
		Source string
		Ocean  bool
		Chl    float64
	}
	expected := recordSummary{Tile: "D3", Source: "cmems-bio", Ocean: true, Chl: 0.42}
	actual := recordSummary{Tile: rec.Tile, Source: rec.Source, Ocean: rec.Ocean, Chl: rec.Values["bio.chl"]}
	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.ProcessedAt.IsZero())
}

func TestTileTransformer_Transform_LandSample(t *testing.T) {
	grid := domain.GridSpec{OriginLat: -90, OriginLon: -180, CellSize: 0.25}
	tfm := pipeline.NewTransformer(grid, newTestMetrics(), slog.Default())

	raw := makeRawSample(t, "D3", "0.42")
	raw.Value = mustMarshal(t, map[string]string{
		"source": "cmems-bio", "grid_id": "D3", "is_ocean": "0", "CHL": "0.42",
	})

	_, err := tfm.Transform(context.Background(), raw)
	assert.ErrorIs(t, err, domain.ErrFiltered)
}

func TestTileTransformer_Transform_KeepsRejections(t *testing.T) {
	grid := domain.GridSpec{OriginLat: -90, OriginLon: -180, CellSize: 0.25}
	tfm := pipeline.NewTransformer(grid, newTestMetrics(), slog.Default())

	raw := makeRawSample(t, "D3", "0.42")
	raw.Value = mustMarshal(t, map[string]string{
		"source": "cmems-bio", "grid_id": "D3", "is_ocean": "1",
		"CHL": "0.42", "sea_surface_temperature": "99.9",
	})

	rec, err := tfm.Transform(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"bio.chl": 0.42}, rec.Values)
	require.Len(t, rec.Rejected, 1)
	assert.Equal(t, domain.RejectOutOfRange, rec.Rejected[0].Reason)
}

func TestMultiLoader(t *testing.T) {
	records := []domain.TileRecord{{ID: "rec-1"}, {ID: "rec-2"}}

	t.Run("fans out to every loader", func(t *testing.T) {
		first := &mockLoader{}
		second := &mockLoader{}
		ml := pipeline.NewMultiLoader(first, second)

		require.NoError(t, ml.LoadBatch(context.Background(), records))
		assert.Len(t, first.loaded, 2)
		assert.Len(t, second.loaded, 2)
	})

	t.Run("first failure aborts", func(t *testing.T) {
		first := &mockLoader{err: errors.New("down")}
		second := &mockLoader{}
		ml := pipeline.NewMultiLoader(first, second)

		err := ml.LoadBatch(context.Background(), records)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "loader 0")
		assert.Empty(t, second.loaded)
	})
}

// --- helpers ---

func makeRawSample(t *testing.T, tile, chl string) domain.RawSample {
	t.Helper()
	return domain.RawSample{
		Key: []byte(tile),
		Value: mustMarshal(t, map[string]string{
			"source":   "cmems-bio",
			"time":     "2021-06-15 12:00:00",
			"grid_id":  tile,
			"is_ocean": "1",
			"CHL":      chl,
		}),
		Timestamp: time.Date(2021, 6, 15, 12, 0, 0, 0, time.UTC),
	}
}

func mustMarshal(t *testing.T, fields map[string]string) []byte {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	return data
}
