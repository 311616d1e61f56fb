package table

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoverage(t *testing.T) {
	report := sampleTable().Coverage()

	require.Len(t, report.Columns, 2)
	assert.Equal(t, "env.sst", report.Columns[0].Column)
	assert.InDelta(t, 100, report.Columns[0].Percent, 1e-12)
	assert.Equal(t, "bio.chl", report.Columns[1].Column)
	assert.InDelta(t, 100*5.0/6.0, report.Columns[1].Percent, 1e-9)

	// Row completeness is [100 100 100 50 100 100].
	rows := report.Rows
	assert.Equal(t, 6, rows.Count)
	assert.InDelta(t, 550.0/6.0, rows.Mean, 1e-9)
	assert.InDelta(t, 20.412414523193152, rows.Std, 1e-9)
	assert.InDelta(t, 50, rows.Min, 1e-12)
	assert.InDelta(t, 100, rows.Q25, 1e-12)
	assert.InDelta(t, 100, rows.Median, 1e-12)
	assert.InDelta(t, 100, rows.Q75, 1e-12)
	assert.InDelta(t, 100, rows.Max, 1e-12)
}

func TestCoverageEmptyTable(t *testing.T) {
	report := New().Coverage()
	assert.Empty(t, report.Columns)
	assert.Equal(t, 0, report.Rows.Count)
}

func TestRequireColumns(t *testing.T) {
	tb := sampleTable()
	assert.NoError(t, tb.RequireColumns("bio.chl", "env.sst"))

	err := tb.RequireColumns("bio.chl", "env.par", "bio.npp")
	assert.EqualError(t, err, "missing required columns: env.par, bio.npp")
}

func TestCheckRange(t *testing.T) {
	tb := sampleTable()

	ok, err := tb.CheckRange("bio.chl", 0, 10)
	require.NoError(t, err)
	assert.True(t, ok, "missing values do not fail the range check")

	ok, err = tb.CheckRange("bio.chl", 2, 6)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = tb.CheckRange("bogus", 0, 1)
	assert.EqualError(t, err, `column "bogus" not found`)
}

func TestValidateSchema(t *testing.T) {
	tb := New()
	tb.AddColumn("bio.chl", []float64{1, -2, 150, nan()})
	tb.AddColumn("env.sst", []float64{10, 20, 30, 40})
	tb.AddColumn("mystery", []float64{1e9, -1e9, 0, 0})

	violations := tb.ValidateSchema()
	require.Len(t, violations, 1)
	assert.Equal(t, "bio.chl", violations[0].Column)
	assert.Equal(t, 2, violations[0].Count)
	assert.InDelta(t, 0, violations[0].Min, 1e-12)
	assert.InDelta(t, 100, violations[0].Max, 1e-12)
}

func TestAnomaly(t *testing.T) {
	tb := New()
	tb.Times = []time.Time{
		ymd(2003, 5, 1), ymd(2003, 5, 1),
		ymd(2004, 5, 1), ymd(2004, 5, 1),
		ymd(2010, 5, 1),
		ymd(2020, 5, 1), ymd(2020, 5, 1), ymd(2020, 5, 1),
		ymd(2021, 5, 1), ymd(2021, 5, 1),
	}
	tb.Tiles = []string{"A1", "B1", "A1", "B1", "A1", "A1", "B1", "C1", "A1", "B1"}
	tb.AddColumn("bio.chl", []float64{1, 3, 3, 5, 100, 11, nan(), 5, 13, 7})

	points, err := tb.Anomaly("bio.chl", DefaultEarlyPeriod, DefaultLatePeriod)
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, "A1", points[0].Tile)
	assert.InDelta(t, 2, points[0].Early, 1e-12)
	assert.InDelta(t, 12, points[0].Late, 1e-12)
	// The 2010 sample sits in neither window and must not leak in.
	assert.InDelta(t, 10, points[0].Anomaly, 1e-12)

	assert.Equal(t, "B1", points[1].Tile)
	assert.InDelta(t, 4, points[1].Early, 1e-12)
	assert.InDelta(t, 7, points[1].Late, 1e-12)
	assert.InDelta(t, 3, points[1].Anomaly, 1e-12)

	assert.Equal(t, "C1", points[2].Tile)
	assert.True(t, math.IsNaN(points[2].Early))
	assert.InDelta(t, 5, points[2].Late, 1e-12)
	assert.True(t, math.IsNaN(points[2].Anomaly))
}

func TestAnomalyErrors(t *testing.T) {
	t.Run("unknown column", func(t *testing.T) {
		_, err := sampleTable().Anomaly("bogus", DefaultEarlyPeriod, DefaultLatePeriod)
		assert.EqualError(t, err, `column "bogus" not found`)
	})
	t.Run("no tile column", func(t *testing.T) {
		byTime, err := sampleTable().Aggregate(ByTime, AggMean)
		require.NoError(t, err)
		_, err = byTime.Anomaly("bio.chl", DefaultEarlyPeriod, DefaultLatePeriod)
		assert.EqualError(t, err, "table has no tile column")
	})
	t.Run("no time column", func(t *testing.T) {
		byTile, err := sampleTable().Aggregate(ByTile, AggMean)
		require.NoError(t, err)
		_, err = byTile.Anomaly("bio.chl", DefaultEarlyPeriod, DefaultLatePeriod)
		assert.EqualError(t, err, "table has no time column")
	})
}

func TestEvolution(t *testing.T) {
	tb := New()
	tb.Times = []time.Time{day(10), day(10), day(11), day(11), day(12), day(12)}
	tb.Tiles = []string{"A1", "B1", "A1", "B1", "A1", "B1"}
	tb.AddColumn("bio.chl", []float64{1, 3, 3, 5, 5, 7})

	ev, err := tb.Evolution("bio.chl")
	require.NoError(t, err)
	require.Len(t, ev.Points, 3)
	assert.True(t, ev.Points[0].Time.Equal(day(10)))
	assert.InDelta(t, 2, ev.Points[0].Mean, 1e-12)
	assert.InDelta(t, 4, ev.Points[1].Mean, 1e-12)
	assert.InDelta(t, 6, ev.Points[2].Mean, 1e-12)
	assert.Equal(t, 2, ev.Points[0].N)
	assert.InDelta(t, 2, ev.Slope, 1e-12)
	assert.InDelta(t, 2, ev.Intercept, 1e-12)
}

func TestEvolutionSkipsEmptySteps(t *testing.T) {
	tb := New()
	tb.Times = []time.Time{day(10), day(10), day(11), day(11), day(12), day(12)}
	tb.AddColumn("bio.chl", []float64{1, 3, nan(), nan(), 5, 7})

	ev, err := tb.Evolution("bio.chl")
	require.NoError(t, err)
	require.Len(t, ev.Points, 3)
	assert.True(t, math.IsNaN(ev.Points[1].Mean))
	assert.Equal(t, 0, ev.Points[1].N)
	assert.InDelta(t, 2, ev.Slope, 1e-12)
	assert.InDelta(t, 2, ev.Intercept, 1e-12)
}

func TestEvolutionErrors(t *testing.T) {
	_, err := sampleTable().Evolution("bogus")
	assert.EqualError(t, err, `column "bogus" not found`)

	byTile, err := sampleTable().Aggregate(ByTile, AggMean)
	require.NoError(t, err)
	_, err = byTile.Evolution("bio.chl")
	assert.EqualError(t, err, "table has no time column")
}

func TestPhytoComposition(t *testing.T) {
	tb := New()
	tb.Times = []time.Time{day(10), day(10), day(11), day(11)}
	tb.Tiles = []string{"A1", "B1", "A1", "B1"}
	tb.AddColumn("bio.phyto.diato", []float64{2, 4, 2, 2})
	tb.AddColumn("bio.phyto.pico", []float64{1, 1, 6, nan()})

	points, err := tb.PhytoComposition()
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.True(t, points[0].Time.Equal(day(10)))
	assert.InDelta(t, 0.75, points[0].Shares["bio.phyto.diato"], 1e-12)
	assert.InDelta(t, 0.25, points[0].Shares["bio.phyto.pico"], 1e-12)

	assert.InDelta(t, 0.25, points[1].Shares["bio.phyto.diato"], 1e-12)
	assert.InDelta(t, 0.75, points[1].Shares["bio.phyto.pico"], 1e-12)

	for _, p := range points {
		sum := 0.0
		for _, share := range p.Shares {
			sum += share
		}
		assert.InDelta(t, 1, sum, 1e-12)
	}
}

func TestPhytoCompositionWithoutTime(t *testing.T) {
	tb := New()
	tb.Tiles = []string{"A1", "B1", "A1", "B1"}
	tb.AddColumn("bio.phyto.diato", []float64{2, 4, 2, 2})
	tb.AddColumn("bio.phyto.pico", []float64{1, 1, 6, nan()})

	points, err := tb.PhytoComposition()
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].Time.IsZero())
	assert.InDelta(t, 15.0/31.0, points[0].Shares["bio.phyto.diato"], 1e-12)
	assert.InDelta(t, 16.0/31.0, points[0].Shares["bio.phyto.pico"], 1e-12)
}

func TestPhytoCompositionNeedsGroups(t *testing.T) {
	_, err := sampleTable().PhytoComposition()
	assert.EqualError(t, err, "no phytoplankton group columns in table")
}
