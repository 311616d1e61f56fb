package grid

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nan() float64 { return math.NaN() }

func singleStepDataset(t *testing.T, lats, lons []float64, step []float64) *Dataset {
	t.Helper()
	g, err := NewGrid(lats, lons)
	require.NoError(t, err)
	require.Len(t, step, g.NumCells())
	d := NewDataset(g, []time.Time{time.Date(2021, 6, 15, 0, 0, 0, 0, time.UTC)})
	d.Vars["env.sst"] = &Cube{Name: "env.sst", Unit: "degC", Steps: [][]float64{step}}
	return d
}

func TestFillNearest(t *testing.T) {
	// Two valid cells at opposite corners of a 3x3 grid with an uneven
	// longitude axis, so every gap has a unique closest source.
	d := singleStepDataset(t,
		[]float64{0, 1, 2},
		[]float64{0, 1, 3},
		[]float64{
			1, nan(), nan(),
			nan(), nan(), nan(),
			nan(), nan(), 9,
		},
	)

	stats, err := FillNearest(d, "env.sst")
	require.NoError(t, err)

	require.Len(t, stats, 1)
	assert.Equal(t, FillStats{Step: 0, Valid: 2, Missing: 7, Filled: 7}, stats[0])
	assert.Equal(t, []float64{
		1, 1, 9,
		1, 1, 9,
		1, 9, 9,
	}, d.Vars["env.sst"].Steps[0])
}

func TestFillNearestRespectsOceanMask(t *testing.T) {
	d := singleStepDataset(t,
		[]float64{0, 1},
		[]float64{0, 1},
		[]float64{
			5, nan(),
			nan(), 2, // stray value on land
		},
	)
	d.Grid.Ocean = []bool{true, true, true, false}

	stats, err := FillNearest(d, "env.sst")
	require.NoError(t, err)

	assert.Equal(t, FillStats{Step: 0, Valid: 1, Missing: 2, Filled: 2}, stats[0])
	step := d.Vars["env.sst"].Steps[0]
	assert.Equal(t, 5.0, step[0])
	assert.Equal(t, 5.0, step[1])
	assert.Equal(t, 5.0, step[2])
	assert.True(t, math.IsNaN(step[3]), "land cell should end up NaN")
}

func TestFillNearestSkipsCompleteStep(t *testing.T) {
	d := singleStepDataset(t, []float64{0, 1}, []float64{0, 1}, []float64{1, 2, 3, 4})

	stats, err := FillNearest(d, "env.sst")
	require.NoError(t, err)

	assert.Equal(t, FillStats{Step: 0, Valid: 4, Missing: 0, Filled: 0}, stats[0])
	assert.Equal(t, []float64{1, 2, 3, 4}, d.Vars["env.sst"].Steps[0])
}

func TestFillNearestSkipsEmptyStep(t *testing.T) {
	d := singleStepDataset(t, []float64{0, 1}, []float64{0, 1},
		[]float64{nan(), nan(), nan(), nan()})

	stats, err := FillNearest(d, "env.sst")
	require.NoError(t, err)

	assert.Equal(t, FillStats{Step: 0, Valid: 0, Missing: 4, Filled: 0}, stats[0])
	for _, v := range d.Vars["env.sst"].Steps[0] {
		assert.True(t, math.IsNaN(v))
	}
}

func TestFillNearestUnknownVariable(t *testing.T) {
	d := singleStepDataset(t, []float64{0, 1}, []float64{0, 1}, []float64{1, 2, 3, 4})

	_, err := FillNearest(d, "bio.chl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `variable "bio.chl" not found`)
}

func TestFillNearestFillsEachStepIndependently(t *testing.T) {
	g, err := NewGrid([]float64{0, 1}, []float64{0, 1})
	require.NoError(t, err)
	d := NewDataset(g, []time.Time{
		time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 6, 2, 0, 0, 0, 0, time.UTC),
	})
	d.Vars["env.sst"] = &Cube{Name: "env.sst", Steps: [][]float64{
		{10, nan(), nan(), nan()},
		{nan(), nan(), nan(), 20},
	}}

	stats, err := FillNearest(d, "env.sst")
	require.NoError(t, err)

	require.Len(t, stats, 2)
	assert.Equal(t, []float64{10, 10, 10, 10}, d.Vars["env.sst"].Steps[0])
	assert.Equal(t, []float64{20, 20, 20, 20}, d.Vars["env.sst"].Steps[1])
}
