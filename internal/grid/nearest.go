package grid

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// FillStats reports what one fill pass did to a single time step.
type FillStats struct {
	Step    int `json:"step"`
	Valid   int `json:"valid"`
	Missing int `json:"missing"`
	Filled  int `json:"filled"`
}

// FillNearest fills missing ocean cells of the named variable from the
// nearest valid ocean cell, one time step at a time. Distances are Euclidean
// in coordinate space. Land cells stay NaN; steps with nothing missing or
// nothing valid are left untouched.
func FillNearest(d *Dataset, name string) ([]FillStats, error) {
	c, err := d.Var(name)
	if err != nil {
		return nil, err
	}
	g := d.Grid

	stats := make([]FillStats, 0, len(c.Steps))
	for t, step := range c.Steps {
		valid, missing := splitCells(g, step)
		st := FillStats{Step: t, Valid: len(valid), Missing: len(missing)}
		if len(missing) == 0 || len(valid) == 0 {
			stats = append(stats, st)
			continue
		}

		pts := make(kdtree.Points, len(valid))
		cellOf := make(map[[2]float64]int, len(valid))
		for k, i := range valid {
			lat, lon := g.CellCoords(i)
			pts[k] = kdtree.Point{lat, lon}
			cellOf[[2]float64{lat, lon}] = i
		}
		tree := kdtree.New(pts, false)

		for _, i := range missing {
			lat, lon := g.CellCoords(i)
			got, _ := tree.Nearest(kdtree.Point{lat, lon})
			p := got.(kdtree.Point)
			step[i] = step[cellOf[[2]float64{p[0], p[1]}]]
		}
		st.Filled = len(missing)
		maskLand(g, step)
		stats = append(stats, st)
	}
	return stats, nil
}

// splitCells partitions the ocean cells of one step into those holding a
// value and those missing one. Land cells belong to neither set.
func splitCells(g *Grid, step []float64) (valid, missing []int) {
	for i, v := range step {
		if !g.IsOcean(i) {
			continue
		}
		if math.IsNaN(v) {
			missing = append(missing, i)
		} else {
			valid = append(valid, i)
		}
	}
	return valid, missing
}

// maskLand resets non-ocean cells to NaN after a fill so stray land values
// in the source never survive interpolation.
func maskLand(g *Grid, step []float64) {
	if g.Ocean == nil {
		return
	}
	for i, ocean := range g.Ocean {
		if !ocean {
			step[i] = math.NaN()
		}
	}
}
