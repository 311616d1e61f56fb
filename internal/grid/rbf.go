package grid

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

const (
	defaultSmoothing = 1e-2
	defaultMaxPoints = 5000

	// minValidForRBF is the smallest sample worth fitting a surface to.
	minValidForRBF = 10
)

// RBFOptions tunes the radial-basis fill. Zero values take the defaults.
type RBFOptions struct {
	// Smoothing is added to the kernel diagonal so the surface regresses
	// through noisy samples instead of interpolating them exactly.
	Smoothing float64
	// MaxPoints caps the number of valid cells fitted per step; larger
	// sets are randomly subsampled.
	MaxPoints int
	// Seed drives the subsampling so runs are reproducible.
	Seed uint64
}

// FillRBF fills missing ocean cells of the named variable with a thin-plate
// spline fitted to the valid ocean cells of each time step. Steps with fewer
// than ten valid cells, nothing missing, or a singular system are skipped.
// Land cells stay NaN.
func FillRBF(d *Dataset, name string, opts RBFOptions) ([]FillStats, error) {
	c, err := d.Var(name)
	if err != nil {
		return nil, err
	}
	if opts.Smoothing == 0 {
		opts.Smoothing = defaultSmoothing
	}
	if opts.MaxPoints == 0 {
		opts.MaxPoints = defaultMaxPoints
	}
	g := d.Grid
	rng := rand.New(rand.NewPCG(opts.Seed, 0))

	stats := make([]FillStats, 0, len(c.Steps))
	for t, step := range c.Steps {
		valid, missing := splitCells(g, step)
		st := FillStats{Step: t, Valid: len(valid), Missing: len(missing)}
		if len(valid) < minValidForRBF || len(missing) == 0 {
			stats = append(stats, st)
			continue
		}

		sample := valid
		if len(valid) > opts.MaxPoints {
			perm := rng.Perm(len(valid))
			sample = make([]int, opts.MaxPoints)
			for k := range sample {
				sample[k] = valid[perm[k]]
			}
		}

		xs := make([]float64, len(sample)) // lon
		ys := make([]float64, len(sample)) // lat
		for k, i := range sample {
			ys[k], xs[k] = g.CellCoords(i)
		}

		w, err := solveThinPlate(xs, ys, step, sample, opts.Smoothing)
		if err != nil {
			stats = append(stats, st)
			continue
		}
		for _, i := range missing {
			lat, lon := g.CellCoords(i)
			step[i] = evalThinPlate(xs, ys, w, lon, lat)
		}
		st.Filled = len(missing)
		maskLand(g, step)
		stats = append(stats, st)
	}
	return stats, nil
}

// thinPlate is the 2-D thin-plate kernel r^2 log r, zero at the origin.
func thinPlate(r float64) float64 {
	if r == 0 {
		return 0
	}
	return r * r * math.Log(r)
}

// solveThinPlate fits spline weights plus a degree-1 polynomial tail:
// the kernel block carries the smoothing on its diagonal and the last three
// rows force the weights to be orthogonal to the polynomial span.
func solveThinPlate(xs, ys []float64, step []float64, sample []int, smoothing float64) (*mat.VecDense, error) {
	n := len(sample)
	dim := n + 3
	a := mat.NewDense(dim, dim, nil)
	b := mat.NewVecDense(dim, nil)

	for i := 0; i < n; i++ {
		b.SetVec(i, step[sample[i]])
		for j := i + 1; j < n; j++ {
			v := thinPlate(math.Hypot(xs[i]-xs[j], ys[i]-ys[j]))
			a.Set(i, j, v)
			a.Set(j, i, v)
		}
		a.Set(i, i, smoothing)
		a.Set(i, n, 1)
		a.Set(i, n+1, xs[i])
		a.Set(i, n+2, ys[i])
		a.Set(n, i, 1)
		a.Set(n+1, i, xs[i])
		a.Set(n+2, i, ys[i])
	}

	var w mat.VecDense
	if err := w.SolveVec(a, b); err != nil {
		return nil, err
	}
	return &w, nil
}

func evalThinPlate(xs, ys []float64, w *mat.VecDense, x, y float64) float64 {
	n := len(xs)
	v := w.AtVec(n) + w.AtVec(n+1)*x + w.AtVec(n+2)*y
	for k := 0; k < n; k++ {
		v += w.AtVec(k) * thinPlate(math.Hypot(x-xs[k], y-ys[k]))
	}
	return v
}
