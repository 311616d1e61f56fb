package grid

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// DefaultRegridPoints is the target axis length used when none is given.
const DefaultRegridPoints = 480

// Regrid methods.
const (
	MethodLinear  = "linear"
	MethodNearest = "nearest"
)

// RegridOptions define the uniform target grid.
type RegridOptions struct {
	LatMin, LatMax float64
	LonMin, LonMax float64
	Points         int    // points per axis, DefaultRegridPoints when zero
	Method         string // MethodLinear (default) or MethodNearest
}

// Regrid interpolates every variable onto an evenly spaced Points x Points
// grid spanning the requested ranges. Linear interpolation is bilinear over
// the four surrounding source cells and yields NaN when any of them is
// missing; target cells outside the source axes are NaN. The ocean mask is
// carried over from the nearest source cell and tile labels are reassigned
// from the new indices.
func Regrid(d *Dataset, opts RegridOptions) (*Dataset, error) {
	n := opts.Points
	if n == 0 {
		n = DefaultRegridPoints
	}
	if n < 2 {
		return nil, errors.New("regrid needs at least two points per axis")
	}
	method := opts.Method
	if method == "" {
		method = MethodLinear
	}
	if method != MethodLinear && method != MethodNearest {
		return nil, fmt.Errorf("unknown regrid method %q", method)
	}
	if opts.LatMax <= opts.LatMin || opts.LonMax <= opts.LonMin {
		return nil, errors.New("regrid ranges must have positive extent")
	}

	ng, err := NewGrid(linspace(opts.LatMin, opts.LatMax, n), linspace(opts.LonMin, opts.LonMax, n))
	if err != nil {
		return nil, err
	}
	latW := axisWeights(d.Grid.Lats, ng.Lats)
	lonW := axisWeights(d.Grid.Lons, ng.Lons)

	out := NewDataset(ng, d.Times)
	for name, c := range d.Vars {
		steps := make([][]float64, len(c.Steps))
		for t, step := range c.Steps {
			dst := make([]float64, ng.NumCells())
			for r, rw := range latW {
				for col, cw := range lonW {
					dst[ng.Index(r, col)] = sampleCell(d.Grid, step, rw, cw, method)
				}
			}
			steps[t] = dst
		}
		out.Vars[name] = &Cube{Name: c.Name, Unit: c.Unit, Steps: steps}
	}

	if d.Grid.Ocean != nil {
		mask := make([]bool, ng.NumCells())
		for r, rw := range latW {
			for col, cw := range lonW {
				if rw.inside && cw.inside {
					mask[ng.Index(r, col)] = d.Grid.Ocean[d.Grid.Index(rw.near, cw.near)]
				}
			}
		}
		ng.Ocean = mask
	}
	if d.Grid.Tiles != nil {
		ng.AssignTiles()
	}
	return out, nil
}

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// axisWeight places one target coordinate on a source axis: the bracketing
// indices with the interpolation fraction, and the single nearest index.
type axisWeight struct {
	i0, i1 int
	frac   float64
	near   int
	inside bool
}

func axisWeights(src, dst []float64) []axisWeight {
	out := make([]axisWeight, len(dst))
	for k, x := range dst {
		if x < src[0] || x > src[len(src)-1] {
			continue
		}
		w := axisWeight{inside: true}
		j := sort.SearchFloat64s(src, x)
		switch {
		case src[j] == x:
			w.i0, w.i1, w.near = j, j, j
		default:
			w.i0, w.i1 = j-1, j
			w.frac = (x - src[j-1]) / (src[j] - src[j-1])
			w.near = j - 1
			if x-src[j-1] > src[j]-x {
				w.near = j
			}
		}
		out[k] = w
	}
	return out
}

func sampleCell(g *Grid, step []float64, rw, cw axisWeight, method string) float64 {
	if !rw.inside || !cw.inside {
		return math.NaN()
	}
	if method == MethodNearest {
		return step[g.Index(rw.near, cw.near)]
	}
	v00 := step[g.Index(rw.i0, cw.i0)]
	v01 := step[g.Index(rw.i0, cw.i1)]
	v10 := step[g.Index(rw.i1, cw.i0)]
	v11 := step[g.Index(rw.i1, cw.i1)]
	top := v00*(1-cw.frac) + v01*cw.frac
	bottom := v10*(1-cw.frac) + v11*cw.frac
	return top*(1-rw.frac) + bottom*rw.frac
}
