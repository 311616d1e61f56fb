// Package grid holds the gridded form of the twin state: regular lat/lon
// axes, per-variable value cubes over time, and the selection and fill
// operations the batch tools run on them. Missing values are NaN throughout.
package grid

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/seastate/ocean-twin-etl/internal/domain"
)

// bboxTolerance widens bounding-box selections so cell centres sitting
// exactly on the requested edge are kept despite float rounding.
const bboxTolerance = 0.01

// Grid is the spatial frame of a dataset: strictly ascending latitude and
// longitude axes plus optional per-cell metadata. Cell arrays are row-major
// with latitude as the outer dimension, so cell i covers
// (Lats[i/len(Lons)], Lons[i%len(Lons)]).
type Grid struct {
	Lats  []float64
	Lons  []float64
	Ocean []bool   // nil when the dataset carries no land/sea mask
	Tiles []string // nil until AssignTiles runs or a source file provides labels
}

// NewGrid builds a grid from the two axes, rejecting empty or unsorted input.
func NewGrid(lats, lons []float64) (*Grid, error) {
	if len(lats) == 0 || len(lons) == 0 {
		return nil, errors.New("grid axes must not be empty")
	}
	if !strictlyAscending(lats) {
		return nil, errors.New("latitude axis must be strictly ascending")
	}
	if !strictlyAscending(lons) {
		return nil, errors.New("longitude axis must be strictly ascending")
	}
	return &Grid{Lats: lats, Lons: lons}, nil
}

func strictlyAscending(xs []float64) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			return false
		}
	}
	return true
}

// NumCells returns the flattened cell count.
func (g *Grid) NumCells() int {
	return len(g.Lats) * len(g.Lons)
}

// Index flattens a (row, col) pair into a cell index.
func (g *Grid) Index(row, col int) int {
	return row*len(g.Lons) + col
}

// CellCoords returns the centre coordinates of cell i.
func (g *Grid) CellCoords(i int) (lat, lon float64) {
	return g.Lats[i/len(g.Lons)], g.Lons[i%len(g.Lons)]
}

// IsOcean reports whether cell i is ocean. Grids without a mask treat every
// cell as ocean.
func (g *Grid) IsOcean(i int) bool {
	return g.Ocean == nil || g.Ocean[i]
}

// AssignTiles labels every cell with its battleship-style tile ID derived
// from the local column and row indices.
func (g *Grid) AssignTiles() {
	tiles := make([]string, 0, g.NumCells())
	for row := range g.Lats {
		for col := range g.Lons {
			tiles = append(tiles, domain.TileID(col, row))
		}
	}
	g.Tiles = tiles
}

// TileCell resolves a tile label to a flattened cell index. Grids carrying
// explicit labels (a cropped dataset keeps its original IDs) are scanned;
// otherwise the label is decoded against the local indices.
func (g *Grid) TileCell(id string) (int, error) {
	if g.Tiles != nil {
		for i, t := range g.Tiles {
			if t == id {
				return i, nil
			}
		}
		return 0, fmt.Errorf("no cell labelled %q", id)
	}
	col, row, err := domain.ParseTileID(id)
	if err != nil {
		return 0, err
	}
	if row >= len(g.Lats) || col >= len(g.Lons) {
		return 0, fmt.Errorf("tile %s outside the %dx%d grid", id, len(g.Lats), len(g.Lons))
	}
	return g.Index(row, col), nil
}

// Equal reports whether two grids share identical axes.
func (g *Grid) Equal(other *Grid) bool {
	if len(g.Lats) != len(other.Lats) || len(g.Lons) != len(other.Lons) {
		return false
	}
	for i := range g.Lats {
		if g.Lats[i] != other.Lats[i] {
			return false
		}
	}
	for i := range g.Lons {
		if g.Lons[i] != other.Lons[i] {
			return false
		}
	}
	return true
}

// Cube holds one variable across the grid and time: Steps[t][i] is the value
// at time step t and flattened cell i.
type Cube struct {
	Name  string
	Unit  string
	Steps [][]float64
}

// Dataset is a set of variable cubes sharing one grid and one ascending time
// axis.
type Dataset struct {
	Grid  *Grid
	Times []time.Time
	Vars  map[string]*Cube
}

// NewDataset wraps a grid and time axis with an empty variable map.
func NewDataset(g *Grid, times []time.Time) *Dataset {
	return &Dataset{Grid: g, Times: times, Vars: make(map[string]*Cube)}
}

// Var returns the named cube.
func (d *Dataset) Var(name string) (*Cube, error) {
	c, ok := d.Vars[name]
	if !ok {
		return nil, fmt.Errorf("variable %q not found in dataset", name)
	}
	return c, nil
}

// VarNames returns the variable names in sorted order.
func (d *Dataset) VarNames() []string {
	names := make([]string, 0, len(d.Vars))
	for name := range d.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SelectTimeRange returns the dataset restricted to steps within the
// inclusive [from, to] window. A zero bound leaves that end open. The result
// shares backing arrays with the receiver.
func (d *Dataset) SelectTimeRange(from, to time.Time) (*Dataset, error) {
	lo := 0
	if !from.IsZero() {
		for lo < len(d.Times) && d.Times[lo].Before(from) {
			lo++
		}
	}
	hi := len(d.Times)
	if !to.IsZero() {
		for hi > lo && d.Times[hi-1].After(to) {
			hi--
		}
	}
	if lo == hi {
		return nil, fmt.Errorf("no time steps between %s and %s",
			formatBound(from, "start"), formatBound(to, "end"))
	}
	out := NewDataset(d.Grid, d.Times[lo:hi])
	for name, c := range d.Vars {
		out.Vars[name] = &Cube{Name: c.Name, Unit: c.Unit, Steps: c.Steps[lo:hi]}
	}
	return out, nil
}

func formatBound(t time.Time, open string) string {
	if t.IsZero() {
		return open
	}
	return t.Format("2006-01-02")
}

// SelectBBox crops the dataset to cells within the latitude and longitude
// ranges, widened by the edge tolerance.
func (d *Dataset) SelectBBox(latMin, latMax, lonMin, lonMax float64) (*Dataset, error) {
	g := d.Grid
	rlo, rhi := axisRange(g.Lats, latMin-bboxTolerance, latMax+bboxTolerance)
	clo, chi := axisRange(g.Lons, lonMin-bboxTolerance, lonMax+bboxTolerance)
	if rlo == rhi || clo == chi {
		return nil, fmt.Errorf("no cells between lat %g..%g lon %g..%g", latMin, latMax, lonMin, lonMax)
	}

	ng := &Grid{
		Lats: g.Lats[rlo:rhi],
		Lons: g.Lons[clo:chi],
	}
	if g.Ocean != nil {
		ng.Ocean = cropCells(g.Ocean, len(g.Lons), rlo, rhi, clo, chi)
	}
	if g.Tiles != nil {
		ng.Tiles = cropCells(g.Tiles, len(g.Lons), rlo, rhi, clo, chi)
	}

	out := NewDataset(ng, d.Times)
	for name, c := range d.Vars {
		steps := make([][]float64, len(c.Steps))
		for t, step := range c.Steps {
			steps[t] = cropCells(step, len(g.Lons), rlo, rhi, clo, chi)
		}
		out.Vars[name] = &Cube{Name: c.Name, Unit: c.Unit, Steps: steps}
	}
	return out, nil
}

// axisRange returns the half-open index range of axis values within [lo, hi].
func axisRange(xs []float64, lo, hi float64) (int, int) {
	first := sort.SearchFloat64s(xs, lo)
	last := sort.Search(len(xs), func(i int) bool { return xs[i] > hi })
	if last < first {
		last = first
	}
	return first, last
}

func cropCells[T any](cells []T, nLon, rlo, rhi, clo, chi int) []T {
	out := make([]T, 0, (rhi-rlo)*(chi-clo))
	for r := rlo; r < rhi; r++ {
		out = append(out, cells[r*nLon+clo:r*nLon+chi]...)
	}
	return out
}

// FilterValueRange masks cells of the named variable outside the inclusive
// [min, max] range to NaN, in place, returning the number of cells masked.
// Masking away every value is an error.
func (d *Dataset) FilterValueRange(name string, min, max float64) (int, error) {
	c, err := d.Var(name)
	if err != nil {
		return 0, err
	}
	masked, kept := 0, 0
	for _, step := range c.Steps {
		for i, v := range step {
			if math.IsNaN(v) {
				continue
			}
			if v < min || v > max {
				step[i] = math.NaN()
				masked++
			} else {
				kept++
			}
		}
	}
	if kept == 0 {
		return masked, fmt.Errorf("no %s values between %g and %g", name, min, max)
	}
	return masked, nil
}

// AdoptOceanMask converts the named variable (1 = ocean) into the grid's
// land/sea mask and removes it from the variable map. The mask is taken from
// the first time step.
func (d *Dataset) AdoptOceanMask(name string) error {
	c, ok := d.Vars[name]
	if !ok {
		return fmt.Errorf("mask variable %q not found in dataset", name)
	}
	if len(c.Steps) == 0 {
		return fmt.Errorf("mask variable %q has no data", name)
	}
	mask := make([]bool, d.Grid.NumCells())
	for i, v := range c.Steps[0] {
		mask[i] = v >= 0.5
	}
	d.Grid.Ocean = mask
	delete(d.Vars, name)
	return nil
}

// TileSeries returns the time series of the named variable at one tile.
func (d *Dataset) TileSeries(name, tile string) ([]float64, error) {
	c, err := d.Var(name)
	if err != nil {
		return nil, err
	}
	cell, err := d.Grid.TileCell(tile)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(c.Steps))
	for t, step := range c.Steps {
		out[t] = step[cell]
	}
	return out, nil
}

// ConcatTime joins datasets that share a grid and variable set into one
// dataset ordered by time.
func ConcatTime(parts ...*Dataset) (*Dataset, error) {
	if len(parts) == 0 {
		return nil, errors.New("nothing to concatenate")
	}
	base := parts[0]
	for _, p := range parts[1:] {
		if !base.Grid.Equal(p.Grid) {
			return nil, errors.New("datasets are on different grids")
		}
		if len(p.Vars) != len(base.Vars) {
			return nil, errors.New("datasets carry different variables")
		}
		for name := range base.Vars {
			if _, ok := p.Vars[name]; !ok {
				return nil, fmt.Errorf("variable %q missing from one of the datasets", name)
			}
		}
	}

	type slot struct {
		part int
		step int
	}
	var order []slot
	for pi, p := range parts {
		for t := range p.Times {
			order = append(order, slot{part: pi, step: t})
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return parts[order[i].part].Times[order[i].step].Before(parts[order[j].part].Times[order[j].step])
	})

	out := NewDataset(base.Grid, make([]time.Time, len(order)))
	for i, s := range order {
		out.Times[i] = parts[s.part].Times[s.step]
	}
	for name, c := range base.Vars {
		steps := make([][]float64, len(order))
		for i, s := range order {
			steps[i] = parts[s.part].Vars[name].Steps[s.step]
		}
		out.Vars[name] = &Cube{Name: c.Name, Unit: c.Unit, Steps: steps}
	}
	return out, nil
}
