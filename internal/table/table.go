// Package table implements the tabular side of the pipeline: tile-record
// frames with a CSV/TSV codec, the cleaning and aggregation transforms,
// schema validation, and the coverage and trend products computed from
// prepared datasets.
package table

import (
	"fmt"
	"time"

	"github.com/seastate/ocean-twin-etl/internal/grid"
)

// oceanColumn is the land/sea mask column carried by raw exports.
const oceanColumn = "is_ocean"

// A Table is a column-oriented frame of tile records. Times and Tiles are
// the index columns; either may be nil when the table never had, or has been
// aggregated away from, that axis. Data columns hold one float64 per row
// with NaN marking a missing value.
type Table struct {
	Times   []time.Time
	Tiles   []string
	Columns []string
	Data    map[string][]float64
}

// New returns an empty table with no rows or columns.
func New() *Table {
	return &Table{Data: make(map[string][]float64)}
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	if t.Times != nil {
		return len(t.Times)
	}
	if t.Tiles != nil {
		return len(t.Tiles)
	}
	for _, name := range t.Columns {
		return len(t.Data[name])
	}
	return 0
}

// Column returns the values of a data column.
func (t *Table) Column(name string) ([]float64, error) {
	col, ok := t.Data[name]
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	return col, nil
}

// AddColumn sets a data column. values must hold one entry per row. An
// existing column of the same name is replaced.
func (t *Table) AddColumn(name string, values []float64) {
	if _, ok := t.Data[name]; !ok {
		t.Columns = append(t.Columns, name)
	}
	t.Data[name] = values
}

// selectRows builds a new table from the given row indices, preserving
// column order and which index columns are present.
func (t *Table) selectRows(keep []int) *Table {
	out := New()
	if t.Times != nil {
		out.Times = make([]time.Time, len(keep))
		for j, i := range keep {
			out.Times[j] = t.Times[i]
		}
	}
	if t.Tiles != nil {
		out.Tiles = make([]string, len(keep))
		for j, i := range keep {
			out.Tiles[j] = t.Tiles[i]
		}
	}
	out.Columns = append([]string(nil), t.Columns...)
	for _, name := range t.Columns {
		src := t.Data[name]
		col := make([]float64, len(keep))
		for j, i := range keep {
			col[j] = src[i]
		}
		out.Data[name] = col
	}
	return out
}

// FromDataset flattens a gridded dataset into tile records, one row per
// time step and cell. With oceanOnly set, land cells are left out;
// otherwise the land/sea mask travels along as an is_ocean column so the
// ocean filter can run later. Grids without tile labels are labelled first.
func FromDataset(d *grid.Dataset, oceanOnly bool) *Table {
	g := d.Grid
	if len(g.Tiles) == 0 {
		g.AssignTiles()
	}
	cells := make([]int, 0, g.NumCells())
	for i := 0; i < g.NumCells(); i++ {
		if oceanOnly && !g.IsOcean(i) {
			continue
		}
		cells = append(cells, i)
	}
	steps := 1
	if d.Times != nil {
		steps = len(d.Times)
	}
	rows := steps * len(cells)

	t := New()
	if d.Times != nil {
		t.Times = make([]time.Time, 0, rows)
	}
	t.Tiles = make([]string, 0, rows)
	names := d.VarNames()
	for _, name := range names {
		t.Columns = append(t.Columns, name)
		t.Data[name] = make([]float64, 0, rows)
	}
	if !oceanOnly {
		t.Columns = append(t.Columns, oceanColumn)
		t.Data[oceanColumn] = make([]float64, 0, rows)
	}

	for s := 0; s < steps; s++ {
		for _, cell := range cells {
			if d.Times != nil {
				t.Times = append(t.Times, d.Times[s])
			}
			t.Tiles = append(t.Tiles, g.Tiles[cell])
			for _, name := range names {
				cube := d.Vars[name]
				step := s
				if len(cube.Steps) == 1 {
					step = 0
				}
				t.Data[name] = append(t.Data[name], cube.Steps[step][cell])
			}
			if !oceanOnly {
				mask := 0.0
				if g.IsOcean(cell) {
					mask = 1
				}
				t.Data[oceanColumn] = append(t.Data[oceanColumn], mask)
			}
		}
	}
	return t
}
