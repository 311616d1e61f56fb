package table

import (
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/seastate/ocean-twin-etl/internal/domain"
)

// Period is an inclusive range of calendar years.
type Period struct {
	From int
	To   int
}

// Default comparison windows for anomaly products.
var (
	DefaultEarlyPeriod = Period{From: 2003, To: 2007}
	DefaultLatePeriod  = Period{From: 2019, To: 2023}
)

func (p Period) contains(ts time.Time) bool {
	return ts.Year() >= p.From && ts.Year() <= p.To
}

// AnomalyPoint is the change in one tile's period mean between the early
// and late windows.
type AnomalyPoint struct {
	Tile    string
	Early   float64
	Late    float64
	Anomaly float64
}

// Anomaly compares per-tile means of a column between two year ranges and
// returns late minus early for every tile, sorted by tile label. A tile
// with no samples in a window carries NaN.
func (t *Table) Anomaly(column string, early, late Period) ([]AnomalyPoint, error) {
	col, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	if t.Times == nil {
		return nil, errors.New("table has no time column")
	}
	if t.Tiles == nil {
		return nil, errors.New("table has no tile column")
	}

	type acc struct {
		earlySum, lateSum float64
		earlyN, lateN     int
	}
	byTile := make(map[string]*acc)
	order := []string{}
	for i, tile := range t.Tiles {
		a := byTile[tile]
		if a == nil {
			a = &acc{}
			byTile[tile] = a
			order = append(order, tile)
		}
		v := col[i]
		if math.IsNaN(v) {
			continue
		}
		switch {
		case early.contains(t.Times[i]):
			a.earlySum += v
			a.earlyN++
		case late.contains(t.Times[i]):
			a.lateSum += v
			a.lateN++
		}
	}
	sort.Strings(order)

	out := make([]AnomalyPoint, 0, len(order))
	for _, tile := range order {
		a := byTile[tile]
		p := AnomalyPoint{Tile: tile, Early: math.NaN(), Late: math.NaN()}
		if a.earlyN > 0 {
			p.Early = a.earlySum / float64(a.earlyN)
		}
		if a.lateN > 0 {
			p.Late = a.lateSum / float64(a.lateN)
		}
		p.Anomaly = p.Late - p.Early
		out = append(out, p)
	}
	return out, nil
}

// TrendPoint is the spatial mean of a column at one time step.
type TrendPoint struct {
	Time time.Time
	Mean float64
	N    int
}

// Evolution is a spatial-mean time series with its least-squares trend.
// The slope is per time step, fitted against 0, 1, 2... positions.
type Evolution struct {
	Points    []TrendPoint
	Intercept float64
	Slope     float64
}

// Evolution reduces a column to its mean at each time step and fits a
// linear trend through the step means. Steps with no data stay in the
// series as NaN but are left out of the fit.
func (t *Table) Evolution(column string) (*Evolution, error) {
	col, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	if t.Times == nil {
		return nil, errors.New("table has no time column")
	}

	times, groups := groupByTime(t.Times)
	ev := &Evolution{Intercept: math.NaN(), Slope: math.NaN()}
	var xs, ys []float64
	for j, rows := range groups {
		mean, n := nanMean(col, rows)
		ev.Points = append(ev.Points, TrendPoint{Time: times[j], Mean: mean, N: n})
		if n > 0 {
			xs = append(xs, float64(j))
			ys = append(ys, mean)
		}
	}
	if len(xs) >= 2 {
		ev.Intercept, ev.Slope = stat.LinearRegression(xs, ys, nil, false)
	}
	return ev, nil
}

// CompositionPoint carries the relative share of each phytoplankton group
// at one time step. Shares sum to one across the groups present.
type CompositionPoint struct {
	Time   time.Time
	Shares map[string]float64
}

// PhytoComposition computes group shares from the mean concentration of
// each functional group per time step. Tables without a time column
// collapse to a single zero-time point.
func (t *Table) PhytoComposition() ([]CompositionPoint, error) {
	var groups []string
	for _, name := range domain.PhytoGroups {
		if _, ok := t.Data[name]; ok {
			groups = append(groups, name)
		}
	}
	if len(groups) == 0 {
		return nil, errors.New("no phytoplankton group columns in table")
	}

	var when []time.Time
	var rowSets [][]int
	if t.Times != nil {
		when, rowSets = groupByTime(t.Times)
	} else {
		all := make([]int, t.NumRows())
		for i := range all {
			all[i] = i
		}
		when, rowSets = []time.Time{{}}, [][]int{all}
	}

	out := make([]CompositionPoint, 0, len(rowSets))
	for j, rows := range rowSets {
		means := make(map[string]float64, len(groups))
		total := 0.0
		for _, g := range groups {
			m, n := nanMean(t.Data[g], rows)
			means[g] = m
			if n > 0 {
				total += m
			}
		}
		shares := make(map[string]float64, len(groups))
		for _, g := range groups {
			if total != 0 {
				shares[g] = means[g] / total
			} else {
				shares[g] = math.NaN()
			}
		}
		out = append(out, CompositionPoint{Time: when[j], Shares: shares})
	}
	return out, nil
}
