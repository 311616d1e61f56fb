package table

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/seastate/ocean-twin-etl/internal/domain"
)

// CanonicalizeReport summarizes what the ocean filter and renaming did.
type CanonicalizeReport struct {
	Rows    int
	Dropped int
	Renamed map[string]string
	Skipped []string
}

// Canonicalize keeps only ocean rows and maps source column names onto the
// canonical tile schema. Columns with no canonical mapping (coordinates,
// the mask itself, anything unknown) are dropped and listed in the report.
func (t *Table) Canonicalize() (*Table, *CanonicalizeReport, error) {
	mask, err := t.Column(oceanColumn)
	if err != nil {
		return nil, nil, err
	}
	keep := make([]int, 0, t.NumRows())
	for i, v := range mask {
		if v == 1 {
			keep = append(keep, i)
		}
	}
	report := &CanonicalizeReport{
		Rows:    len(keep),
		Dropped: t.NumRows() - len(keep),
		Renamed: make(map[string]string),
	}
	filtered := t.selectRows(keep)

	out := New()
	out.Times = filtered.Times
	out.Tiles = filtered.Tiles
	for _, name := range filtered.Columns {
		if name == oceanColumn {
			continue
		}
		canonical, ok := domain.CanonicalName(name)
		if !ok {
			report.Skipped = append(report.Skipped, name)
			continue
		}
		if canonical != name {
			report.Renamed[name] = canonical
		}
		out.Columns = append(out.Columns, canonical)
		out.Data[canonical] = filtered.Data[name]
	}
	return out, report, nil
}

// DropMissing removes every row with a missing value in any data column and
// reports how many rows went.
func (t *Table) DropMissing() (*Table, int) {
	keep := make([]int, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		if t.rowComplete(i) {
			keep = append(keep, i)
		}
	}
	return t.selectRows(keep), t.NumRows() - len(keep)
}

func (t *Table) rowComplete(i int) bool {
	for _, name := range t.Columns {
		if math.IsNaN(t.Data[name][i]) {
			return false
		}
	}
	return true
}

// Normalization holds the z-score parameters applied to one column.
type Normalization struct {
	Mean float64
	Std  float64
}

// Normalize rescales the named columns in place to zero mean and unit
// standard deviation, computed over non-missing values, and returns the
// parameters needed to replay or invert the scaling. Missing values stay
// missing.
func (t *Table) Normalize(columns ...string) (map[string]Normalization, error) {
	params := make(map[string]Normalization, len(columns))
	for _, name := range columns {
		col, err := t.Column(name)
		if err != nil {
			return nil, err
		}
		finite := make([]float64, 0, len(col))
		for _, v := range col {
			if !math.IsNaN(v) {
				finite = append(finite, v)
			}
		}
		if len(finite) < 2 {
			return nil, fmt.Errorf("column %q has too few values to normalize", name)
		}
		mean, std := stat.MeanStdDev(finite, nil)
		if std == 0 {
			return nil, fmt.Errorf("column %q has zero variance", name)
		}
		for i, v := range col {
			col[i] = (v - mean) / std
		}
		params[name] = Normalization{Mean: mean, Std: std}
	}
	return params, nil
}

// FilterTimeRange keeps rows whose timestamp falls inside [from, to], both
// ends inclusive. A zero bound leaves that side open.
func (t *Table) FilterTimeRange(from, to time.Time) (*Table, error) {
	if t.Times == nil {
		return nil, errors.New("table has no time column")
	}
	keep := make([]int, 0, len(t.Times))
	for i, ts := range t.Times {
		if !from.IsZero() && ts.Before(from) {
			continue
		}
		if !to.IsZero() && ts.After(to) {
			continue
		}
		keep = append(keep, i)
	}
	return t.selectRows(keep), nil
}

// Aggregation functions accepted by Aggregate.
const (
	AggMean  = "mean"
	AggSum   = "sum"
	AggCount = "count"
)

// Group keys accepted by Aggregate.
const (
	ByTile = "tile"
	ByTime = "ts"
)

// Aggregate groups rows by tile or by timestamp and reduces every data
// column with the requested function. Mean and count ignore missing
// values; sum treats them as zero. Group keys come back sorted.
func (t *Table) Aggregate(groupBy, fn string) (*Table, error) {
	reduce, err := reducer(fn)
	if err != nil {
		return nil, err
	}

	out := New()
	var groups [][]int
	switch groupBy {
	case ByTile:
		if t.Tiles == nil {
			return nil, errors.New("table has no tile column")
		}
		out.Tiles, groups = groupByString(t.Tiles)
	case ByTime:
		if t.Times == nil {
			return nil, errors.New("table has no time column")
		}
		out.Times, groups = groupByTime(t.Times)
	default:
		return nil, fmt.Errorf("unsupported group key %q", groupBy)
	}

	for _, name := range t.Columns {
		col := make([]float64, len(groups))
		for j, rows := range groups {
			col[j] = reduce(t.Data[name], rows)
		}
		out.Columns = append(out.Columns, name)
		out.Data[name] = col
	}
	return out, nil
}

func reducer(fn string) (func(col []float64, rows []int) float64, error) {
	switch fn {
	case AggMean:
		return func(col []float64, rows []int) float64 {
			m, _ := nanMean(col, rows)
			return m
		}, nil
	case AggSum:
		return func(col []float64, rows []int) float64 {
			sum := 0.0
			for _, i := range rows {
				if v := col[i]; !math.IsNaN(v) {
					sum += v
				}
			}
			return sum
		}, nil
	case AggCount:
		return func(col []float64, rows []int) float64 {
			n := 0
			for _, i := range rows {
				if !math.IsNaN(col[i]) {
					n++
				}
			}
			return float64(n)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported aggregation %q", fn)
	}
}

// nanMean averages the selected rows of a column, skipping missing values.
// It returns NaN and zero when nothing was present.
func nanMean(col []float64, rows []int) (float64, int) {
	sum, n := 0.0, 0
	for _, i := range rows {
		if v := col[i]; !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN(), 0
	}
	return sum / float64(n), n
}

func groupByString(keys []string) ([]string, [][]int) {
	byKey := make(map[string][]int)
	for i, k := range keys {
		byKey[k] = append(byKey[k], i)
	}
	uniq := make([]string, 0, len(byKey))
	for k := range byKey {
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)
	groups := make([][]int, len(uniq))
	for j, k := range uniq {
		groups[j] = byKey[k]
	}
	return uniq, groups
}

func groupByTime(times []time.Time) ([]time.Time, [][]int) {
	byKey := make(map[int64][]int)
	for i, ts := range times {
		byKey[ts.UnixNano()] = append(byKey[ts.UnixNano()], i)
	}
	keys := make([]int64, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a] < keys[b] })
	uniq := make([]time.Time, len(keys))
	groups := make([][]int, len(keys))
	for j, k := range keys {
		uniq[j] = time.Unix(0, k).UTC()
		groups[j] = byKey[k]
	}
	return uniq, groups
}
