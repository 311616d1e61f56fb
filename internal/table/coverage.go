package table

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ColumnCoverage is the completeness of one data column.
type ColumnCoverage struct {
	Column  string
	Percent float64
}

// RowStats summarizes the distribution of per-row completeness
// percentages.
type RowStats struct {
	Count  int
	Mean   float64
	Std    float64
	Min    float64
	Q25    float64
	Median float64
	Q75    float64
	Max    float64
}

// CoverageReport is the completeness product for one table: how full each
// column is, and how full rows tend to be.
type CoverageReport struct {
	Columns []ColumnCoverage
	Rows    RowStats
}

// Coverage measures completeness over the data columns. Column entries come
// back sorted from most to least complete; the index columns are always
// full by construction and are not counted.
func (t *Table) Coverage() *CoverageReport {
	n := t.NumRows()
	report := &CoverageReport{}
	for _, name := range t.Columns {
		missing := 0
		for _, v := range t.Data[name] {
			if math.IsNaN(v) {
				missing++
			}
		}
		pct := 100.0
		if n > 0 {
			pct = 100 * float64(n-missing) / float64(n)
		}
		report.Columns = append(report.Columns, ColumnCoverage{Column: name, Percent: pct})
	}
	sort.SliceStable(report.Columns, func(i, j int) bool {
		return report.Columns[i].Percent > report.Columns[j].Percent
	})

	if n == 0 || len(t.Columns) == 0 {
		return report
	}
	rows := make([]float64, n)
	for i := 0; i < n; i++ {
		present := 0
		for _, name := range t.Columns {
			if !math.IsNaN(t.Data[name][i]) {
				present++
			}
		}
		rows[i] = 100 * float64(present) / float64(len(t.Columns))
	}
	sort.Float64s(rows)
	report.Rows = RowStats{
		Count:  n,
		Mean:   stat.Mean(rows, nil),
		Std:    stat.StdDev(rows, nil),
		Min:    rows[0],
		Q25:    stat.Quantile(0.25, stat.Empirical, rows, nil),
		Median: stat.Quantile(0.5, stat.Empirical, rows, nil),
		Q75:    stat.Quantile(0.75, stat.Empirical, rows, nil),
		Max:    rows[n-1],
	}
	return report
}
