// Command analyze computes plot-ready data products from a training table:
// column and row completeness, per-tile anomalies between two year ranges,
// spatial-mean evolution with a least-squares trend, and phytoplankton
// composition shares. Products are CSV and JSON files that downstream
// notebooks render directly.
//
// Usage:
//
//	go run ./cmd/analyze -in results/phyto_table.csv -out results/products
//
//	go run ./cmd/analyze -in results/chl.csv -out results/products \
//	  -var env.chlorophyll -early 2003:2007 -late 2019:2023 -mean-by tile
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/seastate/ocean-twin-etl/internal/domain"
	"github.com/seastate/ocean-twin-etl/internal/table"
)

const productTimeLayout = "2006-01-02 15:04:05"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	in := flag.String("in", "", "training table (.csv or .tsv)")
	outDir := flag.String("out", "results", "directory for product files")
	vars := flag.String("var", "", "comma-separated columns to analyze (default: all data columns)")
	early := flag.String("early", "", "early comparison years as from:to (default 2003:2007)")
	late := flag.String("late", "", "late comparison years as from:to (default 2019:2023)")
	from := flag.String("from", "", "drop rows before this date")
	to := flag.String("to", "", "drop rows after this date")
	meanBy := flag.String("mean-by", "", "also write a mean-aggregated table, grouped by tile or ts")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -in")
	}
	if *meanBy != "" && *meanBy != table.ByTile && *meanBy != table.ByTime {
		return fmt.Errorf("-mean-by must be %q or %q", table.ByTile, table.ByTime)
	}

	earlyP, err := parsePeriod(*early, table.DefaultEarlyPeriod)
	if err != nil {
		return fmt.Errorf("-early: %w", err)
	}
	lateP, err := parsePeriod(*late, table.DefaultLatePeriod)
	if err != nil {
		return fmt.Errorf("-late: %w", err)
	}

	t, err := table.Load(*in)
	if err != nil {
		return err
	}
	log.Printf("%s: %d rows, %d columns", *in, t.NumRows(), len(t.Columns))

	if *from != "" || *to != "" {
		fromT, err := parseDate(*from)
		if err != nil {
			return fmt.Errorf("-from: %w", err)
		}
		toT, err := parseDate(*to)
		if err != nil {
			return fmt.Errorf("-to: %w", err)
		}
		if t, err = t.FilterTimeRange(fromT, toT); err != nil {
			return err
		}
		log.Printf("time filter kept %d rows", t.NumRows())
	}

	columns := t.Columns
	if *vars != "" {
		columns = strings.Split(*vars, ",")
		if err := t.RequireColumns(columns...); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}

	cov := t.Coverage()
	if err := writeCoverage(*outDir, cov); err != nil {
		return err
	}

	anomalies := make(map[string][]table.AnomalyPoint)
	evolutions := make(map[string]*table.Evolution)
	for _, name := range columns {
		pts, err := t.Anomaly(name, earlyP, lateP)
		if err != nil {
			log.Printf("anomaly %s: %v (product skipped)", name, err)
		} else {
			if err := writeAnomaly(*outDir, name, pts); err != nil {
				return err
			}
			anomalies[name] = pts
		}

		ev, err := t.Evolution(name)
		if err != nil {
			log.Printf("evolution %s: %v (product skipped)", name, err)
		} else {
			if err := writeEvolution(*outDir, name, ev); err != nil {
				return err
			}
			evolutions[name] = ev
		}
	}

	comp, err := t.PhytoComposition()
	if err != nil {
		log.Printf("composition: %v (product skipped)", err)
		comp = nil
	} else if err := writeComposition(*outDir, comp); err != nil {
		return err
	}

	if *meanBy != "" {
		agg, err := t.Aggregate(*meanBy, table.AggMean)
		if err != nil {
			return fmt.Errorf("aggregate: %w", err)
		}
		path := filepath.Join(*outDir, "means_by_"+*meanBy+".csv")
		if err := table.Save(path, agg); err != nil {
			return err
		}
		log.Printf("wrote %s", path)
	}

	printStats(cov, columns, anomalies, evolutions, comp, earlyP, lateP)
	return nil
}

// ── Product writers ──

func writeCoverage(dir string, cov *table.CoverageReport) error {
	rows := make([][]string, 0, len(cov.Columns))
	for _, c := range cov.Columns {
		rows = append(rows, []string{c.Column, formatFloat(c.Percent)})
	}
	err := writeCSV(filepath.Join(dir, "coverage_columns.csv"),
		[]string{"column", "coverage_pct"}, rows)
	if err != nil {
		return err
	}

	r := cov.Rows
	row := []string{
		strconv.Itoa(r.Count),
		formatFloat(r.Mean), formatFloat(r.Std),
		formatFloat(r.Min), formatFloat(r.Q25), formatFloat(r.Median),
		formatFloat(r.Q75), formatFloat(r.Max),
	}
	return writeCSV(filepath.Join(dir, "coverage_rows.csv"),
		[]string{"rows", "mean_pct", "std_pct", "min_pct", "q25_pct", "median_pct", "q75_pct", "max_pct"},
		[][]string{row})
}

func writeAnomaly(dir, column string, pts []table.AnomalyPoint) error {
	rows := make([][]string, 0, len(pts))
	for _, p := range pts {
		rows = append(rows, []string{
			p.Tile, formatFloat(p.Early), formatFloat(p.Late), formatFloat(p.Anomaly),
		})
	}
	return writeCSV(productPath(dir, "anomaly", column, ".csv"),
		[]string{"tile", "early_mean", "late_mean", "anomaly"}, rows)
}

// trendProduct is the fitted line of one evolution series.
type trendProduct struct {
	Column       string  `json:"column"`
	Intercept    float64 `json:"intercept"`
	SlopePerStep float64 `json:"slope_per_step"`
	Steps        int     `json:"steps"`
}

func writeEvolution(dir, column string, ev *table.Evolution) error {
	rows := make([][]string, 0, len(ev.Points))
	for _, p := range ev.Points {
		rows = append(rows, []string{
			p.Time.Format(productTimeLayout), formatFloat(p.Mean), strconv.Itoa(p.N),
		})
	}
	err := writeCSV(productPath(dir, "evolution", column, ".csv"),
		[]string{"ts", "mean", "n"}, rows)
	if err != nil {
		return err
	}

	// A table with fewer than two populated steps has no fit to ship.
	if math.IsNaN(ev.Slope) {
		return nil
	}
	path := productPath(dir, "trend", column, ".json")
	if err := writeJSON(path, trendProduct{
		Column:       column,
		Intercept:    ev.Intercept,
		SlopePerStep: ev.Slope,
		Steps:        len(ev.Points),
	}); err != nil {
		return err
	}
	log.Printf("wrote %s", path)
	return nil
}

func writeComposition(dir string, pts []table.CompositionPoint) error {
	if len(pts) == 0 {
		return nil
	}
	groups := presentGroups(pts)
	header := append([]string{"ts"}, groups...)
	rows := make([][]string, 0, len(pts))
	for _, p := range pts {
		row := make([]string, 0, len(header))
		row = append(row, p.Time.Format(productTimeLayout))
		for _, g := range groups {
			row = append(row, formatFloat(p.Shares[g]))
		}
		rows = append(rows, row)
	}
	return writeCSV(filepath.Join(dir, "composition.csv"), header, rows)
}

// presentGroups returns the functional groups carried by the points, in
// schema order.
func presentGroups(pts []table.CompositionPoint) []string {
	var groups []string
	for _, g := range domain.PhytoGroups {
		if _, ok := pts[0].Shares[g]; ok {
			groups = append(groups, g)
		}
	}
	return groups
}

// ── Stats for spot-checking the products ──

func printStats(cov *table.CoverageReport, columns []string,
	anomalies map[string][]table.AnomalyPoint, evolutions map[string]*table.Evolution,
	comp []table.CompositionPoint, early, late table.Period) {

	fmt.Println("\n=== Completeness ===")
	r := cov.Rows
	fmt.Printf("Rows: %d, mean %.1f%% complete (min %.1f%%, max %.1f%%)\n",
		r.Count, r.Mean, r.Min, r.Max)
	for _, c := range cov.Columns {
		fmt.Printf("  %-28s %6.2f%%\n", c.Column, c.Percent)
	}

	if len(anomalies) > 0 {
		fmt.Printf("\n=== Anomaly %d-%d vs %d-%d ===\n", early.From, early.To, late.From, late.To)
		for _, name := range columns {
			pts, ok := anomalies[name]
			if !ok {
				continue
			}
			tile, delta, n := strongestAnomaly(pts)
			if n == 0 {
				fmt.Printf("%s: %d tiles, none sampled in both periods\n", name, len(pts))
				continue
			}
			fmt.Printf("%s: %d of %d tiles sampled in both periods, strongest %s (%+.4g)\n",
				name, n, len(pts), tile, delta)
		}
	}

	if len(evolutions) > 0 {
		fmt.Println("\n=== Evolution ===")
		for _, name := range columns {
			ev, ok := evolutions[name]
			if !ok {
				continue
			}
			if math.IsNaN(ev.Slope) {
				fmt.Printf("%s: %d steps, not enough data for a trend\n", name, len(ev.Points))
				continue
			}
			fmt.Printf("%s: %d steps, slope %+.4g per step\n", name, len(ev.Points), ev.Slope)
		}
	}

	if len(comp) > 0 {
		fmt.Println("\n=== Composition (mean share) ===")
		groups := presentGroups(comp)
		for _, g := range groups {
			sum, n := 0.0, 0
			for _, p := range comp {
				if v := p.Shares[g]; !math.IsNaN(v) {
					sum += v
					n++
				}
			}
			if n == 0 {
				fmt.Printf("  %-28s      -\n", g)
				continue
			}
			fmt.Printf("  %-28s %5.1f%%\n", g, 100*sum/float64(n))
		}
	}
}

// strongestAnomaly finds the tile with the largest absolute change among
// those sampled in both periods.
func strongestAnomaly(pts []table.AnomalyPoint) (tile string, delta float64, n int) {
	for _, p := range pts {
		if math.IsNaN(p.Anomaly) {
			continue
		}
		n++
		if tile == "" || math.Abs(p.Anomaly) > math.Abs(delta) {
			tile, delta = p.Tile, p.Anomaly
		}
	}
	return tile, delta, n
}

// ── Helpers ──

func productPath(dir, prefix, column, ext string) string {
	return filepath.Join(dir, prefix+"_"+strings.ReplaceAll(column, ".", "_")+ext)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Printf("wrote %s", path)
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func parsePeriod(s string, def table.Period) (table.Period, error) {
	if s == "" {
		return def, nil
	}
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return table.Period{}, fmt.Errorf("want from:to years, got %q", s)
	}
	from, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return table.Period{}, fmt.Errorf("bad year %q", lo)
	}
	to, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return table.Period{}, fmt.Errorf("bad year %q", hi)
	}
	if to < from {
		return table.Period{}, fmt.Errorf("period %q ends before it starts", s)
	}
	return table.Period{From: from, To: to}, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
