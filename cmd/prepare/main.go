// Command prepare turns raw datasets into canonical ones: it decodes
// NetCDF/CSV/TSV inputs, applies the ocean filter, renames source variables
// to the canonical schema, checks value ranges, and writes either a training
// table (.csv/.tsv) or a dimension-normalized NetCDF file, optionally
// registered in the dataset catalog.
//
// Usage:
//
//	go run ./cmd/prepare -in data/raw/chl_2020.nc -out results/chl.csv \
//	  -catalog results/catalog.db -parent <raw-dataset-id>
//
// Several NetCDF inputs are concatenated along time before preparation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/seastate/ocean-twin-etl/internal/catalog"
	"github.com/seastate/ocean-twin-etl/internal/grid"
	"github.com/seastate/ocean-twin-etl/internal/netcdf"
	"github.com/seastate/ocean-twin-etl/internal/table"
)

// phase tracks pass/fail for one preparation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	in := flag.String("in", "", "comma-separated input files (.nc, .csv, .tsv)")
	out := flag.String("out", "", "output file (.csv, .tsv, or .nc)")
	catalogPath := flag.String("catalog", "", "catalog database; the output is registered as a prepared dataset when set")
	parent := flag.String("parent", "", "catalog ID of the source dataset, recorded as lineage")
	dropMissing := flag.Bool("drop-missing", false, "drop rows with any missing value")
	versioned := flag.Bool("versioned", true, "stamp the output name with a version timestamp")
	flag.Parse()

	if *in == "" || *out == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(strings.Split(*in, ","), *out, *catalogPath, *parent, *dropMissing, *versioned); code != 0 {
		os.Exit(code)
	}
}

func run(inputs []string, out, catalogPath, parent string, dropMissing, versioned bool) int {
	fmt.Println("=== Dataset preparation ===")
	fmt.Println()

	outPath := out
	if versioned {
		outPath = versionedPath(out)
	}

	var phases []*phase
	var prepared *table.Table
	var ds *grid.Dataset

	if strings.EqualFold(filepath.Ext(out), ".nc") {
		ds, phases = prepareGrid(inputs, outPath)
	} else {
		prepared, phases = prepareTable(inputs, outPath, dropMissing)
	}

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-44s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if !allPassed {
		fmt.Println("\nPreparation FAILED.")
		return 1
	}

	fmt.Printf("\nWrote %s\n", outPath)

	if catalogPath != "" {
		id, err := register(catalogPath, outPath, parent, prepared, ds)
		if err != nil {
			fmt.Fprintf(os.Stderr, "prepare: %v\n", err)
			return 1
		}
		fmt.Printf("Registered as %s\n", id)
	}
	return 0
}

// ── Table preparation (.csv/.tsv output) ──

func prepareTable(inputs []string, outPath string, dropMissing bool) (*table.Table, []*phase) {
	decode := &phase{name: fmt.Sprintf("Phase 1: Decode (%d files)", len(inputs))}
	canon := &phase{name: "Phase 2: Ocean filter + canonical schema"}
	ranges := &phase{name: "Phase 3: Schema value ranges"}
	phases := []*phase{decode, canon, ranges}

	raw, err := loadInputs(inputs)
	if err != nil {
		decode.errorf("%v", err)
		return nil, phases
	}
	fmt.Printf("Decoded %d rows, %d columns\n", raw.NumRows(), len(raw.Columns))

	prepared, report, err := raw.Canonicalize()
	if err != nil {
		canon.errorf("%v", err)
		return nil, phases
	}
	fmt.Printf("Ocean filter kept %d rows, dropped %d land rows\n", report.Rows, report.Dropped)
	renamed := make([]string, 0, len(report.Renamed))
	for from := range report.Renamed {
		renamed = append(renamed, from)
	}
	sort.Strings(renamed)
	for _, from := range renamed {
		fmt.Printf("  renamed %s -> %s\n", from, report.Renamed[from])
	}
	if len(report.Skipped) > 0 {
		fmt.Printf("  skipped columns with no canonical name: %s\n", strings.Join(report.Skipped, ", "))
	}
	if prepared.NumRows() == 0 {
		canon.errorf("no ocean rows left after filtering")
		return nil, phases
	}

	if dropMissing {
		var dropped int
		prepared, dropped = prepared.DropMissing()
		fmt.Printf("Dropped %d rows with missing values\n", dropped)
	}

	for _, v := range prepared.ValidateSchema() {
		ranges.errorf("%s: %d values outside [%g, %g]", v.Column, v.Count, v.Min, v.Max)
	}

	if decode.passed() && canon.passed() && ranges.passed() {
		if err := table.Save(outPath, prepared); err != nil {
			ranges.errorf("write output: %v", err)
		}
	}
	return prepared, phases
}

func loadInputs(inputs []string) (*table.Table, error) {
	if isNetCDF(inputs[0]) {
		parts := make([]*grid.Dataset, len(inputs))
		for i, p := range inputs {
			d, err := netcdf.ReadGrid(p, netcdf.ReadOptions{})
			if err != nil {
				return nil, err
			}
			parts[i] = d
		}
		combined, err := grid.ConcatTime(parts...)
		if err != nil {
			return nil, err
		}
		return table.FromDataset(combined, false), nil
	}

	if len(inputs) > 1 {
		return nil, fmt.Errorf("tabular inputs cannot be concatenated, got %d files", len(inputs))
	}
	return table.Load(inputs[0])
}

// ── Grid preparation (.nc output) ──

func prepareGrid(inputs []string, outPath string) (*grid.Dataset, []*phase) {
	decode := &phase{name: fmt.Sprintf("Phase 1: Decode + concatenate (%d files)", len(inputs))}
	normalize := &phase{name: "Phase 2: Normalize dimensions"}
	phases := []*phase{decode, normalize}

	for _, p := range inputs {
		if !isNetCDF(p) {
			decode.errorf("%s: NetCDF output needs NetCDF inputs", p)
			return nil, phases
		}
	}

	ds, err := netcdf.ConcatFiles(outPath, inputs...)
	if err != nil {
		normalize.errorf("%v", err)
		return nil, phases
	}
	steps := 1
	if ds.Times != nil {
		steps = len(ds.Times)
	}
	fmt.Printf("Combined %d time steps over %d cells, variables: %s\n",
		steps, ds.Grid.NumCells(), strings.Join(ds.VarNames(), ", "))
	return ds, phases
}

// ── Catalog registration ──

func register(catalogPath, outPath, parent string, t *table.Table, ds *grid.Dataset) (string, error) {
	db, err := catalog.Open(catalogPath)
	if err != nil {
		return "", fmt.Errorf("open catalog: %w", err)
	}
	defer db.Close()
	repo := catalog.NewRepository(db)

	checksum, size, err := catalog.ChecksumFile(outPath)
	if err != nil {
		return "", err
	}

	d := &catalog.Dataset{
		Name:      datasetName(outPath),
		Stage:     catalog.StagePrepared,
		Format:    strings.TrimPrefix(filepath.Ext(outPath), "."),
		Path:      outPath,
		Checksum:  checksum,
		SizeBytes: size,
		ParentID:  parent,
	}
	switch {
	case t != nil:
		d.Variables = append([]string(nil), t.Columns...)
		if len(t.Times) > 0 {
			from, to := timeSpan(t.Times)
			d.TimeFrom, d.TimeTo = &from, &to
		}
	case ds != nil:
		d.Variables = ds.VarNames()
		lats, lons := ds.Grid.Lats, ds.Grid.Lons
		d.BBox = &catalog.BBox{
			LatMin: lats[0], LatMax: lats[len(lats)-1],
			LonMin: lons[0], LonMax: lons[len(lons)-1],
		}
		if len(ds.Times) > 0 {
			from, to := timeSpan(ds.Times)
			d.TimeFrom, d.TimeTo = &from, &to
		}
	}

	if err := repo.Register(context.Background(), d); err != nil {
		return "", fmt.Errorf("register %s: %w", d.Name, err)
	}
	return d.ID, nil
}

// ── Helpers ──

func isNetCDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".nc")
}

func datasetName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func versionedPath(p string) string {
	ext := filepath.Ext(p)
	base := strings.TrimSuffix(filepath.Base(p), ext)
	return filepath.Join(filepath.Dir(p), catalog.VersionedName(base, time.Now())+ext)
}

func timeSpan(times []time.Time) (from, to time.Time) {
	from, to = times[0], times[0]
	for _, ts := range times[1:] {
		if ts.Before(from) {
			from = ts
		}
		if ts.After(to) {
			to = ts
		}
	}
	return from, to
}
