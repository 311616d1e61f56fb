// Command interpolate fills missing values on a gridded dataset with
// nearest-neighbour or radial-basis interpolation and can resample the result
// onto a uniform grid, optionally registering the output in the dataset
// catalog.
//
// Usage:
//
//	go run ./cmd/interpolate -in data/prepared/chl.nc -out data/interp/chl.nc \
//	  -var env.chlorophyll -method rbf -catalog results/catalog.db
//
//	go run ./cmd/interpolate -in data/prepared/chl.nc -out data/interp/chl_480.nc \
//	  -crop 36,44,-10,0 -regrid 480
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/seastate/ocean-twin-etl/internal/catalog"
	"github.com/seastate/ocean-twin-etl/internal/grid"
	"github.com/seastate/ocean-twin-etl/internal/netcdf"
)

// phase tracks pass/fail for one interpolation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	in := flag.String("in", "", "input NetCDF file")
	out := flag.String("out", "", "output NetCDF file")
	vars := flag.String("var", "", "comma-separated variables to fill (default: all)")
	method := flag.String("method", "nearest", "fill method: nearest or rbf")
	smoothing := flag.Float64("smoothing", 0, "rbf kernel smoothing (0 uses the default)")
	maxPoints := flag.Int("max-points", 0, "rbf sample cap per time step (0 uses the default)")
	seed := flag.Uint64("seed", 0, "rbf subsampling seed")
	valid := flag.String("valid", "", "mask fill-variable values outside min:max before filling")
	crop := flag.String("crop", "", "crop to latMin,latMax,lonMin,lonMax before filling")
	from := flag.String("from", "", "drop time steps before this date")
	to := flag.String("to", "", "drop time steps after this date")
	regrid := flag.Int("regrid", 0, "resample onto an NxN uniform grid (0 keeps the source grid)")
	regridMethod := flag.String("regrid-method", grid.MethodLinear, "regrid interpolation: linear or nearest")
	catalogPath := flag.String("catalog", "", "catalog database; the output is registered as an interpolated dataset when set")
	parent := flag.String("parent", "", "catalog ID of the source dataset, recorded as lineage")
	versioned := flag.Bool("versioned", true, "stamp the output name with a version timestamp")
	flag.Parse()

	if *in == "" || *out == "" {
		flag.Usage()
		os.Exit(1)
	}
	if *method != "nearest" && *method != "rbf" {
		fmt.Fprintf(os.Stderr, "unknown fill method %q\n", *method)
		os.Exit(1)
	}

	var fillVars []string
	if *vars != "" {
		fillVars = strings.Split(*vars, ",")
	}

	code := run(runConfig{
		in:   *in,
		out:  *out,
		vars: fillVars,

		method:    *method,
		smoothing: *smoothing,
		maxPoints: *maxPoints,
		seed:      *seed,

		valid: *valid,
		crop:  *crop,
		from:  *from,
		to:    *to,

		regrid:       *regrid,
		regridMethod: *regridMethod,

		catalogPath: *catalogPath,
		parent:      *parent,
		versioned:   *versioned,
	})
	if code != 0 {
		os.Exit(code)
	}
}

type runConfig struct {
	in   string
	out  string
	vars []string

	method    string
	smoothing float64
	maxPoints int
	seed      uint64

	valid string
	crop  string
	from  string
	to    string

	regrid       int
	regridMethod string

	catalogPath string
	parent      string
	versioned   bool
}

func run(cfg runConfig) int {
	fmt.Println("=== Missing-value interpolation ===")
	fmt.Println()

	outPath := cfg.out
	if cfg.versioned {
		outPath = versionedPath(cfg.out)
	}

	decode := &phase{name: "Phase 1: Decode + subset"}
	fill := &phase{name: fmt.Sprintf("Phase 2: Fill missing cells (%s)", cfg.method)}
	phases := []*phase{decode, fill}

	d := loadSubset(cfg, decode)

	if d != nil {
		fillVars := cfg.vars
		if len(fillVars) == 0 {
			fillVars = d.VarNames()
		}
		vr, err := parseRange(cfg.valid)
		if err != nil {
			fill.errorf("-valid: %v", err)
		}
		for _, name := range fillVars {
			if fill.passed() {
				fillOne(d, name, vr, cfg, fill)
			}
		}
	}

	if cfg.regrid > 0 {
		resample := &phase{name: fmt.Sprintf("Phase 3: Regrid to %dx%d", cfg.regrid, cfg.regrid)}
		phases = append(phases, resample)
		if d != nil && fill.passed() {
			d = regridDataset(d, cfg, resample)
		}
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
		fmt.Println("\nInterpolation FAILED, no output written.")
		return 1
	}

	if err := netcdf.WriteGrid(outPath, d); err != nil {
		fmt.Fprintf(os.Stderr, "interpolate: write %s: %v\n", outPath, err)
		return 1
	}
	fmt.Printf("\nWrote %s\n", outPath)

	if cfg.catalogPath != "" {
		id, err := register(cfg.catalogPath, outPath, cfg.parent, d)
		if err != nil {
			fmt.Fprintf(os.Stderr, "interpolate: %v\n", err)
			return 1
		}
		fmt.Printf("Registered as %s\n", id)
	}
	return 0
}

// ── Decode and subset ──

func loadSubset(cfg runConfig, p *phase) *grid.Dataset {
	d, err := netcdf.ReadGrid(cfg.in, netcdf.ReadOptions{})
	if err != nil {
		p.errorf("%v", err)
		return nil
	}
	steps := 1
	if d.Times != nil {
		steps = len(d.Times)
	}
	fmt.Printf("Decoded %d time steps over %d cells, variables: %s\n",
		steps, d.Grid.NumCells(), strings.Join(d.VarNames(), ", "))

	if cfg.crop != "" {
		latMin, latMax, lonMin, lonMax, err := parseBBox(cfg.crop)
		if err != nil {
			p.errorf("-crop: %v", err)
			return nil
		}
		if d, err = d.SelectBBox(latMin, latMax, lonMin, lonMax); err != nil {
			p.errorf("crop: %v", err)
			return nil
		}
		fmt.Printf("Cropped to %d cells\n", d.Grid.NumCells())
	}

	if cfg.from != "" || cfg.to != "" {
		fromT, err := parseDate(cfg.from)
		if err != nil {
			p.errorf("-from: %v", err)
			return nil
		}
		toT, err := parseDate(cfg.to)
		if err != nil {
			p.errorf("-to: %v", err)
			return nil
		}
		if d, err = d.SelectTimeRange(fromT, toT); err != nil {
			p.errorf("time range: %v", err)
			return nil
		}
		fmt.Printf("Kept %d time steps\n", len(d.Times))
	}
	return d
}

// ── Fill ──

type valueRange struct{ min, max float64 }

func fillOne(d *grid.Dataset, name string, vr *valueRange, cfg runConfig, p *phase) {
	if vr != nil {
		masked, err := d.FilterValueRange(name, vr.min, vr.max)
		if err != nil {
			p.errorf("%s: %v", name, err)
			return
		}
		if masked > 0 {
			fmt.Printf("  %s: masked %d values outside [%g, %g]\n", name, masked, vr.min, vr.max)
		}
	}

	var stats []grid.FillStats
	var err error
	switch cfg.method {
	case "rbf":
		stats, err = grid.FillRBF(d, name, grid.RBFOptions{
			Smoothing: cfg.smoothing,
			MaxPoints: cfg.maxPoints,
			Seed:      cfg.seed,
		})
	default:
		stats, err = grid.FillNearest(d, name)
	}
	if err != nil {
		p.errorf("%s: %v", name, err)
		return
	}

	var missing, filled, skipped int
	for _, st := range stats {
		missing += st.Missing
		filled += st.Filled
		if st.Missing > 0 && st.Filled == 0 {
			skipped++
		}
	}
	line := fmt.Sprintf("  %s: filled %d of %d missing cells", name, filled, missing)
	if skipped > 0 {
		line += fmt.Sprintf(", %d sparse steps left alone", skipped)
	}
	fmt.Println(line)
}

// ── Regrid ──

func regridDataset(d *grid.Dataset, cfg runConfig, p *phase) *grid.Dataset {
	lats, lons := d.Grid.Lats, d.Grid.Lons
	rd, err := grid.Regrid(d, grid.RegridOptions{
		LatMin: lats[0], LatMax: lats[len(lats)-1],
		LonMin: lons[0], LonMax: lons[len(lons)-1],
		Points: cfg.regrid,
		Method: cfg.regridMethod,
	})
	if err != nil {
		p.errorf("%v", err)
		return d
	}
	fmt.Printf("Resampled onto a %dx%d grid (%s)\n", cfg.regrid, cfg.regrid, cfg.regridMethod)
	return rd
}

// ── Catalog registration ──

func register(catalogPath, outPath, parent string, d *grid.Dataset) (string, error) {
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

	lats, lons := d.Grid.Lats, d.Grid.Lons
	entry := &catalog.Dataset{
		Name:      datasetName(outPath),
		Stage:     catalog.StageInterpolated,
		Format:    "nc",
		Path:      outPath,
		Checksum:  checksum,
		SizeBytes: size,
		Variables: d.VarNames(),
		ParentID:  parent,
		BBox: &catalog.BBox{
			LatMin: lats[0], LatMax: lats[len(lats)-1],
			LonMin: lons[0], LonMax: lons[len(lons)-1],
		},
	}
	if len(d.Times) > 0 {
		from, to := timeSpan(d.Times)
		entry.TimeFrom, entry.TimeTo = &from, &to
	}

	if err := repo.Register(context.Background(), entry); err != nil {
		return "", fmt.Errorf("register %s: %w", entry.Name, err)
	}
	return entry.ID, nil
}

// ── Helpers ──

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

func parseBBox(s string) (latMin, latMax, lonMin, lonMax float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("want latMin,latMax,lonMin,lonMax, got %q", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, 0, 0, 0, fmt.Errorf("bad coordinate %q", p)
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}

func parseRange(s string) (*valueRange, error) {
	if s == "" {
		return nil, nil
	}
	lo, hi, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("want min:max, got %q", s)
	}
	min, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return nil, fmt.Errorf("bad minimum %q", lo)
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return nil, fmt.Errorf("bad maximum %q", hi)
	}
	if max <= min {
		return nil, fmt.Errorf("range %q has no extent", s)
	}
	return &valueRange{min: min, max: max}, nil
}
