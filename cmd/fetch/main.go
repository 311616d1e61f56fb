// Command fetch downloads source datasets, either from a URL list file or by
// requesting a subset from a marine data store, and optionally registers the
// delivered files as raw datasets in the catalog.
//
// Usage:
//
//	go run ./cmd/fetch -urls data/urls.txt -dir data/raw -catalog results/catalog.db
//
//	go run ./cmd/fetch -product GLOBCOLOUR_CHL -variables CHL \
//	  -start 2020-01-01 -end 2020-12-31 -bbox 36,44,-10,0 \
//	  -out data/raw/chl_2020.nc
//
// URL-list mode reads basic-auth credentials from PORTAL_USERNAME and
// PORTAL_PASSWORD. Subset mode reads STORE_BASE_URL, STORE_USERNAME, and
// STORE_PASSWORD.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/seastate/ocean-twin-etl/internal/catalog"
	"github.com/seastate/ocean-twin-etl/internal/downloader"
	"github.com/seastate/ocean-twin-etl/internal/observability"
)

func main() {
	urlFile := flag.String("urls", "", "path to a URL list file (one URL per line)")
	dir := flag.String("dir", "data/raw", "destination directory for URL-list downloads")
	workers := flag.Int("workers", 2, "concurrent downloads in URL-list mode")
	delay := flag.Duration("delay", 0, "pause between downloads on each worker")
	minSize := flag.Int64("min-size", downloader.DefaultMinSize, "smallest plausible file in bytes")

	product := flag.String("product", "", "marine data store product ID for subset mode")
	variables := flag.String("variables", "", "comma-separated variable list for the subset")
	start := flag.String("start", "", "subset start date (YYYY-MM-DD or RFC3339)")
	end := flag.String("end", "", "subset end date (YYYY-MM-DD or RFC3339)")
	bbox := flag.String("bbox", "", "subset window as latMin,latMax,lonMin,lonMax")
	out := flag.String("out", "", "output file for the subset download")

	catalogPath := flag.String("catalog", "", "catalog database; downloads are registered as raw datasets when set")
	flag.Parse()

	if (*urlFile == "") == (*product == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -urls or -product is required")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(runConfig{
		urlFile:     *urlFile,
		dir:         *dir,
		workers:     *workers,
		delay:       *delay,
		minSize:     *minSize,
		product:     *product,
		variables:   *variables,
		start:       *start,
		end:         *end,
		bbox:        *bbox,
		out:         *out,
		catalogPath: *catalogPath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		os.Exit(1)
	}
}

type runConfig struct {
	urlFile string
	dir     string
	workers int
	delay   time.Duration
	minSize int64

	product   string
	variables string
	start     string
	end       string
	bbox      string
	out       string

	catalogPath string
}

func run(cfg runConfig) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var repo catalog.Repository
	if cfg.catalogPath != "" {
		db, err := catalog.Open(cfg.catalogPath)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		defer db.Close()
		repo = catalog.NewRepository(db)
	}

	if cfg.urlFile != "" {
		return runURLList(cfg, repo, logger)
	}
	return runSubset(cfg, repo, logger)
}

// ── URL-list mode ──

func runURLList(cfg runConfig, repo catalog.Repository, logger *slog.Logger) error {
	urls, err := downloader.ReadURLFile(cfg.urlFile)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("%s lists no URLs", cfg.urlFile)
	}

	fetcher := downloader.NewFetcher(downloader.FetchOptions{
		Dir:      cfg.dir,
		MinSize:  cfg.minSize,
		Delay:    cfg.delay,
		Workers:  cfg.workers,
		Username: os.Getenv("PORTAL_USERNAME"),
		Password: os.Getenv("PORTAL_PASSWORD"),
	}, logger)

	fmt.Printf("Fetching %d files into %s\n\n", len(urls), cfg.dir)
	results := fetcher.FetchAll(context.Background(), urls)

	var fetched, skipped, failed int
	for _, res := range results {
		name := filepath.Base(res.Path)
		if name == "." {
			name = res.URL
		}
		switch {
		case res.Err != nil:
			failed++
			fmt.Printf("  %-52s \033[31mFAIL\033[0m %v\n", name, res.Err)
		case res.Skipped:
			skipped++
			fmt.Printf("  %-52s SKIP %d bytes already present\n", name, res.Size)
		default:
			fetched++
			fmt.Printf("  %-52s \033[32mOK\033[0m   %d bytes\n", name, res.Size)
			if err := registerResult(repo, res); err != nil {
				return err
			}
		}
	}

	fmt.Printf("\nFetched %d, skipped %d, failed %d of %d files\n", fetched, skipped, failed, len(results))
	if failed > 0 {
		return fmt.Errorf("%d downloads failed", failed)
	}
	return nil
}

func registerResult(repo catalog.Repository, res downloader.Result) error {
	if repo == nil {
		return nil
	}
	d := &catalog.Dataset{
		Name:      datasetName(res.Path),
		Stage:     catalog.StageRaw,
		Format:    strings.TrimPrefix(filepath.Ext(res.Path), "."),
		Path:      res.Path,
		Checksum:  res.Checksum,
		SizeBytes: res.Size,
	}
	if err := repo.Register(context.Background(), d); err != nil {
		return fmt.Errorf("register %s: %w", d.Name, err)
	}
	return nil
}

// ── Subset mode ──

func runSubset(cfg runConfig, repo catalog.Repository, logger *slog.Logger) error {
	if cfg.out == "" {
		return errors.New("-out is required in subset mode")
	}
	baseURL := os.Getenv("STORE_BASE_URL")
	if baseURL == "" {
		return errors.New("STORE_BASE_URL must be set in subset mode")
	}

	req := downloader.SubsetRequest{
		ProductID:  cfg.product,
		OutputPath: cfg.out,
	}
	if cfg.variables != "" {
		req.Variables = strings.Split(cfg.variables, ",")
	}
	var err error
	if req.Start, err = parseDate(cfg.start); err != nil {
		return fmt.Errorf("-start: %w", err)
	}
	if req.End, err = parseDate(cfg.end); err != nil {
		return fmt.Errorf("-end: %w", err)
	}
	if req.BBox, err = parseBBox(cfg.bbox); err != nil {
		return fmt.Errorf("-bbox: %w", err)
	}

	store := downloader.NewStoreClient(baseURL, observability.NewMetrics(), logger)

	ctx := context.Background()
	if user := os.Getenv("STORE_USERNAME"); user != "" {
		if err := store.Login(ctx, user, os.Getenv("STORE_PASSWORD")); err != nil {
			return err
		}
	}

	p, err := store.DescribeProduct(ctx, cfg.product)
	if err != nil {
		return err
	}
	fmt.Printf("Product %s: %s\n", p.ID, p.Title)
	fmt.Printf("  variables: %s\n", strings.Join(p.Variables, ", "))
	fmt.Printf("  extent:    lat [%g, %g], lon [%g, %g]\n", p.LatMin, p.LatMax, p.LonMin, p.LonMax)
	if !p.TimeFrom.IsZero() {
		fmt.Printf("  coverage:  %s to %s\n",
			p.TimeFrom.Format("2006-01-02"), p.TimeTo.Format("2006-01-02"))
	}

	res, err := store.Subset(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("\nDelivered %s (%d bytes, sha256 %s)\n", res.Path, res.Size, res.Checksum[:12])

	if repo != nil {
		d := &catalog.Dataset{
			Name:      datasetName(res.Path),
			Stage:     catalog.StageRaw,
			Format:    strings.TrimPrefix(filepath.Ext(res.Path), "."),
			Path:      res.Path,
			Checksum:  res.Checksum,
			SizeBytes: res.Size,
			Variables: req.Variables,
		}
		if req.BBox != nil {
			d.BBox = &catalog.BBox{
				LatMin: req.BBox.LatMin, LatMax: req.BBox.LatMax,
				LonMin: req.BBox.LonMin, LonMax: req.BBox.LonMax,
			}
		}
		if !req.Start.IsZero() {
			d.TimeFrom = &req.Start
		}
		if !req.End.IsZero() {
			d.TimeTo = &req.End
		}
		if err := repo.Register(ctx, d); err != nil {
			return fmt.Errorf("register %s: %w", d.Name, err)
		}
		fmt.Printf("Registered as %s (%s)\n", d.Name, d.ID)
	}
	return nil
}

// ── Helpers ──

func datasetName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
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

func parseBBox(s string) (*downloader.BBox, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("want latMin,latMax,lonMin,lonMax, got %q", s)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bad coordinate %q", p)
		}
		vals[i] = v
	}
	return &downloader.BBox{LatMin: vals[0], LatMax: vals[1], LonMin: vals[2], LonMax: vals[3]}, nil
}
