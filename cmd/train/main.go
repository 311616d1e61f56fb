// Command train assembles a training manifest from a catalogued dataset,
// registers a training-stage snapshot for provenance, and submits the
// manifest to the Picota training service, polling until the job finishes.
//
// Usage:
//
//	go run ./cmd/train -dataset phyto_table -targets bio.chl \
//	  -catalog results/catalog.db
//
//	go run ./cmd/train -id <dataset-id> -features env.sst,env.so \
//	  -targets bio.chl -hyper epochs=200,lr=0.001
//
// The Picota endpoint comes from PICOTA_BASE_URL and PICOTA_TOKEN.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/seastate/ocean-twin-etl/internal/adapter/picota"
	"github.com/seastate/ocean-twin-etl/internal/catalog"
	"github.com/seastate/ocean-twin-etl/internal/config"
	"github.com/seastate/ocean-twin-etl/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "train: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	id := flag.String("id", "", "catalog ID of the training dataset")
	name := flag.String("dataset", "", "dataset name; the newest entry at -stage is used")
	stage := flag.String("stage", catalog.StagePrepared, "catalog stage searched by -dataset")
	catalogPath := flag.String("catalog", "", "catalog database (default $CATALOG_PATH)")
	features := flag.String("features", "", "comma-separated feature columns (default: every variable not in -targets)")
	targets := flag.String("targets", "", "comma-separated target columns")
	holdout := flag.Float64("holdout", 0.2, "fraction of rows held out for validation")
	hyper := flag.String("hyper", "", "hyperparameters as k=v,k=v")
	wait := flag.Bool("wait", true, "poll until the job reaches a terminal state")
	flag.Parse()

	if (*id == "") == (*name == "") {
		flag.Usage()
		return errors.New("exactly one of -id or -dataset is required")
	}
	if *targets == "" {
		flag.Usage()
		return errors.New("missing required flag: -targets")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.PicotaBaseURL == "" {
		return errors.New("PICOTA_BASE_URL is required")
	}
	if *catalogPath == "" {
		*catalogPath = cfg.CatalogPath
	}
	logger := observability.NewLogger(cfg)

	db, err := catalog.Open(*catalogPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer db.Close()
	repo := catalog.NewRepository(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ds, err := lookup(ctx, repo, *id, *name, *stage)
	if err != nil {
		return err
	}
	fmt.Printf("Training dataset %s (%s, stage %s)\n", ds.Name, ds.ID, ds.Stage)
	fmt.Printf("  path %s, %d bytes\n", ds.Path, ds.SizeBytes)
	printLineage(ctx, repo, ds.ID)

	targetList := splitList(*targets)
	featureList := splitList(*features)
	if len(featureList) == 0 {
		featureList = defaultFeatures(ds.Variables, targetList)
		if len(featureList) == 0 {
			return fmt.Errorf("%s has no recorded variables beyond the targets; pass -features", ds.Name)
		}
	}
	if err := checkVariables(ds, featureList, targetList); err != nil {
		return err
	}
	fmt.Printf("  features: %s\n", strings.Join(featureList, ", "))
	fmt.Printf("  targets:  %s\n", strings.Join(targetList, ", "))

	params, err := parseHyperparams(*hyper)
	if err != nil {
		return fmt.Errorf("-hyper: %w", err)
	}

	// Record which exact artifact went to training before anything is
	// submitted. The snapshot shares the file; only the stage and lineage
	// differ.
	snap := &catalog.Dataset{
		Name:      ds.Name,
		Stage:     catalog.StageTraining,
		Format:    ds.Format,
		Path:      ds.Path,
		Checksum:  ds.Checksum,
		SizeBytes: ds.SizeBytes,
		Variables: ds.Variables,
		BBox:      ds.BBox,
		TimeFrom:  ds.TimeFrom,
		TimeTo:    ds.TimeTo,
		ParentID:  ds.ID,
	}
	if err := repo.Register(ctx, snap); err != nil {
		return fmt.Errorf("register training snapshot: %w", err)
	}
	fmt.Printf("Registered training snapshot %s (version %s)\n", snap.ID, snap.Version)

	client := picota.NewClient(cfg, logger)
	submitted, err := client.SubmitJob(ctx, picota.Manifest{
		DatasetName:     ds.Name,
		DatasetPath:     ds.Path,
		Checksum:        ds.Checksum,
		Features:        featureList,
		Targets:         targetList,
		HoldoutFraction: *holdout,
		Hyperparams:     params,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Submitted job %s (%s)\n", submitted.ID, submitted.Status)

	if !*wait {
		return nil
	}

	final, err := client.WaitForJob(ctx, submitted.ID)
	if err != nil {
		if ctx.Err() != nil {
			cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if cerr := client.CancelJob(cancelCtx, submitted.ID); cerr == nil {
				fmt.Println("\nInterrupted, job cancelled")
			}
			return ctx.Err()
		}
		return err
	}
	fmt.Printf("Job %s succeeded after %s\n",
		final.ID, final.UpdatedAt.Sub(final.CreatedAt).Round(time.Second))
	return nil
}

func lookup(ctx context.Context, repo catalog.Repository, id, name, stage string) (*catalog.Dataset, error) {
	if id != "" {
		return repo.Get(ctx, id)
	}
	ds, err := repo.Latest(ctx, name, stage)
	if err != nil {
		return nil, fmt.Errorf("latest %s at stage %s: %w", name, stage, err)
	}
	return ds, nil
}

func printLineage(ctx context.Context, repo catalog.Repository, id string) {
	chain, err := repo.Lineage(ctx, id)
	if err != nil || len(chain) < 2 {
		return
	}
	parts := make([]string, len(chain))
	for i, d := range chain {
		parts[i] = d.Stage + "/" + d.Name
	}
	fmt.Printf("  lineage: %s\n", strings.Join(parts, " <- "))
}

// defaultFeatures is every recorded variable that is not a target.
func defaultFeatures(variables, targets []string) []string {
	var out []string
	for _, v := range variables {
		if !slices.Contains(targets, v) {
			out = append(out, v)
		}
	}
	return out
}

// checkVariables rejects features and targets the catalog entry does not
// carry. Entries registered without a variable list accept anything.
func checkVariables(ds *catalog.Dataset, features, targets []string) error {
	if len(ds.Variables) == 0 {
		return nil
	}
	for _, f := range features {
		if !slices.Contains(ds.Variables, f) {
			return fmt.Errorf("feature %q is not a variable of %s", f, ds.Name)
		}
	}
	for _, t := range targets {
		if !slices.Contains(ds.Variables, t) {
			return fmt.Errorf("target %q is not a variable of %s", t, ds.Name)
		}
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseHyperparams(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	params := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("want k=v, got %q", pair)
		}
		params[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return params, nil
}
