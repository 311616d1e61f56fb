// Package catalog records every dataset artifact the pipeline produces and
// the lineage between them, in a SQLite file kept next to the results.
package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

//go:embed sql/insert-dataset.sql
var insertDatasetSQL string

//go:embed sql/get-dataset-by-id.sql
var getDatasetByIDSQL string

//go:embed sql/get-latest-dataset.sql
var getLatestDatasetSQL string

//go:embed sql/list-datasets.sql
var listDatasetsSQL string

// Stages a dataset moves through.
const (
	StageRaw          = "raw"
	StagePrepared     = "prepared"
	StageInterpolated = "interpolated"
	StageTraining     = "training"
)

// VersionLayout is the timestamp format stamped into dataset versions and
// versioned file names.
const VersionLayout = "20060102_150405"

// storedTimeLayout is fixed width so stored timestamps sort lexically in
// chronological order.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned when no dataset matches a lookup.
var ErrNotFound = errors.New("dataset not found")

// BBox is the geographic extent of a dataset.
type BBox struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// Dataset is one catalogued artifact on disk.
type Dataset struct {
	ID        string
	Name      string
	Version   string
	Stage     string
	Format    string
	Path      string
	Checksum  string
	SizeBytes int64
	Variables []string
	BBox      *BBox
	TimeFrom  *time.Time
	TimeTo    *time.Time
	ParentID  string
	CreatedAt time.Time
}

// VersionedName stamps an artifact name with a version timestamp, the
// name_YYYYMMDD_HHMMSS convention every results file follows. The caller
// appends the format extension.
func VersionedName(name string, ts time.Time) string {
	return name + "_" + ts.UTC().Format(VersionLayout)
}

// Repository stores and looks up catalogued datasets.
type Repository interface {
	Register(ctx context.Context, d *Dataset) error
	Get(ctx context.Context, id string) (*Dataset, error)
	Latest(ctx context.Context, name, stage string) (*Dataset, error)
	List(ctx context.Context, stage string) ([]*Dataset, error)
	Lineage(ctx context.Context, id string) ([]*Dataset, error)
}

type repositoryImpl struct {
	db    *sql.DB
	clock clockwork.Clock
}

// NewRepository wraps an open catalog database.
func NewRepository(db *sql.DB) Repository {
	return &repositoryImpl{db: db, clock: clockwork.NewRealClock()}
}

// NewRepositoryWithClock is NewRepository with a caller-supplied time source
// for deterministic version stamps.
func NewRepositoryWithClock(db *sql.DB, clock clockwork.Clock) Repository {
	return &repositoryImpl{db: db, clock: clock}
}

// Register inserts a dataset, stamping ID, version, and creation time when
// the caller left them empty. d is updated with the stamped values.
func (r *repositoryImpl) Register(ctx context.Context, d *Dataset) error {
	if d.Name == "" {
		return errors.New("dataset name required")
	}
	switch d.Stage {
	case StageRaw, StagePrepared, StageInterpolated, StageTraining:
	default:
		return fmt.Errorf("unknown stage %q", d.Stage)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = r.clock.Now().UTC()
	}
	if d.Version == "" {
		d.Version = d.CreatedAt.UTC().Format(VersionLayout)
	}

	var latMin, latMax, lonMin, lonMax, timeFrom, timeTo, parent any
	if d.BBox != nil {
		latMin, latMax = d.BBox.LatMin, d.BBox.LatMax
		lonMin, lonMax = d.BBox.LonMin, d.BBox.LonMax
	}
	if d.TimeFrom != nil {
		timeFrom = d.TimeFrom.UTC().Format(storedTimeLayout)
	}
	if d.TimeTo != nil {
		timeTo = d.TimeTo.UTC().Format(storedTimeLayout)
	}
	if d.ParentID != "" {
		parent = d.ParentID
	}

	_, err := r.db.ExecContext(ctx, insertDatasetSQL,
		d.ID, d.Name, d.Version, d.Stage, d.Format, d.Path, d.Checksum, d.SizeBytes,
		strings.Join(d.Variables, ","),
		latMin, latMax, lonMin, lonMax, timeFrom, timeTo, parent,
		d.CreatedAt.UTC().Format(storedTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("register dataset %s: %w", d.Name, err)
	}
	return nil
}

// Get returns the dataset with the given ID.
func (r *repositoryImpl) Get(ctx context.Context, id string) (*Dataset, error) {
	d, err := scanDataset(r.db.QueryRowContext(ctx, getDatasetByIDSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// Latest returns the most recently registered dataset for a name and stage.
func (r *repositoryImpl) Latest(ctx context.Context, name, stage string) (*Dataset, error) {
	d, err := scanDataset(r.db.QueryRowContext(ctx, getLatestDatasetSQL, name, stage))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// List returns datasets in registration order, optionally restricted to one
// stage. An empty stage lists everything.
func (r *repositoryImpl) List(ctx context.Context, stage string) ([]*Dataset, error) {
	rows, err := r.db.QueryContext(ctx, listDatasetsSQL, stage, stage)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close dataset rows", "error", err)
		}
	}()
	var out []*Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Lineage walks parent links from a dataset back to its root, the dataset
// itself first and the raw ancestor last.
func (r *repositoryImpl) Lineage(ctx context.Context, id string) ([]*Dataset, error) {
	var chain []*Dataset
	seen := make(map[string]bool)
	for id != "" {
		if seen[id] {
			return nil, fmt.Errorf("lineage cycle at %s", id)
		}
		seen[id] = true
		d, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, d)
		id = d.ParentID
	}
	return chain, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (*Dataset, error) {
	var (
		d                              Dataset
		variables, createdAt           string
		latMin, latMax, lonMin, lonMax sql.NullFloat64
		timeFrom, timeTo, parent       sql.NullString
	)
	err := row.Scan(&d.ID, &d.Name, &d.Version, &d.Stage, &d.Format, &d.Path,
		&d.Checksum, &d.SizeBytes, &variables,
		&latMin, &latMax, &lonMin, &lonMax, &timeFrom, &timeTo, &parent, &createdAt)
	if err != nil {
		return nil, err
	}
	if variables != "" {
		d.Variables = strings.Split(variables, ",")
	}
	if latMin.Valid {
		d.BBox = &BBox{
			LatMin: latMin.Float64, LatMax: latMax.Float64,
			LonMin: lonMin.Float64, LonMax: lonMax.Float64,
		}
	}
	if timeFrom.Valid {
		ts, err := parseStoredTime(timeFrom.String)
		if err != nil {
			return nil, err
		}
		d.TimeFrom = &ts
	}
	if timeTo.Valid {
		ts, err := parseStoredTime(timeTo.String)
		if err != nil {
			return nil, err
		}
		d.TimeTo = &ts
	}
	if parent.Valid {
		d.ParentID = parent.String
	}
	d.CreatedAt, err = parseStoredTime(createdAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// parseStoredTime reads the timestamps the repository writes, tolerating
// plain RFC3339 from hand-edited rows.
func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	t, err2 := time.Parse(time.RFC3339, s)
	if err2 != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// ChecksumFile returns the hex SHA-256 and byte size of a file, the fields
// Register wants for any artifact.
func ChecksumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
