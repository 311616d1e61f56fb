package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	timeColumn = "ts"
	tileColumn = "tile"

	saveTimeLayout = "2006-01-02 15:04:05"
)

// Index headers accepted on load. Raw exports straight from NetCDF still
// carry the source dimension names.
var (
	timeAliases = map[string]bool{"ts": true, "time": true}
	tileAliases = map[string]bool{"tile": true, "grid_id": true}
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// delimiterFor maps a file extension onto its column delimiter.
func delimiterFor(path string) (rune, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ',', nil
	case ".tsv":
		return '\t', nil
	default:
		return 0, fmt.Errorf("unsupported table format %q", filepath.Ext(path))
	}
}

// Load reads a CSV or TSV file into a table, picking the delimiter from
// the file extension. A ts/time header becomes the time index and a
// tile/grid_id header the tile index; every other column is numeric, with
// empty cells read as NaN.
func Load(path string) (*Table, error) {
	delim, err := delimiterFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load table: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = delim

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("load table %s: read header: %w", path, err)
	}

	t := New()
	timeIdx, tileIdx := -1, -1
	colOf := make([]string, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		switch {
		case timeAliases[name] && timeIdx < 0:
			timeIdx = i
		case tileAliases[name] && tileIdx < 0:
			tileIdx = i
		default:
			t.Columns = append(t.Columns, name)
			colOf[i] = name
		}
	}
	if timeIdx >= 0 {
		t.Times = []time.Time{}
	}
	if tileIdx >= 0 {
		t.Tiles = []string{}
	}

	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("load table %s: %w", path, err)
		}
		line++
		for i, cell := range rec {
			switch i {
			case timeIdx:
				ts, err := parseTimestamp(cell)
				if err != nil {
					return nil, fmt.Errorf("load table %s: line %d: %w", path, line, err)
				}
				t.Times = append(t.Times, ts)
			case tileIdx:
				t.Tiles = append(t.Tiles, cell)
			default:
				v := math.NaN()
				if cell != "" {
					f, err := strconv.ParseFloat(cell, 64)
					if err != nil {
						return nil, fmt.Errorf("load table %s: line %d: column %s: %w", path, line, colOf[i], err)
					}
					v = f
				}
				t.Data[colOf[i]] = append(t.Data[colOf[i]], v)
			}
		}
	}
	return t, nil
}

// Save writes the table with the delimiter of the file extension. Missing
// values become empty cells.
func Save(path string, t *Table) error {
	delim, err := delimiterFor(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save table: %w", err)
	}
	w := csv.NewWriter(f)
	w.Comma = delim

	if err := writeRows(w, t); err != nil {
		f.Close()
		return fmt.Errorf("save table %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("save table %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("save table %s: %w", path, err)
	}
	return nil
}

func writeRows(w *csv.Writer, t *Table) error {
	header := make([]string, 0, len(t.Columns)+2)
	if t.Times != nil {
		header = append(header, timeColumn)
	}
	if t.Tiles != nil {
		header = append(header, tileColumn)
	}
	header = append(header, t.Columns...)
	if err := w.Write(header); err != nil {
		return err
	}

	row := make([]string, 0, len(header))
	for i := 0; i < t.NumRows(); i++ {
		row = row[:0]
		if t.Times != nil {
			row = append(row, t.Times[i].Format(saveTimeLayout))
		}
		if t.Tiles != nil {
			row = append(row, t.Tiles[i])
		}
		for _, name := range t.Columns {
			row = append(row, formatCell(t.Data[name][i]))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func formatCell(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
