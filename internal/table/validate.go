package table

import (
	"fmt"
	"math"
	"strings"

	"github.com/seastate/ocean-twin-etl/internal/domain"
)

// RequireColumns checks that every named column is present, reporting all
// missing ones at once.
func (t *Table) RequireColumns(columns ...string) error {
	var missing []string
	for _, name := range columns {
		if _, ok := t.Data[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

// CheckRange reports whether every present value of a column lies inside
// [lo, hi]. Missing values are the coverage report's concern, not a range
// failure.
func (t *Table) CheckRange(column string, lo, hi float64) (bool, error) {
	col, err := t.Column(column)
	if err != nil {
		return false, err
	}
	for _, v := range col {
		if math.IsNaN(v) {
			continue
		}
		if v < lo || v > hi {
			return false, nil
		}
	}
	return true, nil
}

// RangeViolation counts the values of one canonical column that fall
// outside its schema bounds.
type RangeViolation struct {
	Column string
	Count  int
	Min    float64
	Max    float64
}

// ValidateSchema checks every canonical column against the tile schema QC
// bounds and returns one entry per offending column. Columns the schema
// does not know are left alone.
func (t *Table) ValidateSchema() []RangeViolation {
	var out []RangeViolation
	for _, name := range t.Columns {
		spec, ok := domain.SpecFor(name)
		if !ok {
			continue
		}
		count := 0
		for _, v := range t.Data[name] {
			if math.IsNaN(v) {
				continue
			}
			if v < spec.Min || v > spec.Max {
				count++
			}
		}
		if count > 0 {
			out = append(out, RangeViolation{Column: name, Count: count, Min: spec.Min, Max: spec.Max})
		}
	}
	return out
}
