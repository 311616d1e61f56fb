package netcdf

import (
	"errors"
	"fmt"

	"github.com/seastate/ocean-twin-etl/internal/grid"
)

// ConcatFiles reads NetCDF files sharing one grid and variable set, joins
// them along time, and writes the combined dataset to outPath.
func ConcatFiles(outPath string, paths ...string) (*grid.Dataset, error) {
	if len(paths) == 0 {
		return nil, errors.New("no input files to concatenate")
	}
	parts := make([]*grid.Dataset, len(paths))
	for i, p := range paths {
		d, err := ReadGrid(p, ReadOptions{})
		if err != nil {
			return nil, err
		}
		parts[i] = d
	}
	combined, err := grid.ConcatTime(parts...)
	if err != nil {
		return nil, fmt.Errorf("concatenate: %w", err)
	}
	if err := WriteGrid(outPath, combined); err != nil {
		return nil, err
	}
	return combined, nil
}
