package netcdf

import (
	"fmt"
	"math"
	"sort"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"

	"github.com/seastate/ocean-twin-etl/internal/grid"
)

// WriteGrid writes a dataset as a classic-format NetCDF file with normalized
// axes: latitude/longitude names regardless of what the source called them,
// CF units and axis attributes, time in days since 1900-01-01. The ocean
// mask and tile labels are re-emitted as is_ocean and grid_id variables.
func WriteGrid(path string, d *grid.Dataset) error {
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := writeBody(cw, d); err != nil {
		cw.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeBody(cw *cdf.CDFWriter, d *grid.Dataset) error {
	g := d.Grid

	if err := addVar(cw, "latitude", g.Lats, []string{"latitude"}, map[string]interface{}{
		"units":         "degrees_north",
		"standard_name": "latitude",
		"long_name":     "latitude",
		"axis":          "Y",
	}); err != nil {
		return err
	}
	if err := addVar(cw, "longitude", g.Lons, []string{"longitude"}, map[string]interface{}{
		"units":         "degrees_east",
		"standard_name": "longitude",
		"long_name":     "longitude",
		"axis":          "X",
	}); err != nil {
		return err
	}

	dims := []string{"latitude", "longitude"}
	if d.Times != nil {
		if err := addVar(cw, "time", encodeTimes(d.Times), []string{"time"}, map[string]interface{}{
			"units":         "days since 1900-01-01",
			"standard_name": "time",
			"long_name":     "Time",
			"axis":          "T",
			"unit_long":     "Days Since 1900-01-01",
		}); err != nil {
			return err
		}
		dims = []string{"time", "latitude", "longitude"}
	}

	for _, name := range d.VarNames() {
		c := d.Vars[name]
		attrs := map[string]interface{}{"_FillValue": math.NaN()}
		if c.Unit != "" {
			attrs["units"] = c.Unit
		}
		if d.Times == nil {
			if len(c.Steps) != 1 {
				return fmt.Errorf("variable %s has %d steps but the dataset has no time axis", name, len(c.Steps))
			}
			if err := addVar(cw, name, shapeStep(c.Steps[0], g), dims, attrs); err != nil {
				return err
			}
			continue
		}
		if len(c.Steps) != len(d.Times) {
			return fmt.Errorf("variable %s has %d steps, want %d", name, len(c.Steps), len(d.Times))
		}
		shaped := make([][][]float64, len(c.Steps))
		for t, step := range c.Steps {
			shaped[t] = shapeStep(step, g)
		}
		if err := addVar(cw, name, shaped, dims, attrs); err != nil {
			return err
		}
	}

	if g.Ocean != nil {
		mask := make([]float64, len(g.Ocean))
		for i, ocean := range g.Ocean {
			if ocean {
				mask[i] = 1
			}
		}
		err := addVar(cw, maskVar, shapeStep(mask, g), []string{"latitude", "longitude"}, map[string]interface{}{
			"long_name": "land/sea mask, 1 = ocean",
		})
		if err != nil {
			return err
		}
	}
	if g.Tiles != nil {
		labels := make([][]string, len(g.Lats))
		for r := range labels {
			labels[r] = g.Tiles[r*len(g.Lons) : (r+1)*len(g.Lons)]
		}
		err := addVar(cw, tileVar, labels, []string{"latitude", "longitude"}, map[string]interface{}{
			"long_name": "alphanumeric grid cell identifier",
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func addVar(cw *cdf.CDFWriter, name string, values interface{}, dims []string, attrs map[string]interface{}) error {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	// OrderedMap keeps insertion order; sort for stable files.
	sort.Strings(keys)
	am, err := util.NewOrderedMap(keys, attrs)
	if err != nil {
		return fmt.Errorf("variable %s attributes: %w", name, err)
	}
	if err := cw.AddVar(name, api.Variable{Values: values, Dimensions: dims, Attributes: am}); err != nil {
		return fmt.Errorf("variable %s: %w", name, err)
	}
	return nil
}

// shapeStep turns one flattened row-major step into the nested row slices
// the writer expects.
func shapeStep(step []float64, g *grid.Grid) [][]float64 {
	rows := make([][]float64, len(g.Lats))
	for r := range rows {
		rows[r] = step[r*len(g.Lons) : (r+1)*len(g.Lons)]
	}
	return rows
}
