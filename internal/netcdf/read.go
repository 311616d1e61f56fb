// Package netcdf maps NetCDF files onto the grid dataset model. Reading
// accepts the axis spellings and CF time encodings of the upstream marine
// products; writing emits classic-format files with normalized axis names
// and attributes.
package netcdf

import (
	"fmt"
	"math"
	"reflect"
	"slices"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/seastate/ocean-twin-etl/internal/grid"
)

// Variable names recognized as structure rather than data.
const (
	maskVar = "is_ocean"
	tileVar = "grid_id"
)

var axisNames = []string{"latitude", "longitude", "lat", "lon", "time"}

// ReadOptions narrow what ReadGrid decodes.
type ReadOptions struct {
	// Variables keeps only the named data variables. Empty keeps all.
	// The ocean mask and tile labels are structural and always read.
	Variables []string
}

// ReadGrid decodes a NetCDF file into a gridded dataset. Axes may be named
// lat/lon or latitude/longitude and may run in either direction; descending
// axes are flipped so the dataset is always ascending. Fill values and
// missing values become NaN, scale/offset attributes are applied, and an
// is_ocean variable becomes the grid's land/sea mask.
func ReadGrid(path string, opts ReadOptions) (*grid.Dataset, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer nc.Close()

	lats, flipLat, err := axisValues(nc, "latitude", "lat")
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	lons, flipLon, err := axisValues(nc, "longitude", "lon")
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	g, err := grid.NewGrid(lats, lons)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	times, err := readTimes(nc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	ds := grid.NewDataset(g, times)
	for _, name := range nc.ListVariables() {
		if slices.Contains(axisNames, name) {
			continue
		}
		if name == tileVar {
			tiles, err := readTiles(nc, len(lats), len(lons), flipLat, flipLon)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			g.Tiles = tiles
			continue
		}
		if name != maskVar && len(opts.Variables) > 0 && !slices.Contains(opts.Variables, name) {
			continue
		}

		vg, err := nc.GetVarGetter(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: variable %s: %w", path, name, err)
		}
		steps, err := decodeSteps(vg, len(times), len(lats), len(lons), flipLat, flipLon)
		if err != nil {
			return nil, fmt.Errorf("read %s: variable %s: %w", path, name, err)
		}
		ds.Vars[name] = &grid.Cube{
			Name:  name,
			Unit:  attrString(vg.Attributes(), "units"),
			Steps: steps,
		}
	}

	if _, ok := ds.Vars[maskVar]; ok {
		if err := ds.AdoptOceanMask(maskVar); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return ds, nil
}

// axisValues reads a coordinate axis under any of the given names and
// reports whether it arrived descending.
func axisValues(nc api.Group, names ...string) ([]float64, bool, error) {
	for _, name := range names {
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			continue
		}
		raw, err := vg.Values()
		if err != nil {
			return nil, false, fmt.Errorf("axis %s: %w", name, err)
		}
		vals := appendFloats(reflect.ValueOf(raw), nil)
		if len(vals) > 1 && vals[0] > vals[len(vals)-1] {
			slices.Reverse(vals)
			return vals, true, nil
		}
		return vals, false, nil
	}
	return nil, false, fmt.Errorf("no %s axis found", names[0])
}

// decodeSteps flattens a variable into per-step cell slices, applying fill
// value, scale factor, and offset. Singleton dimensions (a depth axis of
// length one) collapse away; anything else of the wrong size is an error.
func decodeSteps(vg api.VarGetter, nTime, nLat, nLon int, flipLat, flipLon bool) ([][]float64, error) {
	raw, err := vg.Values()
	if err != nil {
		return nil, err
	}
	flat := appendFloats(reflect.ValueOf(raw), nil)

	cells := nLat * nLon
	var steps int
	switch {
	case len(flat) == cells:
		steps = 1
	case nTime > 0 && len(flat) == nTime*cells:
		steps = nTime
	default:
		return nil, fmt.Errorf("got %d values, want %d or %d", len(flat), cells, nTime*cells)
	}

	attrs := vg.Attributes()
	fill, hasFill := attrFloat(attrs, "_FillValue")
	missing, hasMissing := attrFloat(attrs, "missing_value")
	scale, hasScale := attrFloat(attrs, "scale_factor")
	offset, hasOffset := attrFloat(attrs, "add_offset")
	if !hasScale {
		scale = 1
	}
	if !hasOffset {
		offset = 0
	}

	out := make([][]float64, steps)
	for s := 0; s < steps; s++ {
		step := make([]float64, cells)
		for i := range step {
			v := flat[s*cells+i]
			switch {
			case hasFill && v == fill, hasMissing && v == missing:
				step[i] = math.NaN()
			default:
				step[i] = v*scale + offset
			}
		}
		out[s] = flipCells(step, nLat, nLon, flipLat, flipLon)
	}
	return out, nil
}

func readTiles(nc api.Group, nLat, nLon int, flipLat, flipLon bool) ([]string, error) {
	vr, err := nc.GetVariable(tileVar)
	if err != nil {
		return nil, err
	}
	flat := appendStrings(reflect.ValueOf(vr.Values), nil)
	if len(flat) != nLat*nLon {
		return nil, fmt.Errorf("grid_id has %d labels, want %d", len(flat), nLat*nLon)
	}
	return flipCells(flat, nLat, nLon, flipLat, flipLon), nil
}

// appendFloats walks arbitrarily nested numeric slices and appends every
// element as float64.
func appendFloats(rv reflect.Value, out []float64) []float64 {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			out = appendFloats(rv.Index(i), out)
		}
	case reflect.Float32, reflect.Float64:
		out = append(out, rv.Float())
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		out = append(out, float64(rv.Int()))
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		out = append(out, float64(rv.Uint()))
	}
	return out
}

func appendStrings(rv reflect.Value, out []string) []string {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			out = appendStrings(rv.Index(i), out)
		}
	case reflect.String:
		out = append(out, rv.String())
	}
	return out
}

// flipCells reverses row and/or column order of one row-major step so data
// from descending axes lines up with the ascending grid.
func flipCells[T any](cells []T, nLat, nLon int, flipLat, flipLon bool) []T {
	if !flipLat && !flipLon {
		return cells
	}
	out := make([]T, len(cells))
	for r := 0; r < nLat; r++ {
		sr := r
		if flipLat {
			sr = nLat - 1 - r
		}
		for c := 0; c < nLon; c++ {
			sc := c
			if flipLon {
				sc = nLon - 1 - c
			}
			out[r*nLon+c] = cells[sr*nLon+sc]
		}
	}
	return out
}

// attrString returns a string attribute, tolerating single-element slices.
func attrString(attrs api.AttributeMap, key string) string {
	if attrs == nil {
		return ""
	}
	v, has := attrs.Get(key)
	if !has {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []string:
		if len(s) > 0 {
			return s[0]
		}
	}
	return ""
}

// attrFloat returns a numeric attribute, tolerating any numeric type and
// single-element slices.
func attrFloat(attrs api.AttributeMap, key string) (float64, bool) {
	if attrs == nil {
		return 0, false
	}
	v, has := attrs.Get(key)
	if !has {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Len() == 0 {
			return 0, false
		}
		rv = rv.Index(0)
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return float64(rv.Int()), true
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return float64(rv.Uint()), true
	}
	return 0, false
}
