package netcdf

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// epoch1900 anchors the ERA5-style "hours since 1900-01-01" encoding used
// when a time axis carries no units attribute.
var epoch1900 = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

var epochLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// readTimes decodes the time axis. Files without one yield nil, meaning
// every variable is a single static step.
func readTimes(nc api.Group) ([]time.Time, error) {
	vg, err := nc.GetVarGetter("time")
	if err != nil {
		return nil, nil
	}
	raw, err := vg.Values()
	if err != nil {
		return nil, fmt.Errorf("time axis: %w", err)
	}
	vals := appendFloats(reflect.ValueOf(raw), nil)

	unit := attrString(vg.Attributes(), "units")
	if unit == "" {
		unit = attrString(vg.Attributes(), "unit_long")
	}
	secsPerUnit, epoch := float64(3600), epoch1900
	if unit != "" {
		secsPerUnit, epoch, err = parseTimeUnits(unit)
		if err != nil {
			return nil, err
		}
	}

	out := make([]time.Time, len(vals))
	for i, v := range vals {
		out[i] = epoch.Add(time.Duration(math.Round(v*secsPerUnit)) * time.Second)
	}
	return out, nil
}

// parseTimeUnits decodes a CF-style time unit like "days since 1900-01-01"
// into a unit length in seconds and the epoch.
func parseTimeUnits(s string) (float64, time.Time, error) {
	lower := strings.ToLower(s)
	idx := strings.Index(lower, " since ")
	if idx < 0 {
		return 0, time.Time{}, fmt.Errorf("unsupported time units %q", s)
	}
	unit := lower[:idx]
	stamp := s[idx+len(" since "):] // keep the original case for time.Parse

	var secs float64
	switch strings.TrimSpace(unit) {
	case "days":
		secs = 86400
	case "hours":
		secs = 3600
	case "seconds":
		secs = 1
	default:
		return 0, time.Time{}, fmt.Errorf("unsupported time units %q", s)
	}

	stamp = strings.TrimSpace(stamp)
	for _, layout := range epochLayouts {
		if t, err := time.Parse(layout, stamp); err == nil {
			return secs, t, nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("unsupported time epoch %q", s)
}

// encodeTimes writes the axis back out as days since 1900-01-01.
func encodeTimes(times []time.Time) []float64 {
	out := make([]float64, len(times))
	for i, t := range times {
		out[i] = t.Sub(epoch1900).Hours() / 24
	}
	return out
}
