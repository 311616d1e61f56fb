package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrFiltered marks samples excluded from the twin rather than failed, such
// as land tiles. The pipeline commits and skips these without counting them
// as transform errors.
var ErrFiltered = errors.New("sample filtered")

// timeLayouts are the accepted observation timestamp formats, tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseRawSample deserializes a RawSample's value into a TileRecord. It
// expects the flat string-valued JSON produced by the collector services.
// Variable columns are canonicalized and range-checked; failures become
// Rejection entries rather than zeroes. Bad coordinates reject the whole
// sample.
func ParseRawSample(raw RawSample) (TileRecord, error) {
	var obs RawObservation
	if err := json.Unmarshal(raw.Value, &obs); err != nil {
		return TileRecord{}, fmt.Errorf("parse raw sample: %w", err)
	}

	geo, hasGeo, err := parseGeo(obs.Lat, obs.Lon)
	if err != nil {
		return TileRecord{}, err
	}
	if obs.GridID == "" && !hasGeo {
		return TileRecord{}, errors.New("sample has neither grid_id nor coordinates")
	}

	ocean, err := parseOceanFlag(obs.IsOcean)
	if err != nil {
		return TileRecord{}, err
	}

	rec := TileRecord{
		Source:     obs.Source,
		Tile:       obs.GridID,
		Geo:        geo,
		Ocean:      ocean,
		Time:       parseObservationTime(raw.Timestamp, obs.Time),
		Values:     make(map[string]float64, len(obs.Variables)),
		RawPayload: raw.Value,
	}

	// Iterate columns in sorted order so rejection lists are deterministic.
	columns := make([]string, 0, len(obs.Variables))
	for name := range obs.Variables {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	for _, name := range columns {
		value := strings.TrimSpace(obs.Variables[name])
		if value == "" {
			continue
		}

		canonical, known := CanonicalName(name)
		if !known {
			rec.Rejected = append(rec.Rejected, Rejection{
				Variable: name, Value: value, Reason: RejectUnknownVariable,
			})
			continue
		}

		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			rec.Rejected = append(rec.Rejected, Rejection{
				Variable: canonical, Value: value, Reason: RejectUnparseable,
			})
			continue
		}
		if math.IsNaN(v) {
			continue // missing, not an error
		}

		spec, _ := SpecFor(canonical)
		if v < spec.Min || v > spec.Max {
			rec.Rejected = append(rec.Rejected, Rejection{
				Variable: canonical,
				Value:    value,
				Reason:   RejectOutOfRange,
				Detail:   fmt.Sprintf("allowed %g..%g %s", spec.Min, spec.Max, spec.Unit),
			})
			continue
		}
		rec.Values[canonical] = v
	}

	return rec, nil
}

// parseGeo parses the coordinate pair. Both fields absent means the sample
// carries no geo; anything else must parse and fall inside the WGS-84 domain.
func parseGeo(latStr, lonStr string) (Geo, bool, error) {
	latStr = strings.TrimSpace(latStr)
	lonStr = strings.TrimSpace(lonStr)
	if latStr == "" && lonStr == "" {
		return Geo{}, false, nil
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return Geo{}, false, fmt.Errorf("invalid lat %q", latStr)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return Geo{}, false, fmt.Errorf("invalid lon %q", lonStr)
	}
	if lat < -90 || lat > 90 {
		return Geo{}, false, fmt.Errorf("lat %g outside -90..90", lat)
	}
	if lon < -180 || lon > 180 {
		return Geo{}, false, fmt.Errorf("lon %g outside -180..180", lon)
	}
	return Geo{Lat: lat, Lon: lon}, true, nil
}

// parseOceanFlag interprets the land/sea flag. Absent means ocean because
// collectors may pre-filter land cells.
func parseOceanFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "1", "true":
		return true, nil
	case "0", "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid is_ocean %q", s)
	}
}

// parseObservationTime parses the observation timestamp, falling back to the
// Kafka message timestamp when the field is absent or unparseable.
func parseObservationTime(fallback time.Time, s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

// EnrichTileRecord finalizes a parsed record: it derives the tile label when
// the sample carried only coordinates, filters land tiles, assigns the
// deterministic record ID and day bucket, and stamps the processing time.
func EnrichTileRecord(rec TileRecord, grid GridSpec) (TileRecord, error) {
	if rec.Tile == "" {
		tile, ok := grid.DeriveTileID(rec.Geo)
		if !ok {
			return rec, errors.New("cannot derive tile id: sample outside the configured grid")
		}
		rec.Tile = tile
	}

	if !rec.Ocean {
		return rec, fmt.Errorf("land tile %s: %w", rec.Tile, ErrFiltered)
	}

	rec.ID = generateID(rec.Source, rec.Tile, rec.Geo.Lat, rec.Geo.Lon, rec.Time)
	rec.DayBucket = deriveDayBucket(rec.Time)
	rec.ProcessedAt = clock.Now()
	return rec, nil
}

// generateID produces a deterministic ID from the record's key fields.
// Deterministic IDs make downstream upserts idempotent and topic replays
// safe without coordination.
func generateID(source, tile string, lat, lon float64, ts time.Time) string {
	input := fmt.Sprintf("%s|%s|%.4f|%.4f|%d", source, tile, lat, lon, ts.Unix())
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])
	if source == "" {
		return short
	}
	return source + "-" + short
}

// deriveDayBucket truncates the observation time to midnight UTC.
// Returns zero time if the input is zero.
func deriveDayBucket(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(24 * time.Hour)
}

// SerializeTileRecord marshals a record into its sink wire form: the record
// ID as the key and routing metadata in the headers.
func SerializeTileRecord(rec TileRecord) (OutputMessage, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return OutputMessage{}, fmt.Errorf("serialize tile record: %w", err)
	}
	return OutputMessage{
		Key:   []byte(rec.ID),
		Value: data,
		Headers: map[string]string{
			"source":       rec.Source,
			"tile":         rec.Tile,
			"processed_at": rec.ProcessedAt.Format(time.RFC3339),
		},
	}, nil
}
