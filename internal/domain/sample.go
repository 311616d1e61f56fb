package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Reserved keys of the flat observation JSON. Everything else is a variable
// column named after its upstream product column.
const (
	fieldSource  = "source"
	fieldTime    = "time"
	fieldGridID  = "grid_id"
	fieldLat     = "lat"
	fieldLon     = "lon"
	fieldIsOcean = "is_ocean"
)

// RawObservation represents the flat JSON structure produced by the
// collectors: string values only, reserved keys for metadata, and one entry
// per variable under its upstream column name.
type RawObservation struct {
	Source  string
	Time    string
	GridID  string
	Lat     string
	Lon     string
	IsOcean string

	// Variables holds the remaining columns keyed by upstream name.
	Variables map[string]string
}

// UnmarshalJSON splits the flat object into reserved metadata fields and the
// remaining variable columns.
func (o *RawObservation) UnmarshalJSON(data []byte) error {
	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	o.Source = fields[fieldSource]
	o.Time = fields[fieldTime]
	o.GridID = fields[fieldGridID]
	o.Lat = fields[fieldLat]
	o.Lon = fields[fieldLon]
	o.IsOcean = fields[fieldIsOcean]

	delete(fields, fieldSource)
	delete(fields, fieldTime)
	delete(fields, fieldGridID)
	delete(fields, fieldLat)
	delete(fields, fieldLon)
	delete(fields, fieldIsOcean)
	o.Variables = fields
	return nil
}

// MarshalJSON flattens the observation back into a single JSON object.
// Empty metadata fields are omitted, matching what collectors produce.
func (o RawObservation) MarshalJSON() ([]byte, error) {
	fields := make(map[string]string, len(o.Variables)+6)
	for k, v := range o.Variables {
		fields[k] = v
	}
	for _, kv := range []struct{ key, val string }{
		{fieldSource, o.Source},
		{fieldTime, o.Time},
		{fieldGridID, o.GridID},
		{fieldLat, o.Lat},
		{fieldLon, o.Lon},
		{fieldIsOcean, o.IsOcean},
	} {
		if kv.val != "" {
			fields[kv.key] = kv.val
		}
	}
	return json.Marshal(fields)
}

// RawSample represents an unprocessed message from the source topic.
type RawSample struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Rejection reasons attached by quality control.
const (
	RejectUnknownVariable = "unknown_variable"
	RejectUnparseable     = "unparseable"
	RejectOutOfRange      = "out_of_range"
)

// Rejection records a variable value dropped during quality control.
type Rejection struct {
	Variable string `json:"variable"`
	Value    string `json:"value"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

// TileRecord is the canonical per-tile observation after normalization.
type TileRecord struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Tile      string    `json:"tile"`
	Geo       Geo       `json:"geo"`
	Ocean     bool      `json:"ocean"`
	Time      time.Time `json:"time"`
	DayBucket time.Time `json:"day_bucket"`

	// Values maps canonical variable names to observed values. Missing
	// variables are absent rather than NaN so the record serializes cleanly.
	Values map[string]float64 `json:"values"`

	Rejected []Rejection `json:"rejected,omitempty"`

	RawPayload  []byte    `json:"-"`
	ProcessedAt time.Time `json:"processed_at"`
}

// OutputMessage is the serialized form destined for a sink.
type OutputMessage struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}
