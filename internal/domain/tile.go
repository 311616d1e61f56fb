package domain

import (
	"fmt"
	"math"
	"strconv"
)

// TileID returns the grid label for a zero-based column and row index.
// Columns become bijective base-26 letters (0 is A, 25 is Z, 26 is AA) and
// rows the 1-based row number: TileID(0, 0) is "A1", TileID(26, 24) is "AA25".
func TileID(col, row int) string {
	var letters []byte
	n := col + 1
	for n > 0 {
		n--
		letters = append([]byte{byte('A' + n%26)}, letters...)
		n /= 26
	}
	return fmt.Sprintf("%s%d", letters, row+1)
}

// ParseTileID splits a tile label back into zero-based column and row indices.
func ParseTileID(id string) (col, row int, err error) {
	i := 0
	for i < len(id) && id[i] >= 'A' && id[i] <= 'Z' {
		i++
	}
	if i == 0 || i == len(id) {
		return 0, 0, fmt.Errorf("malformed tile id %q", id)
	}

	n := 0
	for _, c := range id[:i] {
		n = n*26 + int(c-'A') + 1
	}

	r, err := strconv.Atoi(id[i:])
	if err != nil || r < 1 {
		return 0, 0, fmt.Errorf("malformed tile id %q", id)
	}
	return n - 1, r - 1, nil
}

// GridSpec describes the regular grid used to derive tile labels from
// coordinates when a sample arrives without one.
type GridSpec struct {
	OriginLat float64 // latitude of the southern grid edge
	OriginLon float64 // longitude of the western grid edge
	CellSize  float64 // cell edge length in degrees
}

// DeriveTileID locates a coordinate on the grid and returns its tile label.
// The second return is false when the point falls outside the grid or the
// spec is unusable.
func (g GridSpec) DeriveTileID(geo Geo) (string, bool) {
	if g.CellSize <= 0 {
		return "", false
	}
	col := int(math.Floor((geo.Lon - g.OriginLon) / g.CellSize))
	row := int(math.Floor((geo.Lat - g.OriginLat) / g.CellSize))
	if col < 0 || row < 0 {
		return "", false
	}
	return TileID(col, row), true
}
