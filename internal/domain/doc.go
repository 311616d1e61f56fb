// Package domain models ocean observation data for the digital twin.
//
// # Data Sources
//
// Observations originate from two families of upstream products: Copernicus
// Marine (CMEMS) gridded reanalysis and forecast products (sea surface
// temperature, surface currents, chlorophyll, phytoplankton functional
// groups, primary production) and NASA Ocean Color granules (photosynthetically
// available radiation, CO2 flux climatologies). Collector services subset
// these products per grid tile, flatten each (tile, timestamp) cell into a
// flat JSON object with string values, and publish it to the Kafka source
// topic.
//
// # Message Conventions
//
// Reserved keys:
//
//	"source"   short slug of the upstream product family, e.g. "cmems", "nasa".
//	"time"     observation timestamp: RFC 3339, "2006-01-02 15:04:05", or a
//	           bare "2006-01-02" date. When absent or unparseable the Kafka
//	           message timestamp is used instead.
//	"grid_id"  alphanumeric tile label (see below). When absent the tile is
//	           derived from lat/lon and the configured grid.
//	"lat"      WGS-84 latitude in decimal degrees, -90..90.
//	"lon"      WGS-84 longitude in decimal degrees, -180..180.
//	"is_ocean" land/sea flag: "1"/"true" for ocean, "0"/"false" for land.
//	           Land samples are filtered out of the twin, not treated as
//	           errors. Absent means ocean (collectors may pre-filter).
//
// Every other key is a variable column carrying the upstream column name,
// e.g. "sea_surface_temperature" or "CHL". Normalization renames these to the
// canonical dotted names in [TileSchema] ("env.sst", "bio.chl", ...). Empty
// strings and "NaN" mark missing values; a canonical record simply omits the
// variable.
//
// # Tile Labels
//
// Tiles are cells of a regular latitude/longitude grid named battleship
// style: bijective base-26 letters over the zero-based longitude column
// (0 is A, 25 is Z, 26 is AA) followed by the 1-based latitude row, so the
// south-west corner of a grid is "A1" and the 27th column of the 25th row is
// "AA25". See [TileID] and [ParseTileID].
//
// # Quality Control
//
// Each variable has an inclusive operational range in [TileSchema]; values
// outside it, and values that fail to parse as floats, are recorded as
// [Rejection] entries on the record rather than silently zeroed. Coordinates
// outside the WGS-84 domain reject the whole sample.
//
// # ID Generation
//
// Record IDs are deterministic SHA-256 hashes of source|tile|lat|lon|time.
// Reprocessing the same raw sample yields the same ID, so downstream stores
// can upsert idempotently and topic replays are safe without coordination.
// See [generateID].
package domain
