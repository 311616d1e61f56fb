package domain

// VariableSpec describes one canonical variable of the tile schema: its
// upstream column name, unit, and the inclusive range accepted by quality
// control.
type VariableSpec struct {
	Canonical string
	Upstream  string
	Unit      string
	Min       float64
	Max       float64
}

// TileSchema lists every canonical variable of the twin. The QC ranges are
// operational bounds, deliberately generous: they reject encoding mistakes
// (Kelvin where Celsius was expected, fill values leaking through), not
// unusual ocean states.
var TileSchema = []VariableSpec{
	{Canonical: "env.sst", Upstream: "sea_surface_temperature", Unit: "degC", Min: -5, Max: 45},
	{Canonical: "env.par", Upstream: "par", Unit: "einstein m-2 day-1", Min: 0, Max: 200},
	{Canonical: "env.fco2", Upstream: "fco2_ave_weighted", Unit: "uatm", Min: 0, Max: 1000},
	{Canonical: "env.current.uo", Upstream: "uo", Unit: "m s-1", Min: -10, Max: 10},
	{Canonical: "env.current.vo", Upstream: "vo", Unit: "m s-1", Min: -10, Max: 10},
	{Canonical: "bio.chl", Upstream: "CHL", Unit: "mg m-3", Min: 0, Max: 100},
	{Canonical: "bio.phyto.diato", Upstream: "DIATO", Unit: "mg m-3", Min: 0, Max: 100},
	{Canonical: "bio.phyto.dino", Upstream: "DINO", Unit: "mg m-3", Min: 0, Max: 100},
	{Canonical: "bio.phyto.green", Upstream: "GREEN", Unit: "mg m-3", Min: 0, Max: 100},
	{Canonical: "bio.phyto.hapto", Upstream: "HAPTO", Unit: "mg m-3", Min: 0, Max: 100},
	{Canonical: "bio.phyto.micro", Upstream: "MICRO", Unit: "mg m-3", Min: 0, Max: 100},
	{Canonical: "bio.phyto.nano", Upstream: "NANO", Unit: "mg m-3", Min: 0, Max: 100},
	{Canonical: "bio.phyto.pico", Upstream: "PICO", Unit: "mg m-3", Min: 0, Max: 100},
	{Canonical: "bio.phyto.prochlo", Upstream: "PROCHLO", Unit: "mg m-3", Min: 0, Max: 100},
	{Canonical: "bio.phyto.prokar", Upstream: "PROKAR", Unit: "mg m-3", Min: 0, Max: 100},
	{Canonical: "bio.npp", Upstream: "npp", Unit: "mg m-2 day-1", Min: 0, Max: 10000},
}

// PhytoGroups are the phytoplankton functional groups that make up the
// composition analysis. PROCHLO and PROKAR overlap the pico fraction and are
// excluded to avoid double counting.
var PhytoGroups = []string{
	"bio.phyto.diato",
	"bio.phyto.dino",
	"bio.phyto.green",
	"bio.phyto.hapto",
	"bio.phyto.micro",
	"bio.phyto.nano",
	"bio.phyto.pico",
}

var (
	byUpstream  = make(map[string]VariableSpec, len(TileSchema))
	byCanonical = make(map[string]VariableSpec, len(TileSchema))
)

func init() {
	for _, s := range TileSchema {
		byUpstream[s.Upstream] = s
		byCanonical[s.Canonical] = s
	}
}

// CanonicalName maps an upstream column name to its canonical variable name.
// Already-canonical names map to themselves so sink topics can be re-consumed.
func CanonicalName(column string) (string, bool) {
	if s, ok := byUpstream[column]; ok {
		return s.Canonical, true
	}
	if _, ok := byCanonical[column]; ok {
		return column, true
	}
	return "", false
}

// SpecFor returns the schema entry for a canonical variable name.
func SpecFor(canonical string) (VariableSpec, bool) {
	s, ok := byCanonical[canonical]
	return s, ok
}

// CanonicalNames returns all canonical variable names in schema order.
func CanonicalNames() []string {
	names := make([]string, len(TileSchema))
	for i, s := range TileSchema {
		names[i] = s.Canonical
	}
	return names
}
