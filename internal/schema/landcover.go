package schema

import (
	"sort"
	"strconv"
)

// Class is one land-cover class of the Copernicus Global Land Cover scheme.
type Class struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Biome string `json:"biome"`
}

// UnknownCode is the class every absent, zero or unrecognized code maps to.
const UnknownCode = 0

// classTable is built once and never mutated. Order matters for
// BiomeToColor: a later class overwrites the color of a shared biome.
var classTable = []struct {
	Code int
	Class
}{
	{0, Class{"unknown", "#808080", "unknown"}},
	{20, Class{"shrubs", "#ccb35c", "shrubland"}},
	{30, Class{"herbaceous", "#b8e05c", "grassland"}},
	{40, Class{"cultivated", "#e9d35f", "agricultural"}},
	{50, Class{"urban", "#e60000", "urban"}},
	{60, Class{"bare_sparse", "#c4b79f", "desert"}},
	{70, Class{"snow_ice", "#f0f0f0", "polar"}},
	{80, Class{"water", "#0064c8", "freshwater"}},
	{90, Class{"wetland", "#009696", "wetland"}},
	{100, Class{"moss_lichen", "#7dd67d", "tundra"}},
	{111, Class{"forest_evergreen_needle", "#006400", "forest"}},
	{112, Class{"forest_evergreen_broad", "#00a000", "forest"}},
	{113, Class{"forest_deciduous_needle", "#aac800", "forest"}},
	{114, Class{"forest_deciduous_broad", "#68c800", "forest"}},
	{115, Class{"forest_mixed", "#00c800", "forest"}},
	{116, Class{"forest_unknown", "#32c832", "forest"}},
	{121, Class{"forest_open_evergreen_needle", "#88a000", "woodland"}},
	{122, Class{"forest_open_evergreen_broad", "#78c800", "woodland"}},
	{123, Class{"forest_open_deciduous_needle", "#a0c000", "woodland"}},
	{124, Class{"forest_open_deciduous_broad", "#90c800", "woodland"}},
	{125, Class{"forest_open_mixed", "#78c864", "woodland"}},
	{126, Class{"forest_open_unknown", "#6bc864", "woodland"}},
	{200, Class{"ocean", "#000080", "ocean"}},
}

var (
	classByCode  = make(map[int]Class, len(classTable))
	biomeToColor = map[string]string{}
)

func init() {
	for _, e := range classTable {
		classByCode[e.Code] = e.Class
		biomeToColor[e.Biome] = e.Color
	}
}

// Lookup returns the class for code and whether it is a known code.
// Unknown codes return the "unknown" class.
func Lookup(code int) (Class, bool) {
	c, ok := classByCode[code]
	if !ok {
		return classByCode[UnknownCode], false
	}
	return c, true
}

// Codes returns every known code in ascending order.
func Codes() []int {
	out := make([]int, 0, len(classTable))
	for _, e := range classTable {
		out = append(out, e.Code)
	}
	sort.Ints(out)
	return out
}

// Classes returns a copy of the class table keyed by the decimal code, the
// shape written to biome_colors.json.
func Classes() map[string]Class {
	out := make(map[string]Class, len(classTable))
	for _, e := range classTable {
		out[strconv.Itoa(e.Code)] = e.Class
	}
	return out
}

// BiomeToColor returns a copy of the biome → color mapping.
func BiomeToColor() map[string]string {
	out := make(map[string]string, len(biomeToColor))
	for k, v := range biomeToColor {
		out[k] = v
	}
	return out
}

// Biomes returns the distinct biome names, sorted.
func Biomes() []string {
	out := make([]string, 0, len(biomeToColor))
	for b := range biomeToColor {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// LandcoverFields are the source columns read for the land-cover export.
var LandcoverFields = []string{"h3_index", "MAJORITY"}

// LandcoverColumns is the output column order of the land-cover records.
var LandcoverColumns = []Column{
	{Name: "h3", Type: "text"},
	{Name: "code", Type: "bigint"},
	{Name: "biome", Type: "text"},
}

// ClassifyMajority resolves a raw majority value. Absent, null, zero,
// unparsable, negative and unrecognized values all yield UnknownCode; no
// distinction is made between "no data" and "classified as unknown".
func ClassifyMajority(v any) (int, Class) {
	n, ok := Int(v)
	if !ok || n <= 0 || n > int64(^uint32(0)>>1) {
		return UnknownCode, classByCode[UnknownCode]
	}
	c, known := Lookup(int(n))
	if !known {
		return UnknownCode, c
	}
	return int(n), c
}

// MapLandcover converts a row aligned to LandcoverFields. ok is false when
// the row has no H3 index.
func MapLandcover(row []any) (rec LandcoverRecord, ok bool) {
	var h3, majority any
	if len(row) > 0 {
		h3 = row[0]
	}
	if len(row) > 1 {
		majority = row[1]
	}
	rec.H3 = Text(h3)
	if rec.H3 == "" {
		return LandcoverRecord{}, false
	}
	code, class := ClassifyMajority(majority)
	rec.Code = code
	rec.Biome = class.Biome
	return rec, true
}

// Values returns the record in LandcoverColumns order for a load sink.
func (r LandcoverRecord) Values() []any {
	return []any{r.H3, int64(r.Code), r.Biome}
}
