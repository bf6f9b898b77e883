package schema

import (
	"strconv"
)

// StatsFields are the source columns read for the statistics export, in the
// order rows are aligned to. OBJECTID is never read and any other column the
// table carries is ignored.
var StatsFields = []string{"h3_index", "ZONE_CODE", "COUNT", "AREA", "MAJORITY"}

// StatsColumns is the fixed output header of zonal_stats_res<N>.csv.
var StatsColumns = []Column{
	{Name: "h3_index", Type: "text"},
	{Name: "zone_code", Type: "bigint"},
	{Name: "count", Type: "bigint"},
	{Name: "area", Type: "double"},
	{Name: "majority", Type: "bigint"},
	{Name: "source_part", Type: "text"},
}

// MapStats converts a row aligned to StatsFields. ok is false when the row
// has no H3 index; such rows are not exported.
func MapStats(row []any, sourcePart string) (rec StatsRecord, ok bool) {
	get := func(i int) any {
		if i < len(row) {
			return row[i]
		}
		return nil
	}
	rec.H3Index = Text(get(0))
	if rec.H3Index == "" {
		return StatsRecord{}, false
	}
	rec.ZoneCode = intPtr(get(1))
	rec.Count = intPtr(get(2))
	rec.Area = floatPtr(get(3))
	rec.Majority = intPtr(get(4))
	rec.SourcePart = sourcePart
	return rec, true
}

func intPtr(v any) *int64 {
	n, ok := Int(v)
	if !ok {
		return nil
	}
	return &n
}

func floatPtr(v any) *float64 {
	f, ok := Float(v)
	if !ok {
		return nil
	}
	return &f
}

// CSV returns the record as CSV cells in StatsColumns order.
func (r StatsRecord) CSV() []string {
	return []string{
		r.H3Index,
		formatInt(r.ZoneCode),
		formatInt(r.Count),
		formatFloat(r.Area),
		formatInt(r.Majority),
		r.SourcePart,
	}
}

// Values returns the record in StatsColumns order for a load sink.
func (r StatsRecord) Values() []any {
	return []any{r.H3Index, deref(r.ZoneCode), deref(r.Count), deref(r.Area), deref(r.Majority), r.SourcePart}
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func formatInt(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

func formatFloat(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}
