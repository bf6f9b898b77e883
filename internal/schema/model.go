// Package schema maps raw workspace rows onto the fixed output records of the
// two exports and owns the static land-cover class table.
//
// Mappers are pure functions: they receive a row aligned to the package's
// field list (StatsFields, LandcoverFields) plus the table's provenance and
// return a record. Values arrive from different backends as int64, float64,
// string, []byte or json.Number; the coercion helpers below normalize them.
package schema

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Column describes one output column with a logical type ("text", "bigint",
// "double") used when a load sink creates its table.
type Column struct {
	Name string
	Type string
}

// Names returns the column names in declared order.
func Names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// StatsRecord is one zonal-statistics output row. Nil pointers serialize as
// empty CSV cells and JSON null.
type StatsRecord struct {
	H3Index    string   `json:"h3_index" db:"h3_index"`
	ZoneCode   *int64   `json:"zone_code" db:"zone_code"`
	Count      *int64   `json:"count" db:"count"`
	Area       *float64 `json:"area" db:"area"`
	Majority   *int64   `json:"majority" db:"majority"`
	SourcePart string   `json:"source_part" db:"source_part"`
}

// LandcoverRecord is one land-cover output row.
type LandcoverRecord struct {
	H3    string `json:"h3" db:"h3"`
	Code  int    `json:"code" db:"code"`
	Biome string `json:"biome" db:"biome"`
}

// numeric is satisfied by json.Number.
type numeric interface {
	Int64() (int64, error)
	Float64() (float64, error)
}

var _ numeric = json.Number("")

// Text returns v as a trimmed string. Nil and non-text values yield "".
func Text(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case []byte:
		return strings.TrimSpace(string(x))
	default:
		return ""
	}
}

// Int coerces v to an integer. Floats are truncated toward zero. ok is false
// for nil, NaN/Inf and values that do not parse.
func Int(v any) (n int64, ok bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float32:
		return truncate(float64(x))
	case float64:
		return truncate(x)
	case numeric:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return truncate(f)
	case string:
		return parseInt(x)
	case []byte:
		return parseInt(string(x))
	default:
		return 0, false
	}
}

// Float coerces v to a float64. Non-finite values are treated as absent.
func Float(v any) (f float64, ok bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, finite(x)
	case float32:
		return float64(x), finite(float64(x))
	case numeric:
		f, err := x.Float64()
		return f, err == nil && finite(f)
	case string:
		return parseFloat(x)
	case []byte:
		return parseFloat(string(x))
	default:
		if n, ok := Int(v); ok {
			return float64(n), true
		}
		return 0, false
	}
}

func truncate(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

func parseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return truncate(f)
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(f) {
		return 0, false
	}
	return f, true
}

// finite rejects NaN and ±Inf, which have no CSV or JSON representation
// shared by the consumers of the exports.
func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
