// Package config defines the JSON/YAML-serializable configuration model for
// the export tools. A run is described by a single Export value which is
// passed explicitly into each pipeline invocation; nothing is read from
// package-level globals.
//
// Example (trimmed):
//
//	{
//	  "job":     "zonal_stats",
//	  "source":  { "path": "Biome.gpkg" },
//	  "backend": { "kind": "auto" },
//	  "tables":  { "pattern": "ZStatsTable_h3_res(\\d+)_part(\\d+)" },
//	  "output":  { "dir": "data/exports", "resolutions": [5, 6, 7, 8, 9] },
//	  "sink":    { "kind": "sqlite", "dsn": "biome.db", "table": "zonal_stats" }
//	}
package config

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Export describes a full export run.
type Export struct {
	// Job names the run for logs and metrics labels.
	Job string `json:"job" yaml:"job"`

	Source  Source  `json:"source" yaml:"source"`
	Backend Backend `json:"backend" yaml:"backend"`
	Tables  Tables  `json:"tables" yaml:"tables"`
	Output  Output  `json:"output" yaml:"output"`

	// Sink optionally bulk-loads each written group into a relational store.
	Sink Sink `json:"sink" yaml:"sink"`

	// Publish optionally uploads the written files to an S3-compatible bucket.
	Publish Publish `json:"publish" yaml:"publish"`
}

// Source identifies the workspace holding the exported tables.
type Source struct {
	// Path is a GeoPackage/SQLite file, a PostgreSQL DSN or a directory of
	// layer files, depending on the backend.
	Path string `json:"path" yaml:"path"`
}

// Backend selects how the workspace is read. Kind "auto" (or empty) probes
// the registered backends in preference order.
type Backend struct {
	Kind    string  `json:"kind" yaml:"kind"`
	Options Options `json:"options" yaml:"options"`
}

// Tables selects the tables to export.
type Tables struct {
	// Pattern is a regular expression with two capture groups (resolution,
	// part). Tables are grouped by the captured resolution.
	Pattern string `json:"pattern" yaml:"pattern"`

	// Groups lists explicit resolution groups, each with its own glob. When
	// set, Pattern is ignored.
	Groups []Group `json:"groups" yaml:"groups"`

	// CaseInsensitive folds case before glob matching.
	CaseInsensitive bool `json:"case_insensitive" yaml:"case_insensitive"`
}

// Group pins a glob pattern to a resolution.
type Group struct {
	Resolution int    `json:"resolution" yaml:"resolution"`
	Pattern    string `json:"pattern" yaml:"pattern"`
}

// Output controls where and how files are written.
type Output struct {
	Dir string `json:"dir" yaml:"dir"`

	// Resolutions lists the res<N> subdirectories created up front.
	Resolutions []int `json:"resolutions" yaml:"resolutions"`

	// Compression applies to JSON-lines output: "", "none", "gzip" or "zstd".
	Compression string `json:"compression" yaml:"compression"`
}

// Sink describes the optional relational load target.
type Sink struct {
	// Kind selects the storage backend ("sqlite", "postgres", "mssql",
	// "mysql"). Empty disables loading.
	Kind string `json:"kind" yaml:"kind"`

	DSN             string `json:"dsn" yaml:"dsn"`
	Table           string `json:"table" yaml:"table"`
	AutoCreateTable bool   `json:"auto_create_table" yaml:"auto_create_table"`
	BatchSize       int    `json:"batch_size" yaml:"batch_size"`
}

// Enabled reports whether a sink is configured.
func (s Sink) Enabled() bool { return s.Kind != "" }

// Publish describes the optional S3-compatible upload target.
type Publish struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Prefix       string `json:"prefix" yaml:"prefix"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`

	// Static credentials; both empty means the AWS default chain.
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`

	// Concurrency bounds parallel uploads; <= 0 means 4.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// Enabled reports whether publishing is configured.
func (p Publish) Enabled() bool { return p.Bucket != "" }

// Options is a small helper to fetch typed values from arbitrary JSON/YAML
// maps. It performs only minimal type coercion and returns the provided
// default when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64,
// YAML numbers as int; both are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// StringSlice returns a []string for key when the value is an array of
// strings. Returns nil when the key is missing.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// Decode copies the options bag into a typed struct using its json tags.
// Scalar strings are weakly converted ("true" → bool, "5" → int) so options
// read from environment-sourced YAML behave.
func (o Options) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("options: %w", err)
	}
	if err := dec.Decode(map[string]any(o)); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	return nil
}

// UnmarshalJSON makes a missing or null "options" object decode to a
// non-nil, empty Options map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
