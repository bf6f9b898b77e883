package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default table patterns of the Biome geodatabase.
const (
	ZonalStatsPattern = `ZStatsTable_h3_res(\d+)_part(\d+)`
	DefaultOutputDir  = "data/exports"
)

// ZonalStatsDefaults returns the configuration used by the statistics
// exporter when no file overrides it.
func ZonalStatsDefaults() Export {
	return Export{
		Job:     "zonal_stats",
		Backend: Backend{Kind: "auto", Options: Options{}},
		Tables:  Tables{Pattern: ZonalStatsPattern},
		Output: Output{
			Dir:         DefaultOutputDir,
			Resolutions: []int{5, 6, 7, 8, 9},
		},
		Sink: Sink{BatchSize: 5000},
	}
}

// LandcoverDefaults returns the land-cover export plan for the given
// workspace and output directory.
func LandcoverDefaults(gdbPath, outputDir string) Export {
	return Export{
		Job:     "landcover",
		Source:  Source{Path: gdbPath},
		Backend: Backend{Kind: "auto", Options: Options{}},
		Tables: Tables{
			Groups: []Group{
				{Resolution: 3, Pattern: "ZStatsAsTable_h3_res3_part*"},
				{Resolution: 5, Pattern: "ZStatsTable_h3_res5_part*"},
				{Resolution: 7, Pattern: "*h3_res7_chunk*"},
			},
			CaseInsensitive: true,
		},
		Output: Output{Dir: outputDir},
		Sink:   Sink{BatchSize: 5000},
	}
}

// envOverrides maps environment variables onto config fields. Non-empty
// values win over file values.
var envOverrides = []struct {
	key string
	set func(e *Export, v string)
}{
	{"EXPORT_JOB", func(e *Export, v string) { e.Job = v }},
	{"GDB_PATH", func(e *Export, v string) { e.Source.Path = v }},
	{"EXPORT_BACKEND", func(e *Export, v string) { e.Backend.Kind = v }},
	{"EXPORT_OUTPUT_DIR", func(e *Export, v string) { e.Output.Dir = v }},
	{"EXPORT_COMPRESSION", func(e *Export, v string) { e.Output.Compression = v }},
	{"SINK_KIND", func(e *Export, v string) { e.Sink.Kind = v }},
	{"SINK_DSN", func(e *Export, v string) { e.Sink.DSN = v }},
	{"SINK_TABLE", func(e *Export, v string) { e.Sink.Table = v }},
	{"PUBLISH_BUCKET", func(e *Export, v string) { e.Publish.Bucket = v }},
	{"PUBLISH_PREFIX", func(e *Export, v string) { e.Publish.Prefix = v }},
	{"PUBLISH_REGION", func(e *Export, v string) { e.Publish.Region = v }},
	{"PUBLISH_ENDPOINT", func(e *Export, v string) { e.Publish.Endpoint = v }},
	{"PUBLISH_ACCESS_KEY_ID", func(e *Export, v string) { e.Publish.AccessKeyID = v }},
	{"PUBLISH_SECRET_ACCESS_KEY", func(e *Export, v string) { e.Publish.SecretAccessKey = v }},
}

// Load resolves the final configuration: the .env file (if any) is loaded
// into the process environment, the config file (if any) is decoded over
// base, then environment overrides are applied.
//
// A missing explicit envFile is logged and ignored; a missing default .env is
// silently ignored.
func Load(path, envFile string, base Export) (Export, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			log.Printf("config: env file %s not loaded: %v", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := base
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Export{}, err
		}
	}
	ApplyEnv(&cfg, os.Getenv)
	if cfg.Backend.Options == nil {
		cfg.Backend.Options = Options{}
	}
	return cfg, nil
}

// ApplyEnv applies the supported environment overrides using getenv.
func ApplyEnv(cfg *Export, getenv func(string) string) {
	for _, o := range envOverrides {
		if v := strings.TrimSpace(getenv(o.key)); v != "" {
			o.set(cfg, v)
		}
	}
}

func decodeFile(path string, cfg *Export) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("config: decode yaml %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, cfg); err != nil {
			return fmt.Errorf("config: decode json %s: %w", path, err)
		}
	}
	return nil
}
