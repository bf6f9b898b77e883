package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"gdbexport/internal/config"
	"gdbexport/internal/export"
	"gdbexport/internal/gdb"
	"gdbexport/internal/metrics/backends"

	// every workspace backend and load sink is built in; the config picks one.
	_ "gdbexport/internal/gdb/all"
	_ "gdbexport/internal/storage/all"
)

// main exports the zonal statistics tables of a workspace into per-resolution
// CSV and JSON files plus a manifest.
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("zstats-export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath        = fs.String("config", "", "export config (JSON or YAML); defaults apply when empty")
		envFile        = fs.String("env-file", "", ".env file to load (default: ./.env when present)")
		source         = fs.String("source", "", "workspace path or DSN (overrides source.path and GDB_PATH)")
		outDir         = fs.String("out", "", "output directory (overrides output.dir)")
		metricsBackend = fs.String("metrics-backend", "", "metrics backend: pushgateway, datadog or none (default: env METRICS_BACKEND)")
		pushGatewayURL = fs.String("pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
		dogStatsDAddr  = fs.String("dogstatsd-addr", "", "DogStatsD address (overrides env DD_DOGSTATSD_ADDR)")
		validate       = fs.Bool("validate", false, "validate the configuration and exit")
		verbose        = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	log.SetOutput(stderr)

	cfg, err := config.Load(*cfgPath, *envFile, config.ZonalStatsDefaults())
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	if *source != "" {
		cfg.Source.Path = *source
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}
	if !*validate && strings.TrimSpace(cfg.Source.Path) == "" {
		fmt.Fprintln(stderr, "zstats-export: no source configured (set GDB_PATH, source.path or -source)")
		printGuidance(stdout)
		return 0
	}

	issues := config.ValidateExport(cfg)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Printf("Configuration is invalid: %v", *cfgPath)
		return 1
	}
	if *validate {
		log.Printf("Configuration is valid: %v", *cfgPath)
		return 0
	}

	flush := backends.Install(backends.Options{
		Backend:        *metricsBackend,
		Job:            cfg.Job,
		PushgatewayURL: *pushGatewayURL,
		DogStatsDAddr:  *dogStatsDAddr,
		Verbose:        *verbose,
	})
	defer flush()

	rule := strings.Repeat("=", 60)
	fmt.Fprintln(stdout, rule)
	fmt.Fprintln(stdout, "Biome Zonal Statistics Export")
	fmt.Fprintln(stdout, rule)
	fmt.Fprintf(stdout, "Source: %s\n", cfg.Source.Path)
	fmt.Fprintf(stdout, "Output: %s\n", cfg.Output.Dir)
	fmt.Fprintln(stdout)

	start := time.Now()
	res, err := export.RunZonalStats(context.Background(), cfg, export.Options{Out: stdout})
	if *verbose {
		log.Printf("zstats-export: backend=%s tables=%d files=%d in %s",
			res.Backend, res.TablesFound, len(res.Files), time.Since(start).Truncate(time.Millisecond))
	}

	switch {
	case errors.Is(err, gdb.ErrNoBackend):
		fmt.Fprintf(stderr, "%v\n", err)
		printGuidance(stdout)
		return 0
	case err == nil && res.WorkspaceTables == 0:
		printGuidance(stdout)
		return 0
	case err == nil && res.TablesFound == 0:
		fmt.Fprintf(stdout, "\nNo tables matching %q found in %s\n", cfg.Tables.Pattern, cfg.Source.Path)
	}

	if res.Manifest != nil {
		fmt.Fprintln(stdout, "\n"+rule)
		fmt.Fprintln(stdout, "Export Summary")
		fmt.Fprintln(stdout, rule)
		for _, r := range res.Manifest.SortedResolutions() {
			fmt.Fprintf(stdout, "Resolution %d: %s records\n", r, humanize.Comma(res.Manifest.Resolutions[r].RecordCount))
		}
		if res.Published > 0 {
			fmt.Fprintf(stdout, "Uploaded %d files to s3://%s/%s\n", res.Published, cfg.Publish.Bucket, cfg.Publish.Prefix)
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		fmt.Fprintln(stdout, "\nExport finished with errors; see the log above. Files listed in the manifest are complete.")
		return 0
	}
	if !cfg.Sink.Enabled() {
		fmt.Fprintln(stdout, "\nNext step: load the CSV files into the tile database (or set sink.kind to load them during export)")
	}
	return 0
}

// printGuidance tells the operator which sources the exporter can read. The
// exit status stays 0; scripts check standard output.
func printGuidance(w io.Writer) {
	fmt.Fprintln(w, "\nExport failed. Please ensure the source is one of:")
	fmt.Fprintln(w, "  1. a GeoPackage/SQLite file exported from the geodatabase")
	fmt.Fprintln(w, "  2. a postgres:// DSN of a PostGIS database holding the tables")
	fmt.Fprintln(w, "  3. a directory of .csv, .jsonl or .parquet layer files")
}
