package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dustin/go-humanize"

	"gdbexport/internal/config"
	"gdbexport/internal/export"
	"gdbexport/internal/gdb"
	"gdbexport/internal/metrics/backends"

	_ "gdbexport/internal/gdb/all"
	_ "gdbexport/internal/storage/all"
)

const usage = `Usage: landcover-export [flags] <gdb_path> <output_dir>

Example:
  landcover-export ./Biome.gpkg ./landcover_export

Flags:
`

// main exports the land-cover majority class of every H3 tile as JSON lines,
// one file per resolution, plus summaries and the biome color mapping.
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("landcover-export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	var (
		cfgPath        = fs.String("config", "", "optional config (JSON or YAML) overriding the default resolution groups")
		envFile        = fs.String("env-file", "", ".env file to load (default: ./.env when present)")
		compression    = fs.String("compression", "", "compress the .jsonl files: none, gzip or zstd")
		metricsBackend = fs.String("metrics-backend", "", "metrics backend: pushgateway, datadog or none (default: env METRICS_BACKEND)")
		pushGatewayURL = fs.String("pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
		dogStatsDAddr  = fs.String("dogstatsd-addr", "", "DogStatsD address (overrides env DD_DOGSTATSD_ADDR)")
		verbose        = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return 1
	}
	log.SetOutput(stderr)

	// Positional arguments win over the config file and the environment.
	cfg, err := config.Load(*cfgPath, *envFile, config.LandcoverDefaults(fs.Arg(0), fs.Arg(1)))
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	cfg.Source.Path = fs.Arg(0)
	cfg.Output.Dir = fs.Arg(1)
	if *compression != "" {
		cfg.Output.Compression = *compression
	}

	issues := config.ValidateExport(cfg)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		return 1
	}

	flush := backends.Install(backends.Options{
		Backend:        *metricsBackend,
		Job:            cfg.Job,
		PushgatewayURL: *pushGatewayURL,
		DogStatsDAddr:  *dogStatsDAddr,
		Verbose:        *verbose,
	})
	defer flush()

	res, err := export.RunLandcover(context.Background(), cfg, export.Options{Out: stdout})
	if errors.Is(err, gdb.ErrNoBackend) {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	if *verbose {
		var tiles int
		for _, g := range res.Groups {
			tiles += g.Records
		}
		log.Printf("landcover-export: backend=%s tables=%d tiles=%s files=%d",
			res.Backend, res.TablesFound, humanize.Comma(int64(tiles)), len(res.Files))
	}
	if err != nil {
		fmt.Fprintf(stderr, "export: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "\nNext steps:")
	if res.Published > 0 {
		fmt.Fprintf(stdout, "1. Uploaded %d files to s3://%s/%s\n", res.Published, cfg.Publish.Bucket, cfg.Publish.Prefix)
	} else {
		fmt.Fprintln(stdout, "1. Upload the .jsonl files to your server or object storage (or set publish.bucket)")
	}
	fmt.Fprintln(stdout, "2. Run the import script to populate the tile_biomes table")
	return 0
}
