package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"

	"gdbexport/internal/config"
	"gdbexport/internal/gdb"
	"gdbexport/internal/metrics"
	"gdbexport/internal/schema"
)

// setupStatsDirs creates the output directory and its res<N> subdirectories.
func setupStatsDirs(o config.Output) error {
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %w", ErrWrite, o.Dir, err)
	}
	for _, r := range o.Resolutions {
		if err := os.MkdirAll(ResDir(o.Dir, r), 0o755); err != nil {
			return fmt.Errorf("%w: mkdir %s: %w", ErrWrite, ResDir(o.Dir, r), err)
		}
	}
	return nil
}

func mapStatsRow(row []any, ref gdb.TableRef) (schema.StatsRecord, bool) {
	return schema.MapStats(row, ref.SourcePart())
}

// RunZonalStats exports every zonal statistics table of the workspace as
// res<N>/zonal_stats_res<N>.{csv,json} and writes manifest.json.
//
// The output directories are created only once the workspace is open. An
// empty workspace is not an error: the result has WorkspaceTables == 0 and
// no manifest. Tables that exist but do not match still produce a manifest
// describing whatever the output directory already holds.
func RunZonalStats(ctx context.Context, cfg config.Export, opts Options) (Result, error) {
	rec := metrics.For(jobName(cfg, "zonal_stats"))
	out := opts.out()
	res := Result{RunID: NewRunID()}

	ws, backend, err := open(ctx, cfg, rec)
	res.Backend = backend
	if err != nil {
		return res, err
	}
	defer ws.Close()

	if err := setupStatsDirs(cfg.Output); err != nil {
		return res, err
	}
	fmt.Fprintf(out, "Output directory: %s\n", cfg.Output.Dir)

	var groups []plannedGroup
	err = step(rec, "locate", metrics.AllResolutions, func() error {
		var err error
		groups, res.WorkspaceTables, err = plan(ctx, ws, cfg.Tables)
		return err
	})
	if err != nil {
		return res, err
	}
	if res.WorkspaceTables == 0 {
		log.Printf("export: workspace %s lists no tables", redact(cfg.Source.Path))
		fmt.Fprintf(out, "No tables found in %s\n", redact(cfg.Source.Path))
		return res, nil
	}
	for _, g := range groups {
		res.TablesFound += len(g.Tables)
	}
	fmt.Fprintf(out, "Found %d zonal statistics tables\n", res.TablesFound)
	if res.TablesFound == 0 {
		log.Printf("export: none of %d tables match %q", res.WorkspaceTables, cfg.Tables.Pattern)
	}

	var errs *multierror.Error
	for _, g := range groups {
		gr, err := exportStatsGroup(ctx, cfg, rec, ws, g, opts)
		res.Groups = append(res.Groups, gr)
		res.Files = append(res.Files, gr.Files...)
		if errors.Is(err, ErrWrite) {
			return res, multierror.Append(errs, err).ErrorOrNil()
		}
		if err != nil {
			log.Printf("export: %s failed: %v", resLabel(g.Resolution), err)
			errs = multierror.Append(errs, err)
		}
	}

	var m Manifest
	err = step(rec, "manifest", metrics.AllResolutions, func() error {
		var err error
		m, err = BuildManifest(cfg.Output.Dir, redact(cfg.Source.Path), res.RunID, opts.now())
		if err != nil {
			return err
		}
		path, err := WriteManifest(cfg.Output.Dir, m)
		if err != nil {
			return err
		}
		res.Files = append(res.Files, path)
		fmt.Fprintf(out, "\nManifest written to %s\n", path)
		return nil
	})
	if err != nil {
		return res, multierror.Append(errs, err).ErrorOrNil()
	}
	res.Manifest = &m

	n, err := publishFiles(ctx, cfg.Publish, rec, cfg.Output.Dir, res.Files)
	res.Published = n
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	return res, errs.ErrorOrNil()
}

// exportStatsGroup reads, writes and optionally loads one resolution. Read
// and load failures are returned as plain errors; write failures wrap
// ErrWrite.
func exportStatsGroup(ctx context.Context, cfg config.Export, rec metrics.Recorder, ws RowSource, g plannedGroup, opts Options) (GroupResult, error) {
	out := opts.out()
	gr := GroupResult{Resolution: g.Resolution, Pattern: g.Pattern}
	fmt.Fprintf(out, "\nProcessing resolution %d: %d tables\n", g.Resolution, len(g.Tables))

	var recs []schema.StatsRecord
	start := time.Now()
	recs, gr.Stats, gr.Err = ReadGroup(ctx, ws, g.Group, schema.StatsFields, mapStatsRow,
		func(ref gdb.TableRef, _, _, n, _ int) {
			fmt.Fprintf(out, "  %s: %d records\n", ref.Name, n)
		})
	recordRead(rec, g.Resolution, gr, time.Since(start))
	if gr.Err != nil {
		gr.Err = fmt.Errorf("%s: %w", resLabel(g.Resolution), gr.Err)
		return gr, gr.Err
	}
	if gr.Stats.DroppedEmptyH3 > 0 {
		log.Printf("export: %s dropped %d rows without h3_index", resLabel(g.Resolution), gr.Stats.DroppedEmptyH3)
	}

	dir := ResDir(cfg.Output.Dir, g.Resolution)
	csvPath := filepath.Join(dir, StatsCSVName(g.Resolution))
	jsonPath := filepath.Join(dir, StatsJSONName(g.Resolution))
	err := step(rec, "write", g.Resolution, func() error {
		if err := WriteStatsCSV(csvPath, recs); err != nil {
			return err
		}
		gr.Files = append(gr.Files, csvPath)
		fmt.Fprintf(out, "  Exported %d total records to %s\n", len(recs), csvPath)

		if err := WriteStatsJSON(jsonPath, recs); err != nil {
			return err
		}
		gr.Files = append(gr.Files, jsonPath)
		fmt.Fprintf(out, "  Also exported to %s\n", jsonPath)
		return nil
	})
	rec.Files(g.Resolution, len(gr.Files))
	if err != nil {
		return gr, err
	}
	gr.Records = len(recs)
	rec.Records(g.Resolution, "exported", int64(len(recs)))

	if cfg.Sink.Enabled() {
		rows := make([][]any, len(recs))
		for i := range recs {
			rows[i] = recs[i].Values()
		}
		gr.Loaded, gr.Err = loadGroup(ctx, cfg.Sink, rec, g.Resolution, schema.StatsColumns, rows)
		if gr.Err != nil {
			return gr, gr.Err
		}
	}
	return gr, nil
}
