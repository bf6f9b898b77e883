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

func mapLandcoverRow(row []any, _ gdb.TableRef) (schema.LandcoverRecord, bool) {
	return schema.MapLandcover(row)
}

// RunLandcover exports every configured resolution group as
// landcover_res<N>.jsonl plus landcover_res<N>_summary.json, then writes
// biome_colors.json. A group with no matching tables still gets an empty
// JSON-lines file and a summary with total_tiles 0.
func RunLandcover(ctx context.Context, cfg config.Export, opts Options) (Result, error) {
	rec := metrics.For(jobName(cfg, "landcover"))
	out := opts.out()
	res := Result{RunID: NewRunID()}

	comp, err := CompressorFor(cfg.Output.Compression)
	if err != nil {
		return res, err
	}
	fmt.Fprintf(out, "Geodatabase: %s\n", redact(cfg.Source.Path))

	ws, backend, err := open(ctx, cfg, rec)
	res.Backend = backend
	if err != nil {
		return res, err
	}
	defer ws.Close()

	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return res, fmt.Errorf("%w: mkdir %s: %w", ErrWrite, cfg.Output.Dir, err)
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

	var errs *multierror.Error
	for _, g := range groups {
		res.TablesFound += len(g.Tables)
		gr, err := exportLandcoverGroup(ctx, cfg, rec, ws, g, comp, opts)
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

	var colorsPath string
	err = step(rec, "write", metrics.AllResolutions, func() error {
		var err error
		colorsPath, err = WriteBiomeColors(cfg.Output.Dir)
		return err
	})
	if err != nil {
		return res, multierror.Append(errs, err).ErrorOrNil()
	}
	res.Files = append(res.Files, colorsPath)

	fmt.Fprintf(out, "\nDone! Files written to %s\n", cfg.Output.Dir)
	fmt.Fprintf(out, "Biome color mapping: %s\n", colorsPath)

	n, err := publishFiles(ctx, cfg.Publish, rec, cfg.Output.Dir, res.Files)
	res.Published = n
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	return res, errs.ErrorOrNil()
}

func exportLandcoverGroup(ctx context.Context, cfg config.Export, rec metrics.Recorder, ws RowSource, g plannedGroup, comp Compressor, opts Options) (GroupResult, error) {
	out := opts.out()
	gr := GroupResult{Resolution: g.Resolution, Pattern: g.Pattern}

	fmt.Fprintf(out, "\nExporting resolution %d tables matching '%s'...\n", g.Resolution, g.Pattern)
	fmt.Fprintf(out, "  Found %d tables\n", len(g.Tables))
	if len(g.Tables) == 0 {
		fmt.Fprintf(out, "  Warning: No tables found matching pattern '%s'\n", g.Pattern)
	}

	var recs []schema.LandcoverRecord
	start := time.Now()
	recs, gr.Stats, gr.Err = ReadGroup(ctx, ws, g.Group, schema.LandcoverFields, mapLandcoverRow,
		func(ref gdb.TableRef, i, n, records, total int) {
			fmt.Fprintf(out, "  Processing %s (%d/%d)...\n", ref.Name, i, n)
			fmt.Fprintf(out, "    Extracted %d records (total: %d)\n", records, total)
		})
	recordRead(rec, g.Resolution, gr, time.Since(start))
	if gr.Err != nil {
		gr.Err = fmt.Errorf("%s: %w", resLabel(g.Resolution), gr.Err)
		return gr, gr.Err
	}

	jsonlPath := filepath.Join(cfg.Output.Dir, LandcoverName(g.Resolution, comp))
	err := step(rec, "write", g.Resolution, func() error {
		lines, err := WriteLandcoverJSONL(jsonlPath, recs, comp)
		if err != nil {
			return err
		}
		gr.Records = lines
		gr.Files = append(gr.Files, jsonlPath)
		fmt.Fprintf(out, "  Wrote %d records to %s\n", lines, jsonlPath)

		summaryPath, err := WriteSummary(cfg.Output.Dir, NewSummary(g.Resolution, lines))
		if err != nil {
			return err
		}
		gr.Files = append(gr.Files, summaryPath)
		return nil
	})
	rec.Files(g.Resolution, len(gr.Files))
	if err != nil {
		return gr, err
	}
	rec.Records(g.Resolution, "exported", int64(gr.Records))

	if cfg.Sink.Enabled() && len(recs) > 0 {
		rows := make([][]any, len(recs))
		for i := range recs {
			rows[i] = recs[i].Values()
		}
		gr.Loaded, gr.Err = loadGroup(ctx, cfg.Sink, rec, g.Resolution, schema.LandcoverColumns, rows)
		if gr.Err != nil {
			return gr, gr.Err
		}
	}
	return gr, nil
}
