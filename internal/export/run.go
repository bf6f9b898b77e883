// Package export runs the two geodatabase export pipelines.
//
// Both follow the same shape, once per resolution group and strictly in
// sequence: locate tables, read and map rows, concatenate them in part order,
// write the group's files. Optional stages then bulk-load each group into a
// relational sink and upload the written files to an S3-compatible bucket.
//
// Failure handling is per group: a read failure is logged, aggregated and
// reported at the end while the remaining groups still run. A write failure
// (ErrWrite) stops the run immediately.
package export

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"strings"
	"time"

	"gdbexport/internal/config"
	"gdbexport/internal/gdb"
	"gdbexport/internal/metrics"
	"gdbexport/internal/publish"
	"gdbexport/internal/schema"
	"gdbexport/internal/storage"
)

const defaultBatchSize = 5000

// Publisher uploads written files. *publish.Uploader implements it.
type Publisher interface {
	Upload(ctx context.Context, root string, files []string) (int, error)
}

// Test hooks.
var (
	newPublisher = func(ctx context.Context, cfg config.Publish) (Publisher, error) {
		return publish.New(ctx, cfg)
	}
	newRepository = storage.New
	openWorkspace = gdb.Open
)

// Options carries per-invocation collaborators.
type Options struct {
	// Out receives the human-readable progress report. Nil discards it.
	Out io.Writer

	// Now stamps the manifest. Nil means time.Now.
	Now func() time.Time
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return io.Discard
	}
	return o.Out
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// GroupResult reports one resolution group.
type GroupResult struct {
	Resolution int
	Pattern    string
	Stats      GroupStats
	Records    int      // records written
	Files      []string // files written for the group
	Loaded     int64    // rows bulk-loaded into the sink
	Err        error    // read or load failure; nil on success
}

// Result reports a whole run.
type Result struct {
	RunID   string
	Backend string

	// WorkspaceTables counts every table the workspace lists; TablesFound
	// only those the selection matched.
	WorkspaceTables int
	TablesFound     int
	Groups          []GroupResult

	// Files lists every file written by this run, including manifest and
	// summaries, in write order.
	Files []string

	Published int
	Manifest  *Manifest // statistics export only
}

func jobName(cfg config.Export, def string) string {
	if j := strings.TrimSpace(cfg.Job); j != "" {
		return j
	}
	return def
}

// step runs fn and records its duration and outcome against res, or
// metrics.AllResolutions for run-level steps.
func step(rec metrics.Recorder, name string, res int, fn func() error) error {
	start := time.Now()
	err := fn()
	rec.Step(name, res, err, time.Since(start))
	return err
}

// open resolves the backend once for the whole run. Nothing is written
// before it succeeds.
func open(ctx context.Context, cfg config.Export, rec metrics.Recorder) (gdb.Workspace, string, error) {
	var (
		ws      gdb.Workspace
		backend string
	)
	err := step(rec, "open", metrics.AllResolutions, func() error {
		var err error
		ws, backend, err = openWorkspace(ctx, cfg.Source.Path, cfg.Backend)
		return err
	})
	if err != nil {
		return nil, backend, err
	}
	log.Printf("export: backend=%s source=%s", backend, redact(cfg.Source.Path))
	return ws, backend, nil
}

// redact hides a password embedded in a DSN-style source.
func redact(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.User == nil {
		return source
	}
	return u.Redacted()
}

// sinkTable expands "{res}" in the configured table name.
func sinkTable(table string, res int) string {
	return strings.ReplaceAll(table, "{res}", fmt.Sprint(res))
}

// loadGroup bulk-inserts one group's rows into the configured sink.
func loadGroup(ctx context.Context, s config.Sink, rec metrics.Recorder, res int, cols []schema.Column, rows [][]any) (int64, error) {
	table := sinkTable(s.Table, res)
	names := schema.Names(cols)

	var loaded int64
	err := step(rec, "load", res, func() error {
		repo, err := newRepository(ctx, storage.Config{
			Kind:    s.Kind,
			DSN:     s.DSN,
			Table:   table,
			Columns: names,
		})
		if err != nil {
			return fmt.Errorf("open sink: %w", err)
		}
		defer repo.Close()

		if s.AutoCreateTable {
			log.Printf("export: auto-create table enabled for %s", table)
			if err := storage.EnsureTable(ctx, s.Kind, repo, table, cols); err != nil {
				return err
			}
		}

		batch := s.BatchSize
		if batch <= 0 {
			batch = defaultBatchSize
		}
		st, err := storage.LoadBatches(ctx, names, rows, batch, repo.CopyFrom)
		loaded = st.Rows
		rec.Batches(res, st.Batches)
		rec.Records(res, "loaded", st.Rows)
		return err
	})
	if err != nil {
		return loaded, fmt.Errorf("load %s into %s: %w", resLabel(res), table, err)
	}
	log.Printf("export: loaded %d rows into %s (%s)", loaded, table, s.Kind)
	return loaded, nil
}

// publishFiles uploads files below root when publishing is configured.
func publishFiles(ctx context.Context, cfg config.Publish, rec metrics.Recorder, root string, files []string) (int, error) {
	if !cfg.Enabled() || len(files) == 0 {
		return 0, nil
	}
	var n int
	err := step(rec, "publish", metrics.AllResolutions, func() error {
		p, err := newPublisher(ctx, cfg)
		if err != nil {
			return err
		}
		n, err = p.Upload(ctx, root, files)
		return err
	})
	if err != nil {
		return n, fmt.Errorf("publish: %w", err)
	}
	return n, nil
}
