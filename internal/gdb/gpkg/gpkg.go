// Package gpkg implements the preferred gdb backend: a read-only cursor over
// a GeoPackage (or any SQLite database) using the pure-Go modernc.org/sqlite
// driver. Zonal-statistics tables exported from a geodatabase into a
// GeoPackage keep their names and attribute columns, so the export pipelines
// can read them without a GIS runtime.
//
// The backend registers itself as "gpkg" with rank 10, i.e. it is probed
// before the PostGIS and layer-directory backends.
package gpkg

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gdbexport/internal/config"
	"gdbexport/internal/gdb"

	_ "modernc.org/sqlite"
)

// sqliteMagic is the 16-byte header of every SQLite 3 database file.
var sqliteMagic = []byte("SQLite format 3\x00")

// Options are the backend-specific settings under backend.options.
type Options struct {
	// Catalog selects how tables are listed: "auto" (gpkg_contents when
	// present, else sqlite_master), "gpkg_contents" or "sqlite_master".
	Catalog string `json:"catalog"`
}

func init() {
	gdb.Register(gdb.Backend{
		Name:  "gpkg",
		Rank:  10,
		Probe: probe,
		Open: func(ctx context.Context, path string, opts config.Options) (gdb.Workspace, error) {
			var o Options
			if err := opts.Decode(&o); err != nil {
				return nil, err
			}
			return Open(ctx, path, o)
		},
	})
}

// probe reports whether path is a regular file starting with the SQLite
// header.
func probe(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, len(sqliteMagic))
	if _, err := io.ReadFull(f, buf); err != nil {
		return false
	}
	return bytes.Equal(buf, sqliteMagic)
}

// Workspace is a GeoPackage opened for reading.
type Workspace struct {
	db      *sql.DB
	catalog string
}

var _ gdb.Workspace = (*Workspace)(nil)

// Open opens the database at path in query-only mode.
func Open(ctx context.Context, path string, o Options) (*Workspace, error) {
	switch o.Catalog {
	case "", "auto", "gpkg_contents", "sqlite_master":
	default:
		return nil, fmt.Errorf("gpkg: unknown catalog %q", o.Catalog)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("gpkg: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("gpkg: open: %w", err)
	}
	// A single connection keeps the query_only pragma in effect for every
	// statement.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("gpkg: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("gpkg: query_only: %w", err)
	}

	ws := &Workspace{db: db, catalog: o.Catalog}
	if ws.catalog == "" || ws.catalog == "auto" {
		ws.catalog = "sqlite_master"
		if ok, _ := ws.hasTable(ctx, "gpkg_contents"); ok {
			ws.catalog = "gpkg_contents"
		}
	}
	return ws, nil
}

func (w *Workspace) hasTable(ctx context.Context, name string) (bool, error) {
	var n int
	err := w.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	return n > 0, err
}

// ListTables returns attribute and feature tables. System tables of SQLite,
// GeoPackage and the R-tree spatial index are never listed.
func (w *Workspace) ListTables(ctx context.Context) ([]string, error) {
	q := `SELECT name FROM sqlite_master
		WHERE type IN ('table', 'view')
		  AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		  AND name NOT LIKE 'gpkg\_%' ESCAPE '\'
		  AND name NOT LIKE 'rtree\_%' ESCAPE '\'
		ORDER BY name`
	if w.catalog == "gpkg_contents" {
		q = `SELECT table_name FROM gpkg_contents
			WHERE data_type IN ('attributes', 'features')
			ORDER BY table_name`
	}
	rows, err := w.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("gpkg: list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("gpkg: list tables: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// ListFields returns the column names of table in declaration order.
func (w *Workspace) ListFields(ctx context.Context, table string) ([]string, error) {
	rows, err := w.db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("gpkg: fields of %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("gpkg: fields of %s: %w", table, err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gpkg: fields of %s: %w", table, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("gpkg: %s: %w", table, gdb.ErrTableNotFound)
	}
	return out, nil
}

// Rows selects the requested fields present in table. Missing fields are
// reported as nil in every row.
func (w *Workspace) Rows(ctx context.Context, table string, fields []string) (gdb.RowIter, error) {
	have, err := w.ListFields(ctx, table)
	if err != nil {
		return nil, err
	}
	idx := gdb.AlignFields(have, fields)

	var cols []string
	pos := make([]int, len(fields))
	for i, j := range idx {
		if j < 0 {
			pos[i] = -1
			continue
		}
		pos[i] = len(cols)
		cols = append(cols, quoteIdent(have[j]))
	}
	if len(cols) == 0 {
		// None of the requested fields exist; still walk the rows so the
		// caller sees one all-nil record per row.
		cols = append(cols, "1")
	}

	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), quoteIdent(table))
	rows, err := w.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("gpkg: read %s: %w", table, err)
	}
	return &rowIter{rows: rows, pos: pos, width: len(cols)}, nil
}

// Close releases the database handle.
func (w *Workspace) Close() error { return w.db.Close() }

type rowIter struct {
	rows   *sql.Rows
	pos    []int
	width  int
	cur    []any
	err    error
	closed bool
}

func (it *rowIter) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	raw := make([]any, it.width)
	ptrs := make([]any, it.width)
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		it.err = err
		return false
	}
	it.cur = make([]any, len(it.pos))
	for i, p := range it.pos {
		if p >= 0 {
			it.cur[i] = normalize(raw[p])
		}
	}
	return true
}

func (it *rowIter) Row() []any { return it.cur }
func (it *rowIter) Err() error { return it.err }

func (it *rowIter) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	err := it.rows.Close()
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}

// normalize turns TEXT columns scanned as []byte into strings.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
