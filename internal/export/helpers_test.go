package export

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"gdbexport/internal/config"
	"gdbexport/internal/gdb"
)

// fakeTable is one in-memory table of fakeWorkspace.
type fakeTable struct {
	fields []string
	rows   [][]any
	err    error // returned by Rows
}

// fakeWorkspace is an in-memory gdb.Workspace. Tables listed in ghosts are
// reported by ListTables but missing when read.
type fakeWorkspace struct {
	tables map[string]fakeTable
	ghosts []string
	opened int
	closed int
}

func (w *fakeWorkspace) ListTables(context.Context) ([]string, error) {
	out := append([]string{}, w.ghosts...)
	for n := range w.tables {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (w *fakeWorkspace) ListFields(_ context.Context, table string) ([]string, error) {
	t, ok := w.tables[table]
	if !ok {
		return nil, gdb.ErrTableNotFound
	}
	return t.fields, nil
}

func (w *fakeWorkspace) Rows(_ context.Context, table string, fields []string) (gdb.RowIter, error) {
	t, ok := w.tables[table]
	if !ok {
		return nil, errors.Join(errors.New("fake: "+table), gdb.ErrTableNotFound)
	}
	if t.err != nil {
		return nil, t.err
	}
	idx := gdb.AlignFields(t.fields, fields)
	rows := make([][]any, len(t.rows))
	for i, r := range t.rows {
		rows[i] = gdb.Project(r, idx)
	}
	w.opened++
	return &countingIter{SliceIter: gdb.NewSliceIter(rows), onClose: func() { w.closed++ }}, nil
}

func (w *fakeWorkspace) Close() error { return nil }

type countingIter struct {
	*gdb.SliceIter
	onClose func()
	done    bool
}

func (c *countingIter) Close() error {
	if !c.done {
		c.done = true
		c.onClose()
	}
	return nil
}

// useWorkspace swaps the workspace opener for the duration of the test.
func useWorkspace(t *testing.T, ws gdb.Workspace) {
	t.Helper()
	orig := openWorkspace
	openWorkspace = func(context.Context, string, config.Backend) (gdb.Workspace, string, error) {
		return ws, "fake", nil
	}
	t.Cleanup(func() { openWorkspace = orig })
}

var statsFields = []string{"OBJECTID", "h3_index", "ZONE_CODE", "COUNT", "AREA", "MAJORITY"}

// newGpkg creates a SQLite workspace file populated by stmts.
func newGpkg(t *testing.T, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Biome.gpkg")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer db.Close()
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}
