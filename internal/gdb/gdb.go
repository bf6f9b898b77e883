// Package gdb abstracts read access to a geospatial workspace: a container of
// tables (or layers) holding precomputed per-H3-cell statistics.
//
// Concrete backends live in subpackages and register themselves at init time
// with a preference rank. The export tools pick exactly one backend at start
// (Detect) and use it for the whole run; callers only see the Workspace and
// RowIter interfaces and never depend on which backend executed.
//
// Importing gdbexport/internal/gdb/all enables every built-in backend.
package gdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gdbexport/internal/config"
)

var (
	// ErrNoBackend is returned when no registered backend accepts a workspace.
	ErrNoBackend = errors.New("no supported geodatabase backend")

	// ErrTableNotFound is returned by ListFields/Rows for unknown tables.
	ErrTableNotFound = errors.New("table not found")
)

// Workspace is the capability set the export pipelines depend on.
type Workspace interface {
	// ListTables returns every table/layer name in the workspace.
	ListTables(ctx context.Context) ([]string, error)

	// ListFields returns the column names of table in schema order.
	ListFields(ctx context.Context, table string) ([]string, error)

	// Rows opens a cursor over table. Each row is aligned to fields; a field
	// the table lacks yields nil rather than an error.
	Rows(ctx context.Context, table string, fields []string) (RowIter, error)

	Close() error
}

// RowIter is a forward-only cursor. Close must be called on every path; it
// is safe to call more than once.
type RowIter interface {
	Next() bool
	Row() []any
	Err() error
	Close() error
}

// OpenFunc opens a workspace at path with backend-specific options.
type OpenFunc func(ctx context.Context, path string, opts config.Options) (Workspace, error)

// Backend describes a registered workspace implementation.
type Backend struct {
	// Name is the config identifier ("gpkg", "postgis", "layerdir").
	Name string

	// Rank orders auto-detection; lower ranks are tried first.
	Rank int

	// Probe reports whether the backend can serve path. It must be cheap and
	// side-effect free.
	Probe func(path string) bool

	Open OpenFunc
}

var (
	regMu    sync.RWMutex
	backends = map[string]Backend{}
)

// Register adds (or replaces) a backend. Typically called from init().
func Register(b Backend) {
	if b.Name == "" || b.Open == nil || b.Probe == nil {
		panic("gdb: Register requires Name, Probe and Open")
	}
	regMu.Lock()
	defer regMu.Unlock()
	backends[b.Name] = b
}

// ListBackends returns registered backend names in detection order.
func ListBackends() []string {
	bs := ranked()
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.Name
	}
	return out
}

func ranked() []Backend {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Detect selects the backend for path. An empty kind or "auto" probes the
// registered backends in rank order; any other kind forces that backend,
// which must still accept the path.
func Detect(path, kind string) (Backend, error) {
	if kind == "" || kind == "auto" {
		for _, b := range ranked() {
			if b.Probe(path) {
				return b, nil
			}
		}
		return Backend{}, fmt.Errorf("%w for %q (tried %s); expected a GeoPackage/SQLite file, a postgres:// DSN or a directory of .csv/.jsonl/.parquet layers",
			ErrNoBackend, path, strings.Join(ListBackends(), ", "))
	}

	regMu.RLock()
	b, ok := backends[kind]
	regMu.RUnlock()
	if !ok {
		return Backend{}, fmt.Errorf("%w: backend %q is not built in (available: %s)",
			ErrNoBackend, kind, strings.Join(ListBackends(), ", "))
	}
	if !b.Probe(path) {
		return Backend{}, fmt.Errorf("%w: backend %q cannot open %q", ErrNoBackend, kind, path)
	}
	return b, nil
}

// Open detects the backend for path and opens the workspace. It returns the
// chosen backend name for logging.
func Open(ctx context.Context, path string, cfg config.Backend) (Workspace, string, error) {
	b, err := Detect(path, cfg.Kind)
	if err != nil {
		return nil, "", err
	}
	ws, err := b.Open(ctx, path, cfg.Options)
	if err != nil {
		return nil, b.Name, fmt.Errorf("%s: open %s: %w", b.Name, path, err)
	}
	return ws, b.Name, nil
}

// AlignFields maps each wanted field to its index in have, or -1 when the
// table lacks it. Exact matches win; otherwise names compare
// case-insensitively, since geodatabase field names are not case-sensitive.
func AlignFields(have, want []string) []int {
	exact := make(map[string]int, len(have))
	folded := make(map[string]int, len(have))
	for i, h := range have {
		if _, dup := exact[h]; !dup {
			exact[h] = i
		}
		k := strings.ToLower(h)
		if _, dup := folded[k]; !dup {
			folded[k] = i
		}
	}
	idx := make([]int, len(want))
	for i, w := range want {
		if j, ok := exact[w]; ok {
			idx[i] = j
			continue
		}
		if j, ok := folded[strings.ToLower(w)]; ok {
			idx[i] = j
			continue
		}
		idx[i] = -1
	}
	return idx
}

// Project copies src into a row aligned by idx (as returned by AlignFields).
func Project(src []any, idx []int) []any {
	out := make([]any, len(idx))
	for i, j := range idx {
		if j >= 0 && j < len(src) {
			out[i] = src[j]
		}
	}
	return out
}

// SliceIter is a RowIter over rows held in memory.
type SliceIter struct {
	rows [][]any
	pos  int
}

// NewSliceIter returns an iterator over rows.
func NewSliceIter(rows [][]any) *SliceIter { return &SliceIter{rows: rows, pos: -1} }

func (s *SliceIter) Next() bool {
	if s.pos+1 >= len(s.rows) {
		s.pos = len(s.rows)
		return false
	}
	s.pos++
	return true
}

func (s *SliceIter) Row() []any {
	if s.pos < 0 || s.pos >= len(s.rows) {
		return nil
	}
	return s.rows[s.pos]
}

func (s *SliceIter) Err() error   { return nil }
func (s *SliceIter) Close() error { return nil }
