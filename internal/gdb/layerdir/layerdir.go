// Package layerdir is the generic fallback gdb backend: a directory where
// each table has been exported to its own file (CSV, JSON Lines or Parquet).
// The layer name is the file's base name without extension, so
// ZStatsTable_h3_res5_part003.csv is read as table ZStatsTable_h3_res5_part003.
//
// It is registered as "layerdir" with rank 30 and is only chosen when no
// database-backed workspace accepts the path.
package layerdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gdbexport/internal/config"
	"gdbexport/internal/gdb"
)

// DefaultExtensions lists the supported layer formats. When two files share a
// base name, the extension listed first wins.
var DefaultExtensions = []string{".csv", ".jsonl", ".parquet"}

// Options are read from backend.options.
type Options struct {
	// Extensions restricts (and orders) the file types considered.
	Extensions []string `json:"extensions"`

	// Comma is the CSV field delimiter. Defaults to ",".
	Comma string `json:"comma"`
}

func init() {
	gdb.Register(gdb.Backend{
		Name:  "layerdir",
		Rank:  30,
		Probe: probe,
		Open: func(ctx context.Context, path string, opts config.Options) (gdb.Workspace, error) {
			var o Options
			if err := opts.Decode(&o); err != nil {
				return nil, err
			}
			return Open(path, o)
		},
	})
}

// probe accepts a directory holding at least one supported layer file.
func probe(path string) bool {
	layers, err := scan(path, DefaultExtensions)
	return err == nil && len(layers) > 0
}

// Workspace is a scanned layer directory. The directory listing is taken once
// at Open; files added later are not seen.
type Workspace struct {
	dir    string
	layers map[string]string // layer name -> file path
	comma  rune
}

var _ gdb.Workspace = (*Workspace)(nil)

// Open scans dir for layer files.
func Open(dir string, o Options) (*Workspace, error) {
	exts := DefaultExtensions
	if len(o.Extensions) > 0 {
		exts = make([]string, 0, len(o.Extensions))
		for _, e := range o.Extensions {
			e = strings.ToLower(strings.TrimSpace(e))
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			if !supported(e) {
				return nil, fmt.Errorf("layerdir: unsupported extension %q", e)
			}
			exts = append(exts, e)
		}
	}
	comma := ','
	if o.Comma != "" {
		r := []rune(o.Comma)
		if len(r) != 1 {
			return nil, fmt.Errorf("layerdir: comma must be a single character, got %q", o.Comma)
		}
		comma = r[0]
	}

	layers, err := scan(dir, exts)
	if err != nil {
		return nil, fmt.Errorf("layerdir: %w", err)
	}
	return &Workspace{dir: dir, layers: layers, comma: comma}, nil
}

func supported(ext string) bool {
	for _, e := range DefaultExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// scan maps layer names to files. exts orders preference between files that
// share a base name.
func scan(dir string, exts []string) (map[string]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	rank := make(map[string]int, len(exts))
	for i, e := range exts {
		rank[e] = i
	}

	layers := map[string]string{}
	best := map[string]int{}
	for _, de := range entries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(de.Name()))
		r, ok := rank[ext]
		if !ok {
			continue
		}
		name := strings.TrimSuffix(de.Name(), filepath.Ext(de.Name()))
		if prev, seen := best[name]; seen && prev <= r {
			continue
		}
		best[name] = r
		layers[name] = filepath.Join(dir, de.Name())
	}
	return layers, nil
}

func (w *Workspace) ListTables(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(w.layers))
	for name := range w.layers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (w *Workspace) ListFields(ctx context.Context, table string) ([]string, error) {
	l, err := w.open(table)
	if err != nil {
		return nil, err
	}
	defer l.Close()
	return l.Fields(), nil
}

func (w *Workspace) Rows(ctx context.Context, table string, fields []string) (gdb.RowIter, error) {
	l, err := w.open(table)
	if err != nil {
		return nil, err
	}
	return &rowIter{ctx: ctx, layer: l, idx: gdb.AlignFields(l.Fields(), fields)}, nil
}

func (w *Workspace) Close() error { return nil }

// layer is an open layer file producing rows in Fields() order.
type layer interface {
	Fields() []string
	Next() ([]any, error) // io.EOF at the end
	Close() error
}

func (w *Workspace) open(table string) (layer, error) {
	path, ok := w.layers[table]
	if !ok {
		return nil, fmt.Errorf("layerdir: %s: %w", table, gdb.ErrTableNotFound)
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("layerdir: %s: %w", table, gdb.ErrTableNotFound)
		}
		return nil, fmt.Errorf("layerdir: %w", err)
	}

	var l layer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		l, err = openCSV(f, w.comma)
	case ".jsonl":
		l, err = openJSONL(f)
	case ".parquet":
		l, err = openParquet(f)
	default:
		err = fmt.Errorf("unsupported layer file %s", path)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("layerdir: %s: %w", table, err)
	}
	return l, nil
}
