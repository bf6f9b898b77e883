package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"gdbexport/internal/config"
	"gdbexport/internal/gdb"
	"gdbexport/internal/metrics"
)

// RowSource is the part of a workspace the group reader needs.
type RowSource interface {
	Rows(ctx context.Context, table string, fields []string) (gdb.RowIter, error)
}

// plannedGroup is one resolution group and the pattern that selected it.
type plannedGroup struct {
	gdb.Group
	Pattern string
}

// plan lists the workspace once and resolves the table selection into
// resolution groups. It also returns how many tables the workspace lists.
// With explicit groups every configured resolution is returned, in config
// order, even when nothing matched; with a regex pattern only resolutions
// that matched appear, ascending.
func plan(ctx context.Context, ws gdb.Lister, t config.Tables) ([]plannedGroup, int, error) {
	names, err := ws.ListTables(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("locate: list tables: %w", err)
	}

	if len(t.Groups) == 0 {
		m, err := gdb.NewRegexMatcher(t.Pattern)
		if err != nil {
			return nil, len(names), err
		}
		groups := gdb.GroupByResolution(gdb.Filter(names, m))
		out := make([]plannedGroup, len(groups))
		for i, g := range groups {
			out[i] = plannedGroup{Group: g, Pattern: t.Pattern}
		}
		return out, len(names), nil
	}

	out := make([]plannedGroup, 0, len(t.Groups))
	for _, g := range t.Groups {
		m, err := gdb.NewGlobMatcher(g.Pattern, g.Resolution, t.CaseInsensitive)
		if err != nil {
			return nil, len(names), err
		}
		out = append(out, plannedGroup{
			Group:   gdb.Group{Resolution: g.Resolution, Tables: gdb.Filter(names, m)},
			Pattern: g.Pattern,
		})
	}
	return out, len(names), nil
}

// GroupStats counts what happened while reading one group.
type GroupStats struct {
	Tables         int   // tables read
	Missing        int   // tables that vanished between listing and reading
	Read           int64 // source rows seen
	DroppedEmptyH3 int64 // rows without an H3 index
}

// Mapped returns the number of records that survived mapping.
func (s GroupStats) Mapped() int64 { return s.Read - s.DroppedEmptyH3 }

// TableProgress is called after each table with its position (1-based), the
// records it contributed and the running total.
type TableProgress func(ref gdb.TableRef, i, n, records, total int)

// ReadGroup reads every table of g in order and concatenates the mapped
// records. A table that no longer exists is logged and contributes nothing;
// any other read error fails the whole group.
func ReadGroup[T any](
	ctx context.Context,
	src RowSource,
	g gdb.Group,
	fields []string,
	mapRow func(row []any, ref gdb.TableRef) (T, bool),
	progress TableProgress,
) ([]T, GroupStats, error) {
	var st GroupStats
	out := make([]T, 0)
	for i, ref := range g.Tables {
		n, err := readTable(ctx, src, ref, fields, mapRow, &out, &st)
		if errors.Is(err, gdb.ErrTableNotFound) {
			log.Printf("export: warning: %s not found in workspace; skipped", ref.Name)
			st.Missing++
			continue
		}
		if err != nil {
			return nil, st, fmt.Errorf("read %s: %w", ref.Name, err)
		}
		st.Tables++
		if progress != nil {
			progress(ref, i+1, len(g.Tables), n, len(out))
		}
	}
	return out, st, nil
}

func readTable[T any](
	ctx context.Context,
	src RowSource,
	ref gdb.TableRef,
	fields []string,
	mapRow func(row []any, ref gdb.TableRef) (T, bool),
	out *[]T,
	st *GroupStats,
) (int, error) {
	it, err := src.Rows(ctx, ref.Name, fields)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	n := 0
	for it.Next() {
		st.Read++
		rec, ok := mapRow(it.Row(), ref)
		if !ok {
			st.DroppedEmptyH3++
			continue
		}
		*out = append(*out, rec)
		n++
	}
	if err := it.Err(); err != nil {
		return n, err
	}
	return n, it.Close()
}

// recordRead reports one group's read step and its table and row counts.
func recordRead(rec metrics.Recorder, res int, gr GroupResult, d time.Duration) {
	rec.Step("read", res, gr.Err, d)
	rec.Tables(res, "read", gr.Stats.Tables)
	rec.Tables(res, "missing", gr.Stats.Missing)
	rec.Records(res, "read", gr.Stats.Read)
	rec.Records(res, "dropped_empty_h3", gr.Stats.DroppedEmptyH3)
}

// resLabel formats a resolution for error messages.
func resLabel(res int) string { return "res" + strconv.Itoa(res) }
