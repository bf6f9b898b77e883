package layerdir

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/parquet-go/parquet-go"

	"gdbexport/internal/gdb"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func readAll(t *testing.T, ws *Workspace, table string, fields ...string) [][]any {
	t.Helper()
	it, err := ws.Rows(context.Background(), table, fields)
	if err != nil {
		t.Fatalf("Rows(%s): %v", table, err)
	}
	defer it.Close()
	var out [][]any
	for it.Next() {
		out = append(out, it.Row())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate %s: %v", table, err)
	}
	return out
}

func TestProbe(t *testing.T) {
	t.Parallel()

	empty := t.TempDir()
	writeFile(t, empty, "README.txt", "x")
	if probe(empty) {
		t.Fatalf("probe accepted a directory without layers")
	}

	dir := t.TempDir()
	writeFile(t, dir, "ZStatsTable_h3_res5_part001.csv", "h3_index\n")
	if !probe(dir) {
		t.Fatalf("probe rejected a layer directory")
	}
	if probe(filepath.Join(dir, "ZStatsTable_h3_res5_part001.csv")) {
		t.Fatalf("probe accepted a plain file")
	}
}

func TestCSVLayer_BOMAndEmptyCells(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "ZStatsAsTable_h3_res3_part1.csv",
		"\ufeffh3_index,MAJORITY,COUNT\n83283ffffffffff,111,9\n832830fffffffff,,3\n")

	ws, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	fields, err := ws.ListFields(context.Background(), "ZStatsAsTable_h3_res3_part1")
	if err != nil {
		t.Fatalf("ListFields: %v", err)
	}
	if !reflect.DeepEqual(fields, []string{"h3_index", "MAJORITY", "COUNT"}) {
		t.Fatalf("fields = %q (BOM not stripped?)", fields)
	}

	got := readAll(t, ws, "ZStatsAsTable_h3_res3_part1", "h3_index", "majority", "AREA")
	want := [][]any{
		{"83283ffffffffff", "111", nil},
		{"832830fffffffff", nil, nil},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("rows = %#v, want %#v", got, want)
	}
}

func TestCSVLayer_Semicolon(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "t.csv", "h3_index;MAJORITY\n8a;20\n")
	ws, err := Open(dir, Options{Comma: ";"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := readAll(t, ws, "t", "h3_index", "MAJORITY"); !reflect.DeepEqual(got, [][]any{{"8a", "20"}}) {
		t.Fatalf("rows = %#v", got)
	}
	if _, err := Open(dir, Options{Comma: ";;"}); err == nil {
		t.Fatalf("expected error for multi-character comma")
	}
}

func TestJSONLLayer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "ZStatsTable_h3_res5_part002.jsonl",
		`{"h3_index":"85283473fffffff","MAJORITY":111,"AREA":1.5}`+"\n\n"+
			`{"h3_index":"85283477fffffff","MAJORITY":null,"AREA":2}`+"\n")

	ws, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := readAll(t, ws, "ZStatsTable_h3_res5_part002", "h3_index", "MAJORITY", "AREA")
	want := [][]any{
		{"85283473fffffff", json.Number("111"), json.Number("1.5")},
		{"85283477fffffff", nil, json.Number("2")},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("rows = %#v, want %#v", got, want)
	}
}

type zstatsRow struct {
	H3Index  string  `parquet:"h3_index"`
	Majority *int64  `parquet:"MAJORITY,optional"`
	Area     float64 `parquet:"AREA"`
	Count    *int32  `parquet:"COUNT,optional"`
}

func TestParquetLayer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	maj := int64(200)
	cnt := int32(4)
	rows := []zstatsRow{
		{H3Index: "87283472bffffff", Majority: &maj, Area: 0.75, Count: &cnt},
		{H3Index: "87283472affffff", Area: 1},
	}
	if err := parquet.WriteFile(filepath.Join(dir, "ZStatsAsTable_Out_h3_res7_chunk_1.parquet"), rows); err != nil {
		t.Fatalf("write parquet: %v", err)
	}

	ws, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got := readAll(t, ws, "ZStatsAsTable_Out_h3_res7_chunk_1", "h3_index", "MAJORITY", "AREA", "COUNT")
	want := [][]any{
		{"87283472bffffff", int64(200), 0.75, int64(4)},
		{"87283472affffff", nil, 1.0, nil},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("rows = %#v, want %#v", got, want)
	}
}

func TestWorkspace_ListTablesPrefersFirstExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a.jsonl", `{"h3_index":"from-jsonl"}`+"\n")
	writeFile(t, dir, "a.csv", "h3_index\nfrom-csv\n")
	writeFile(t, dir, "b.JSONL", `{"h3_index":"b"}`+"\n")
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, ".hidden.csv", "h3_index\n")
	if err := os.Mkdir(filepath.Join(dir, "sub.csv"), 0o755); err != nil {
		t.Fatal(err)
	}

	ws, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tables, _ := ws.ListTables(context.Background())
	if !reflect.DeepEqual(tables, []string{"a", "b"}) {
		t.Fatalf("tables = %v", tables)
	}
	if got := readAll(t, ws, "a", "h3_index"); !reflect.DeepEqual(got, [][]any{{"from-csv"}}) {
		t.Fatalf("a read from wrong file: %#v", got)
	}

	jsonFirst, err := Open(dir, Options{Extensions: []string{"jsonl", ".csv"}})
	if err != nil {
		t.Fatalf("Open(jsonl first): %v", err)
	}
	if got := readAll(t, jsonFirst, "a", "h3_index"); !reflect.DeepEqual(got, [][]any{{"from-jsonl"}}) {
		t.Fatalf("extension order ignored: %#v", got)
	}

	if _, err := Open(dir, Options{Extensions: []string{".shp"}}); err == nil {
		t.Fatalf("expected error for unsupported extension")
	}
}

func TestWorkspace_MissingTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "gone.csv", "h3_index\n")
	ws, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "gone.csv")); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"gone", "never"} {
		if _, err := ws.Rows(context.Background(), name, []string{"h3_index"}); !errors.Is(err, gdb.ErrTableNotFound) {
			t.Fatalf("Rows(%s) err = %v, want ErrTableNotFound", name, err)
		}
	}
}
