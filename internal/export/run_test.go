package export

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gdbexport/internal/config"
	"gdbexport/internal/gdb"
	"gdbexport/internal/metrics"
	"gdbexport/internal/schema"

	_ "gdbexport/internal/gdb/all"
	_ "gdbexport/internal/storage/sqlite"
)

var biomeGpkg = []string{
	`CREATE TABLE ZStatsAsTable_h3_res3_part01 (OBJECTID INTEGER PRIMARY KEY, h3_index TEXT, MAJORITY INTEGER)`,
	`INSERT INTO ZStatsAsTable_h3_res3_part01 (h3_index, MAJORITY) VALUES ('83283bfffffffff', 111), ('832834fffffffff', NULL), ('832830fffffffff', 999)`,
	`CREATE TABLE ZStatsAsTable_h3_res3_part02 (OBJECTID INTEGER PRIMARY KEY, h3_index TEXT, MAJORITY REAL)`,
	`INSERT INTO ZStatsAsTable_h3_res3_part02 (h3_index, MAJORITY) VALUES ('832831fffffffff', 200.0), ('', 20)`,
	`CREATE TABLE ZStatsTable_h3_res5_part001 (OBJECTID INTEGER PRIMARY KEY, h3_index TEXT, ZONE_CODE INTEGER, COUNT INTEGER, AREA REAL, MAJORITY INTEGER)`,
	`INSERT INTO ZStatsTable_h3_res5_part001 (h3_index, ZONE_CODE, COUNT, AREA, MAJORITY) VALUES ('85283473fffffff', 1, 40, 1.5, 30), ('85283477fffffff', 2, 12, 0.25, 50)`,
	`CREATE TABLE ZStatsTable_h3_res6_part003 (OBJECTID INTEGER PRIMARY KEY, h3_index TEXT, ZONE_CODE INTEGER, COUNT INTEGER, AREA REAL, MAJORITY INTEGER)`,
	`INSERT INTO ZStatsTable_h3_res6_part003 (h3_index, ZONE_CODE, COUNT, AREA, MAJORITY) VALUES ('86283472fffffff', 3, 7, 0.125, NULL)`,
}

func TestRunLandcover_EndToEnd(t *testing.T) {
	t.Parallel()

	gpkg := newGpkg(t, biomeGpkg...)
	outDir := filepath.Join(t.TempDir(), "landcover_export")
	var out bytes.Buffer

	res, err := RunLandcover(context.Background(), config.LandcoverDefaults(gpkg, outDir), Options{Out: &out})
	if err != nil {
		t.Fatalf("RunLandcover: %v", err)
	}
	if res.Backend != "gpkg" {
		t.Fatalf("backend = %q, want gpkg", res.Backend)
	}

	got, err := ReadLandcoverJSONL(filepath.Join(outDir, "landcover_res3.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	want := []schema.LandcoverRecord{
		{H3: "83283bfffffffff", Code: 111, Biome: "forest"},
		{H3: "832834fffffffff", Code: 0, Biome: "unknown"},
		{H3: "832830fffffffff", Code: 0, Biome: "unknown"},
		{H3: "832831fffffffff", Code: 200, Biome: "ocean"},
	}
	if len(got) != len(want) {
		t.Fatalf("res3 records = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("res3[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	// res7 matched nothing but still gets an empty file and a summary.
	if b := readFile(t, filepath.Join(outDir, "landcover_res7.jsonl")); b != "" {
		t.Fatalf("res7 jsonl = %q, want empty", b)
	}
	for res, tiles := range map[int]int{3: 4, 5: 2, 7: 0} {
		var s Summary
		if err := json.Unmarshal([]byte(readFile(t, filepath.Join(outDir, SummaryName(res)))), &s); err != nil {
			t.Fatalf("summary res%d: %v", res, err)
		}
		if s.TotalTiles != tiles || s.Resolution != res {
			t.Errorf("summary res%d = %+v, want total_tiles %d", res, s, tiles)
		}
	}
	if _, err := os.Stat(filepath.Join(outDir, BiomeColorsFile)); err != nil {
		t.Fatalf("biome colors: %v", err)
	}
	if !strings.Contains(out.String(), "Warning: No tables found matching pattern '*h3_res7_chunk*'") {
		t.Errorf("progress output lacks the empty-match warning:\n%s", out.String())
	}
	if len(res.Files) != 7 {
		t.Errorf("files = %v, want 3 jsonl + 3 summaries + biome colors", res.Files)
	}
}

func TestRunLandcover_CompressedOutput(t *testing.T) {
	t.Parallel()

	gpkg := newGpkg(t, biomeGpkg...)
	cfg := config.LandcoverDefaults(gpkg, t.TempDir())
	cfg.Output.Compression = "zstd"
	cfg.Tables.Groups = cfg.Tables.Groups[:1]

	if _, err := RunLandcover(context.Background(), cfg, Options{}); err != nil {
		t.Fatalf("RunLandcover: %v", err)
	}
	recs, err := ReadLandcoverJSONL(filepath.Join(cfg.Output.Dir, "landcover_res3.jsonl.zst"))
	if err != nil {
		t.Fatalf("ReadLandcoverJSONL: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("records = %d, want 4", len(recs))
	}
}

func TestRunLandcover_NoBackend(t *testing.T) {
	t.Parallel()

	outDir := filepath.Join(t.TempDir(), "landcover_export")
	cfg := config.LandcoverDefaults(filepath.Join(t.TempDir(), "missing.gdb"), outDir)
	_, err := RunLandcover(context.Background(), cfg, Options{})
	if !errors.Is(err, gdb.ErrNoBackend) {
		t.Fatalf("err = %v, want ErrNoBackend", err)
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Fatalf("output directory created without a workspace: %v", err)
	}
}

func TestRunZonalStats_NoBackendWritesNothing(t *testing.T) {
	t.Parallel()

	cfg := config.ZonalStatsDefaults()
	cfg.Source.Path = filepath.Join(t.TempDir(), "missing.gdb")
	cfg.Output.Dir = filepath.Join(t.TempDir(), "exports")
	_, err := RunZonalStats(context.Background(), cfg, Options{})
	if !errors.Is(err, gdb.ErrNoBackend) {
		t.Fatalf("err = %v, want ErrNoBackend", err)
	}
	if _, err := os.Stat(cfg.Output.Dir); !os.IsNotExist(err) {
		t.Fatalf("output directory created without a workspace: %v", err)
	}
}

func TestRunZonalStats_EndToEndWithSink(t *testing.T) {
	t.Parallel()

	gpkg := newGpkg(t, biomeGpkg...)
	cfg := config.ZonalStatsDefaults()
	cfg.Source.Path = gpkg
	cfg.Output.Dir = filepath.Join(t.TempDir(), "exports")
	sinkDB := filepath.Join(t.TempDir(), "sink.db")
	cfg.Sink = config.Sink{Kind: "sqlite", DSN: sinkDB, Table: "zonal_stats_res{res}", AutoCreateTable: true, BatchSize: 1}

	now := time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)
	var out bytes.Buffer
	res, err := RunZonalStats(context.Background(), cfg, Options{Out: &out, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("RunZonalStats: %v", err)
	}
	if res.TablesFound != 2 || len(res.Groups) != 2 {
		t.Fatalf("tables=%d groups=%d", res.TablesFound, len(res.Groups))
	}

	for _, r := range []int{5, 6, 7, 8, 9} {
		if fi, err := os.Stat(ResDir(cfg.Output.Dir, r)); err != nil || !fi.IsDir() {
			t.Fatalf("res%d directory missing: %v", r, err)
		}
	}
	csv5 := readFile(t, filepath.Join(ResDir(cfg.Output.Dir, 5), StatsCSVName(5)))
	if !strings.HasPrefix(csv5, "h3_index,zone_code,count,area,majority,source_part\n85283473fffffff,1,40,1.5,30,part1\n") {
		t.Fatalf("res5 csv =\n%s", csv5)
	}
	csv6 := readFile(t, filepath.Join(ResDir(cfg.Output.Dir, 6), StatsCSVName(6)))
	if !strings.Contains(csv6, "86283472fffffff,3,7,0.125,,part3") {
		t.Fatalf("res6 csv =\n%s", csv6)
	}

	if res.Manifest == nil {
		t.Fatal("manifest not built")
	}
	if res.Manifest.Resolutions[5].RecordCount != 2 || res.Manifest.Resolutions[6].RecordCount != 1 {
		t.Fatalf("manifest = %+v", res.Manifest.Resolutions)
	}
	if _, ok := res.Manifest.Resolutions[7]; ok {
		t.Fatalf("res7 has no csv and must not be listed")
	}
	if res.Manifest.ExportedAt != "2026-10-01T08:30:00Z" {
		t.Fatalf("exported_at = %s", res.Manifest.ExportedAt)
	}

	db, err := sql.Open("sqlite", sinkDB)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM zonal_stats_res5`).Scan(&n); err != nil || n != 2 {
		t.Fatalf("zonal_stats_res5 rows = %d, %v", n, err)
	}
	if res.Groups[0].Loaded != 2 || res.Groups[1].Loaded != 1 {
		t.Fatalf("loaded = %d, %d", res.Groups[0].Loaded, res.Groups[1].Loaded)
	}
}

func TestRunZonalStats_NoMatchingTablesStillWritesManifest(t *testing.T) {
	t.Parallel()

	gpkg := newGpkg(t, `CREATE TABLE unrelated (h3_index TEXT)`)
	cfg := config.ZonalStatsDefaults()
	cfg.Source.Path = gpkg
	cfg.Output.Dir = t.TempDir()

	res, err := RunZonalStats(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("RunZonalStats: %v", err)
	}
	if res.WorkspaceTables != 1 || res.TablesFound != 0 || len(res.Groups) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Manifest == nil || len(res.Manifest.Resolutions) != 0 {
		t.Fatalf("manifest = %+v, want an empty one", res.Manifest)
	}
	if len(res.Files) != 1 || filepath.Base(res.Files[0]) != ManifestFile {
		t.Fatalf("files = %v, want only the manifest", res.Files)
	}
}

func TestRunZonalStats_NonFiniteAreaIsNull(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	layers := map[string]string{
		"ZStatsTable_h3_res5_part001.csv": "h3_index,ZONE_CODE,COUNT,AREA,MAJORITY\n85283473fffffff,1,40,Inf,30\n",
		"ZStatsTable_h3_res6_part001.csv": "h3_index,ZONE_CODE,COUNT,AREA,MAJORITY\n86283472fffffff,3,7,0.125,20\n",
	}
	for name, body := range layers {
		if err := os.WriteFile(filepath.Join(src, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := config.ZonalStatsDefaults()
	cfg.Source.Path = src
	cfg.Output.Dir = filepath.Join(t.TempDir(), "exports")

	res, err := RunZonalStats(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("RunZonalStats: %v", err)
	}
	if res.Backend != "layerdir" {
		t.Fatalf("backend = %q, want layerdir", res.Backend)
	}
	csv5 := readFile(t, filepath.Join(ResDir(cfg.Output.Dir, 5), StatsCSVName(5)))
	if !strings.Contains(csv5, "85283473fffffff,1,40,,30,part1") {
		t.Fatalf("res5 csv =\n%s", csv5)
	}
	json5 := readFile(t, filepath.Join(ResDir(cfg.Output.Dir, 5), StatsJSONName(5)))
	if !strings.Contains(json5, `"area":null`) {
		t.Fatalf("res5 json = %s", json5)
	}
	if res.Manifest == nil || res.Manifest.Resolutions[5].RecordCount != 1 || res.Manifest.Resolutions[6].RecordCount != 1 {
		t.Fatalf("manifest = %+v", res.Manifest)
	}
}

func TestRunZonalStats_CollidingPartsKeepTableNames(t *testing.T) {
	t.Parallel()

	gpkg := newGpkg(t,
		`CREATE TABLE ZStatsTable_h3_res5_part003 (h3_index TEXT, ZONE_CODE INTEGER, COUNT INTEGER, AREA REAL, MAJORITY INTEGER)`,
		`INSERT INTO ZStatsTable_h3_res5_part003 VALUES ('85283473fffffff', 1, 1, 1.0, 1)`,
		`CREATE TABLE ZStatsTable_h3_res5_part3 (h3_index TEXT, ZONE_CODE INTEGER, COUNT INTEGER, AREA REAL, MAJORITY INTEGER)`,
		`INSERT INTO ZStatsTable_h3_res5_part3 VALUES ('85283477fffffff', 2, 2, 2.0, 2)`,
	)
	cfg := config.ZonalStatsDefaults()
	cfg.Source.Path = gpkg
	cfg.Output.Dir = t.TempDir()

	if _, err := RunZonalStats(context.Background(), cfg, Options{}); err != nil {
		t.Fatalf("RunZonalStats: %v", err)
	}
	csv5 := readFile(t, filepath.Join(ResDir(cfg.Output.Dir, 5), StatsCSVName(5)))
	for _, want := range []string{",ZStatsTable_h3_res5_part003\n", ",ZStatsTable_h3_res5_part3\n"} {
		if !strings.Contains(csv5, want) {
			t.Fatalf("res5 csv lacks %q:\n%s", want, csv5)
		}
	}
}

// The tests below swap package hooks and therefore do not run in parallel.

func TestRunZonalStats_EmptyWorkspace(t *testing.T) {
	useWorkspace(t, &fakeWorkspace{tables: map[string]fakeTable{}})
	cfg := config.ZonalStatsDefaults()
	cfg.Source.Path = "fake"
	cfg.Output.Dir = t.TempDir()

	res, err := RunZonalStats(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("RunZonalStats: %v", err)
	}
	if res.WorkspaceTables != 0 || res.Manifest != nil || len(res.Files) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if _, err := os.Stat(filepath.Join(cfg.Output.Dir, ManifestFile)); !os.IsNotExist(err) {
		t.Fatalf("manifest written for an empty workspace")
	}
}

func TestRunZonalStats_ReadFailureIsIsolated(t *testing.T) {
	boom := errors.New("cursor exploded")
	useWorkspace(t, &fakeWorkspace{tables: map[string]fakeTable{
		"ZStatsTable_h3_res5_part001": {fields: statsFields, err: boom},
		"ZStatsTable_h3_res6_part001": {fields: statsFields, rows: [][]any{{int64(1), "86283472fffffff", int64(1), int64(1), 1.0, int64(20)}}},
	}})
	cfg := config.ZonalStatsDefaults()
	cfg.Source.Path = "fake"
	cfg.Output.Dir = t.TempDir()

	res, err := RunZonalStats(context.Background(), cfg, Options{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the res5 read failure", err)
	}
	if errors.Is(err, ErrWrite) {
		t.Fatalf("read failure reported as write failure")
	}
	if res.Groups[0].Err == nil || res.Groups[1].Err != nil || res.Groups[1].Records != 1 {
		t.Fatalf("groups = %+v", res.Groups)
	}
	if res.Manifest == nil || len(res.Manifest.Resolutions) != 1 {
		t.Fatalf("manifest should list res6 only: %+v", res.Manifest)
	}
}

func TestRunZonalStats_WriteFailureHalts(t *testing.T) {
	useWorkspace(t, &fakeWorkspace{tables: map[string]fakeTable{
		"ZStatsTable_h3_res5_part001": {fields: statsFields, rows: [][]any{{int64(1), "a", nil, nil, nil, nil}}},
		"ZStatsTable_h3_res6_part001": {fields: statsFields, rows: [][]any{{int64(1), "b", nil, nil, nil, nil}}},
	}})
	cfg := config.ZonalStatsDefaults()
	cfg.Source.Path = "fake"
	cfg.Output.Dir = t.TempDir()
	cfg.Output.Resolutions = nil
	if err := os.WriteFile(ResDir(cfg.Output.Dir, 5), []byte("blocker"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := RunZonalStats(context.Background(), cfg, Options{})
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("err = %v, want ErrWrite", err)
	}
	if len(res.Groups) != 1 {
		t.Fatalf("run continued after a write failure: %d groups", len(res.Groups))
	}
	if _, err := os.Stat(ResDir(cfg.Output.Dir, 6)); !os.IsNotExist(err) {
		t.Fatalf("res6 was written after the failure")
	}
}

// memMetrics keeps counter totals keyed by name and resolution.
type memMetrics struct {
	mu     sync.Mutex
	totals map[string]float64
}

func (m *memMetrics) Add(name string, delta float64, l metrics.Labels) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := name + "/" + l["resolution"]
	if k := l["kind"] + l["outcome"]; k != "" {
		key += "/" + k
	}
	m.totals[key] += delta
}

func (m *memMetrics) Observe(string, float64, metrics.Labels) {}
func (m *memMetrics) Flush() error                            { return nil }

func TestRunZonalStats_RecordsMetricsPerResolution(t *testing.T) {
	mm := &memMetrics{totals: map[string]float64{}}
	metrics.SetBackend(mm)
	t.Cleanup(func() { metrics.SetBackend(&memMetrics{totals: map[string]float64{}}) })

	useWorkspace(t, &fakeWorkspace{
		ghosts: []string{"ZStatsTable_h3_res5_part009"},
		tables: map[string]fakeTable{
			"ZStatsTable_h3_res5_part001": {fields: statsFields, rows: [][]any{
				{int64(1), "85283473fffffff", int64(1), int64(1), 1.0, int64(1)},
				{int64(2), "", nil, nil, nil, nil},
			}},
			"ZStatsTable_h3_res6_part001": {fields: statsFields, rows: [][]any{{int64(1), "86283472fffffff", int64(1), int64(1), 1.0, int64(20)}}},
		},
	})
	cfg := config.ZonalStatsDefaults()
	cfg.Source.Path = "fake"
	cfg.Output.Dir = t.TempDir()

	if _, err := RunZonalStats(context.Background(), cfg, Options{}); err != nil {
		t.Fatalf("RunZonalStats: %v", err)
	}
	want := map[string]float64{
		metrics.RecordsTotal + "/res5/read":             2,
		metrics.RecordsTotal + "/res5/dropped_empty_h3": 1,
		metrics.RecordsTotal + "/res5/exported":         1,
		metrics.RecordsTotal + "/res6/exported":         1,
		metrics.TablesTotal + "/res5/read":              1,
		metrics.TablesTotal + "/res5/missing":           1,
		metrics.FilesTotal + "/res5":                    2,
		metrics.FilesTotal + "/res6":                    2,
	}
	for k, v := range want {
		if got := mm.totals[k]; got != v {
			t.Errorf("%s = %v, want %v", k, got, v)
		}
	}
}

type recordingPublisher struct {
	root  string
	files []string
}

func (p *recordingPublisher) Upload(_ context.Context, root string, files []string) (int, error) {
	p.root, p.files = root, files
	return len(files), nil
}

func TestRunLandcover_Publishes(t *testing.T) {
	pub := &recordingPublisher{}
	orig := newPublisher
	newPublisher = func(context.Context, config.Publish) (Publisher, error) { return pub, nil }
	t.Cleanup(func() { newPublisher = orig })

	useWorkspace(t, &fakeWorkspace{tables: map[string]fakeTable{
		"ZStatsAsTable_h3_res3_part01": {fields: []string{"h3_index", "MAJORITY"}, rows: [][]any{{"83283bfffffffff", int64(90)}}},
	}})
	cfg := config.LandcoverDefaults("fake", t.TempDir())
	cfg.Tables.Groups = cfg.Tables.Groups[:1]
	cfg.Publish = config.Publish{Bucket: "tiles", Prefix: "landcover"}

	res, err := RunLandcover(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("RunLandcover: %v", err)
	}
	if res.Published != 3 || pub.root != cfg.Output.Dir {
		t.Fatalf("published=%d root=%s files=%v", res.Published, pub.root, pub.files)
	}
	if filepath.Base(pub.files[len(pub.files)-1]) != BiomeColorsFile {
		t.Fatalf("last published file = %s", pub.files[len(pub.files)-1])
	}
}

func TestRedact(t *testing.T) {
	t.Parallel()

	got := redact("postgres://gis:secret@db:5432/biome")
	if strings.Contains(got, "secret") {
		t.Fatalf("password leaked: %s", got)
	}
	if redact("/data/Biome.gpkg") != "/data/Biome.gpkg" {
		t.Fatalf("plain path altered")
	}
}
