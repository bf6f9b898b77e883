package export

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"gdbexport/internal/schema"
)

// File names of the export layout.
const (
	ManifestFile    = "manifest.json"
	BiomeColorsFile = "biome_colors.json"
)

// StatsCSVName returns zonal_stats_res<N>.csv.
func StatsCSVName(res int) string { return fmt.Sprintf("zonal_stats_res%d.csv", res) }

// StatsJSONName returns zonal_stats_res<N>.json.
func StatsJSONName(res int) string { return fmt.Sprintf("zonal_stats_res%d.json", res) }

// LandcoverName returns landcover_res<N>.jsonl plus the compressor's extension.
func LandcoverName(res int, c Compressor) string {
	ext := ""
	if c != nil {
		ext = c.Extension()
	}
	return fmt.Sprintf("landcover_res%d.jsonl%s", res, ext)
}

// SummaryName returns landcover_res<N>_summary.json.
func SummaryName(res int) string { return fmt.Sprintf("landcover_res%d_summary.json", res) }

// ResDir returns <dir>/res<N>.
func ResDir(dir string, res int) string { return filepath.Join(dir, "res"+strconv.Itoa(res)) }

// Manifest lists the statistics files present in an output directory.
type Manifest struct {
	RunID       string                  `json:"run_id"`
	ExportedAt  string                  `json:"exported_at"`
	Source      string                  `json:"source"`
	Resolutions map[int]ResolutionEntry `json:"resolutions"`
}

// ResolutionEntry describes one resolution's files. Checksum is the xxh3-64
// hex digest of the CSV bytes.
type ResolutionEntry struct {
	CSVFile     string `json:"csv_file"`
	JSONFile    string `json:"json_file"`
	RecordCount int64  `json:"record_count"`
	Checksum    string `json:"checksum"`
}

// NewRunID returns a random run identifier.
func NewRunID() string { return uuid.NewString() }

// BuildManifest scans dir for res<N> subdirectories holding a
// zonal_stats_res<N>.csv, including files left by earlier runs. The record
// count is the file's line count minus the header.
func BuildManifest(dir, source, runID string, now time.Time) (Manifest, error) {
	m := Manifest{
		RunID:       runID,
		ExportedAt:  now.Format(time.RFC3339Nano),
		Source:      source,
		Resolutions: map[int]ResolutionEntry{},
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return m, fmt.Errorf("manifest: scan %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "res") {
			continue
		}
		res, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "res"))
		if err != nil {
			continue
		}
		resDir := filepath.Join(dir, e.Name())
		csvPath := filepath.Join(resDir, StatsCSVName(res))
		lines, sum, err := countAndHash(csvPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return m, fmt.Errorf("manifest: %w", err)
		}
		m.Resolutions[res] = ResolutionEntry{
			CSVFile:     csvPath,
			JSONFile:    filepath.Join(resDir, StatsJSONName(res)),
			RecordCount: max(lines-1, 0),
			Checksum:    fmt.Sprintf("%016x", sum),
		}
	}
	return m, nil
}

// countAndHash returns the number of lines in path (a final line without a
// newline counts) and the xxh3-64 digest of its bytes, in one pass.
func countAndHash(path string) (int64, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	adviseSequential(f)

	h := xxh3.New()
	buf := make([]byte, 1<<16)
	var (
		lines int64
		last  byte = '\n'
		size  int64
	)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			_, _ = h.Write(chunk)
			lines += int64(bytes.Count(chunk, []byte{'\n'}))
			last = chunk[n-1]
			size += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, fmt.Errorf("read %s: %w", path, err)
		}
	}
	if size > 0 && last != '\n' {
		lines++
	}
	return lines, h.Sum64(), nil
}

// SortedResolutions returns the manifest's resolutions in ascending order.
func (m Manifest) SortedResolutions() []int {
	out := make([]int, 0, len(m.Resolutions))
	for r := range m.Resolutions {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}

// WriteManifest writes m to <dir>/manifest.json and returns the path.
func WriteManifest(dir string, m Manifest) (string, error) {
	path := filepath.Join(dir, ManifestFile)
	return path, writeIndentedJSON(path, m)
}

// Summary is the per-resolution land-cover summary.
type Summary struct {
	Resolution  int               `json:"resolution"`
	TotalTiles  int               `json:"total_tiles"`
	BiomeColors map[string]string `json:"biome_colors"`
}

// NewSummary returns the summary for a resolution group.
func NewSummary(res, tiles int) Summary {
	return Summary{Resolution: res, TotalTiles: tiles, BiomeColors: schema.BiomeToColor()}
}

// WriteSummary writes <dir>/landcover_res<N>_summary.json and returns the path.
func WriteSummary(dir string, s Summary) (string, error) {
	path := filepath.Join(dir, SummaryName(s.Resolution))
	return path, writeIndentedJSON(path, s)
}

// BiomeColors is the color mapping file consumed by the frontend.
type BiomeColors struct {
	Classes      map[string]schema.Class `json:"classes"`
	BiomeToColor map[string]string       `json:"biome_to_color"`
}

// WriteBiomeColors writes <dir>/biome_colors.json and returns the path.
func WriteBiomeColors(dir string) (string, error) {
	path := filepath.Join(dir, BiomeColorsFile)
	return path, writeIndentedJSON(path, BiomeColors{
		Classes:      schema.Classes(),
		BiomeToColor: schema.BiomeToColor(),
	})
}
