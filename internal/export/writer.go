package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"gdbexport/internal/schema"
)

// ErrWrite marks a failure to persist an output file. It halts the run;
// groups written earlier are left in place.
var ErrWrite = errors.New("write failed")

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// writeFile writes path through a temporary sibling and renames it into
// place, so readers never observe a half-written file. Every failure is
// reported as ErrWrite.
func writeFile(path string, fill func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %w", ErrWrite, dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrWrite, path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	bw := bufio.NewWriterSize(tmp, 1<<16)
	if err := fill(bw); err != nil {
		cleanup()
		return fmt.Errorf("%w: %s: %w", ErrWrite, path, err)
	}
	if err := bw.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("%w: flush %s: %w", ErrWrite, path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: close %s: %w", ErrWrite, path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: rename %s: %w", ErrWrite, path, err)
	}
	return nil
}

// WriteStatsCSV writes recs with the fixed StatsColumns header. Absent
// values are empty cells.
func WriteStatsCSV(path string, recs []schema.StatsRecord) error {
	return writeFile(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(schema.Names(schema.StatsColumns)); err != nil {
			return err
		}
		for i := range recs {
			if err := cw.Write(recs[i].CSV()); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// WriteStatsJSON writes recs as one JSON array of objects; absent values are
// null.
func WriteStatsJSON(path string, recs []schema.StatsRecord) error {
	if recs == nil {
		recs = []schema.StatsRecord{}
	}
	return writeFile(path, func(w io.Writer) error {
		return jsonAPI.NewEncoder(w).Encode(recs)
	})
}

// WriteLandcoverJSONL writes one JSON object per line, compressed by c, and
// returns the number of lines written.
func WriteLandcoverJSONL(path string, recs []schema.LandcoverRecord, c Compressor) (int, error) {
	if c == nil {
		c = noopCompressor{}
	}
	lines := 0
	err := writeFile(path, func(w io.Writer) error {
		zw, err := c.Compress(w)
		if err != nil {
			return err
		}
		enc := jsonAPI.NewEncoder(zw)
		for i := range recs {
			// Encode terminates every value with a newline.
			if err := enc.Encode(recs[i]); err != nil {
				_ = zw.Close()
				return err
			}
			lines++
		}
		return zw.Close()
	})
	if err != nil {
		return 0, err
	}
	return lines, nil
}

// ReadLandcoverJSONL reads a file written by WriteLandcoverJSONL. The
// compression is chosen from the file extension.
func ReadLandcoverJSONL(path string) ([]schema.LandcoverRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := compressorForPath(path).Decompress(f)
	if err != nil {
		return nil, fmt.Errorf("export: open %s: %w", path, err)
	}
	defer zr.Close()

	out := make([]schema.LandcoverRecord, 0)
	dec := jsonAPI.NewDecoder(zr)
	for dec.More() {
		var rec schema.LandcoverRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("export: decode %s record %d: %w", path, len(out)+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// writeIndentedJSON writes v with two-space indentation.
func writeIndentedJSON(path string, v any) error {
	return writeFile(path, func(w io.Writer) error {
		enc := jsonAPI.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}
