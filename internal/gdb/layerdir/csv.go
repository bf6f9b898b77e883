package layerdir

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// csvLayer reads a CSV export with a header row. A UTF-8 (or UTF-16) BOM is
// honored and stripped; empty cells read as nil.
type csvLayer struct {
	f      *os.File
	r      *csv.Reader
	fields []string
}

func openCSV(f *os.File, comma rune) (*csvLayer, error) {
	dec := transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	r := csv.NewReader(dec)
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return &csvLayer{f: f, r: r}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	fields := make([]string, len(header))
	copy(fields, header)
	return &csvLayer{f: f, r: r, fields: fields}, nil
}

func (c *csvLayer) Fields() []string { return c.fields }

func (c *csvLayer) Next() ([]any, error) {
	if c.fields == nil {
		return nil, io.EOF
	}
	rec, err := c.r.Read()
	if err != nil {
		return nil, err
	}
	row := make([]any, len(rec))
	for i, v := range rec {
		if v != "" {
			row[i] = v
		}
	}
	return row, nil
}

func (c *csvLayer) Close() error { return c.f.Close() }
