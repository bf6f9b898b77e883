package layerdir

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// parquetLayer reads a flat Parquet file. Nested columns are exposed by
// their leaf name.
type parquetLayer struct {
	f      *os.File
	r      *parquet.Reader
	fields []string
	buf    []parquet.Row
	n, pos int
	eof    bool
}

func openParquet(f *os.File) (*parquetLayer, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("parquet: %w", err)
	}
	cols := pf.Schema().Columns()
	fields := make([]string, len(cols))
	for i, path := range cols {
		fields[i] = path[len(path)-1]
	}
	return &parquetLayer{
		f:      f,
		r:      parquet.NewReader(pf),
		fields: fields,
		buf:    make([]parquet.Row, 256),
	}, nil
}

func (p *parquetLayer) Fields() []string { return p.fields }

func (p *parquetLayer) Next() ([]any, error) {
	for p.pos >= p.n {
		if p.eof {
			return nil, io.EOF
		}
		n, err := p.r.ReadRows(p.buf)
		p.n, p.pos = n, 0
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("parquet: read rows: %w", err)
			}
			p.eof = true
		}
	}
	row := p.buf[p.pos]
	p.pos++

	out := make([]any, len(p.fields))
	for _, v := range row {
		c := v.Column()
		if c < 0 || c >= len(out) {
			continue
		}
		out[c] = parquetValue(v)
	}
	return out, nil
}

func (p *parquetLayer) Close() error {
	err := p.r.Close()
	if cerr := p.f.Close(); err == nil {
		err = cerr
	}
	return err
}

func parquetValue(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return nil
	}
}
