package layerdir

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

// jsonNumbers decodes numbers as json.Number so integers survive untouched.
var jsonNumbers = jsoniter.Config{UseNumber: true}.Froze()

// jsonlLayer reads one JSON object per line. Fields are the keys of the first
// object, sorted; keys that only appear in later lines are not exposed.
type jsonlLayer struct {
	f      *os.File
	sc     *bufio.Scanner
	fields []string
	first  map[string]any
	line   int
}

func openJSONL(f *os.File) (*jsonlLayer, error) {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	l := &jsonlLayer{f: f, sc: sc}

	first, err := l.decode()
	if err == io.EOF {
		return l, nil
	}
	if err != nil {
		return nil, err
	}
	l.first = first
	for k := range first {
		l.fields = append(l.fields, k)
	}
	sort.Strings(l.fields)
	return l, nil
}

func (l *jsonlLayer) decode() (map[string]any, error) {
	for l.sc.Scan() {
		l.line++
		b := bytes.TrimSpace(l.sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var m map[string]any
		if err := jsonNumbers.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("jsonl line %d: %w", l.line, err)
		}
		return m, nil
	}
	if err := l.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (l *jsonlLayer) Fields() []string { return l.fields }

func (l *jsonlLayer) Next() ([]any, error) {
	m := l.first
	l.first = nil
	if m == nil {
		var err error
		if m, err = l.decode(); err != nil {
			return nil, err
		}
	}
	row := make([]any, len(l.fields))
	for i, k := range l.fields {
		row[i] = m[k]
	}
	return row, nil
}

func (l *jsonlLayer) Close() error { return l.f.Close() }
