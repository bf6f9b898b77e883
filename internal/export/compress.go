package export

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compressor wraps JSON-lines output in an optional compression format.
type Compressor interface {
	Name() string

	// Extension is appended to the file name, e.g. ".gz". Empty for none.
	Extension() string

	Compress(w io.Writer) (io.WriteCloser, error)
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// CompressorFor returns the compressor for a config value: "", "none",
// "gzip" or "zstd".
func CompressorFor(name string) (Compressor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return noopCompressor{}, nil
	case "gzip", "gz":
		return gzipCompressor{}, nil
	case "zstd", "zst":
		return zstdCompressor{}, nil
	default:
		return nil, fmt.Errorf("export: unknown compression %q", name)
	}
}

// compressorForPath picks the compressor matching a file's extension.
func compressorForPath(path string) Compressor {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		return gzipCompressor{}
	case ".zst":
		return zstdCompressor{}
	default:
		return noopCompressor{}
	}
}

type gzipCompressor struct{}

func (gzipCompressor) Name() string      { return "gzip" }
func (gzipCompressor) Extension() string { return ".gz" }

func (gzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gzipCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

type zstdCompressor struct{}

func (zstdCompressor) Name() string      { return "zstd" }
func (zstdCompressor) Extension() string { return ".zst" }

func (zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

func (zstdCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

type noopCompressor struct{}

func (noopCompressor) Name() string      { return "none" }
func (noopCompressor) Extension() string { return "" }

func (noopCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noopCompressor) Decompress(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
