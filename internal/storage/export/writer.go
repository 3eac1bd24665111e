package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/ebismon/internal/storage/types"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// codec returns the parquet-go compression codec.
func codec(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// Row is one sample in Parquet form.
type Row struct {
	Channel     string  `parquet:"channel,dict"`
	Group       string  `parquet:"group,dict"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	Value       float64 `parquet:"value"`
}

// Resolver looks up the channel behind a name. *catalog.Catalog
// satisfies it.
type Resolver interface {
	Resolve(name string) (types.Channel, error)
}

// Rows flattens a window into rows ordered by channel name, then time.
func Rows(window types.Window, r Resolver) ([]Row, error) {
	names := make([]string, 0, len(window))
	total := 0
	for name, samples := range window {
		names = append(names, name)
		total += len(samples)
	}
	sort.Strings(names)

	rows := make([]Row, 0, total)
	for _, name := range names {
		ch, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		for _, s := range window[name] {
			rows = append(rows, Row{
				Channel:     ch.Name,
				Group:       ch.Group,
				TimestampMs: s.TimestampMs(),
				Value:       s.Value,
			})
		}
	}
	return rows, nil
}

// WriteParquet writes the window to w and returns the number of rows.
func WriteParquet(w io.Writer, window types.Window, r Resolver, opts Options) (int64, error) {
	rows, err := Rows(window, r)
	if err != nil {
		return 0, err
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(codec(opts.Compression)),
	}

	writer := parquet.NewGenericWriter[Row](w, writerOpts...)

	n, err := writer.Write(rows)
	if err != nil {
		writer.Close()
		return int64(n), fmt.Errorf("write rows: %w", err)
	}

	if err := writer.Close(); err != nil {
		return int64(n), fmt.Errorf("close writer: %w", err)
	}
	return int64(n), nil
}

// WriteFile writes the window to a new file at path.
func WriteFile(path string, window types.Window, r Resolver, opts Options) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	n, err := WriteParquet(f, window, r, opts)
	if err != nil {
		f.Close()
		return n, err
	}
	return n, f.Close()
}
