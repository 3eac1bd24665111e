// Package export dumps window reads to Parquet files.
//
// The package provides:
//   - WriteParquet/WriteFile to write one row per sample
//   - ReadFile to load an export back, mostly for tooling and tests
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//
// An export is an on-demand snapshot of what the ring store held at read
// time; the store itself never persists to Parquet.
package export
