package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/ebismon/internal/catalog"
	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func window() types.Window {
	return types.Window{
		"HV_GunBias": {
			types.NewSample(base, 1.0),
			types.NewSample(base.Add(time.Second), 1.1),
		},
		"EBIS_Gun_Penning": {
			types.NewSample(base, 2.5e-9),
		},
		"GUN_Anode": {},
	}
}

func TestRows(t *testing.T) {
	rows, err := Rows(window(), catalog.MustDefault())
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}

	want := []Row{
		{Channel: "EBIS_Gun_Penning", Group: "gauge", TimestampMs: base.UnixMilli(), Value: 2.5e-9},
		{Channel: "HV_GunBias", Group: "psu", TimestampMs: base.UnixMilli(), Value: 1.0},
		{Channel: "HV_GunBias", Group: "psu", TimestampMs: base.Add(time.Second).UnixMilli(), Value: 1.1},
	}
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(rows))
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d: got %+v, want %+v", i, rows[i], want[i])
		}
	}
}

func TestRows_UnknownChannel(t *testing.T) {
	_, err := Rows(types.Window{"doesNotExist": nil}, catalog.MustDefault())
	if !errors.Is(err, errors.ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestWriteParquet(t *testing.T) {
	var buf bytes.Buffer

	n, err := WriteParquet(&buf, window(), catalog.MustDefault(), DefaultOptions())
	if err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 rows, got %d", n)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("PAR1")) {
		t.Error("output should start with the Parquet magic")
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	compressions := []string{"zstd", "snappy", "gzip", "none"}

	for _, c := range compressions {
		t.Run(c, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub", "window.parquet")

			if _, err := WriteFile(path, window(), catalog.MustDefault(), Options{Compression: ParseCompressionType(c)}); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}

			if stat, err := os.Stat(path); err != nil || stat.Size() == 0 {
				t.Fatalf("file should exist and not be empty: %v", err)
			}

			rows, err := ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if len(rows) != 3 {
				t.Fatalf("expected 3 rows, got %d", len(rows))
			}
			if rows[0].Group != "gauge" || rows[0].Value != 2.5e-9 {
				t.Errorf("unexpected first row %+v", rows[0])
			}
		})
	}
}

func TestWriteFile_EmptyWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.parquet")

	n, err := WriteFile(path, types.Window{}, catalog.MustDefault(), DefaultOptions())
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 rows, got %d", n)
	}

	rows, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		in   string
		want CompressionType
	}{
		{"snappy", CompressionSnappy},
		{"zstd", CompressionZstd},
		{"lz4", CompressionLZ4},
		{"gzip", CompressionGzip},
		{"none", CompressionNone},
		{"", CompressionNone},
		{"bogus", CompressionZstd},
	}
	for _, tt := range tests {
		if got := ParseCompressionType(tt.in); got != tt.want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
