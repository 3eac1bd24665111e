package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/ebismon/internal/catalog"
	"github.com/xtxerr/ebismon/internal/storage/export"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

func TestDumpExport(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	window := types.Window{
		"HV_GunBias": {types.NewSample(ts, 1.5), types.NewSample(ts.Add(time.Second), 1.6)},
	}

	path := filepath.Join(t.TempDir(), "window.parquet")
	if _, err := export.WriteFile(path, window, catalog.MustDefault(), export.DefaultOptions()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var out bytes.Buffer
	if err := dumpExport(path, &out); err != nil {
		t.Fatalf("dumpExport: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), out.String())
	}
	var row export.Row
	if err := json.Unmarshal([]byte(lines[0]), &row); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if row.Channel != "HV_GunBias" || row.Group != "psu" || row.TimestampMs != ts.UnixMilli() {
		t.Errorf("unexpected row %+v", row)
	}
}

func TestDumpExport_MissingFile(t *testing.T) {
	if err := dumpExport(filepath.Join(t.TempDir(), "nope.parquet"), &bytes.Buffer{}); err == nil {
		t.Error("expected an error for a missing file")
	}
}
