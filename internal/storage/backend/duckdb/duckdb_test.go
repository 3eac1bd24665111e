package duckdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xtxerr/ebismon/internal/storage/backend"
	"github.com/xtxerr/ebismon/internal/storage/backend/backendtest"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

func open(t *testing.T, capacity int) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Capacity: capacity})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T, capacity int) backend.Backend {
		return open(t, capacity)
	})
}

func TestApply_RowsBoundedPerTable(t *testing.T) {
	s := open(t, 4)
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		entries := backendtest.Batch(backendtest.At(i), backendtest.A, float64(i), backendtest.B, float64(-i))
		if _, err := s.Apply(ctx, entries, backend.ApplyOptions{}); err != nil {
			t.Fatalf("Apply %d: %v", i, err)
		}
	}

	for _, table := range []string{"ring_values", "ring_times"} {
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM `+table+` WHERE ring = ?`, string(backendtest.A.Key())).Scan(&n)
		if err != nil {
			t.Fatal(err)
		}
		if n != 4 {
			t.Errorf("%s: expected 4 rows for A, got %d", table, n)
		}
	}

	got, err := s.Range(ctx, backendtest.B.Key(), 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{-9, -8, -7, -6}
	if vals := backendtest.Values(got); len(vals) != 4 || vals[0] != want[0] || vals[3] != want[3] {
		t.Errorf("expected newest-first %v, got %v", want, vals)
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.duckdb")
	ctx := context.Background()

	s, err := Open(ctx, Config{Path: path, Capacity: 10})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	entries := backendtest.Batch(backendtest.At(0), backendtest.G, 1e-9)
	if _, err := s.Apply(ctx, entries, backend.ApplyOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopening keeps the tables usable.
	s, err = Open(ctx, Config{Path: path, Capacity: 10})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	heads, err := s.Heads(ctx, []types.Key{backendtest.G.Key()})
	if err != nil {
		t.Fatal(err)
	}
	if heads[backendtest.G.Key()].Value != 1e-9 {
		t.Errorf("expected head 1e-9, got %+v", heads)
	}
}

func TestApply_TimestampsMicrosecondUTC(t *testing.T) {
	s := open(t, 4)
	defer s.Close()
	ctx := context.Background()

	ts := backendtest.At(0).Add(1234567 * 1000) // 1.234567s
	entries := []types.Entry{{Channel: backendtest.A, Sample: types.NewSample(ts, 1)}}
	if _, err := s.Apply(ctx, entries, backend.ApplyOptions{}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Range(ctx, backendtest.A.Key(), 0, 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("Range: %v %v", got, err)
	}
	if !got[0].Timestamp.Equal(ts) {
		t.Errorf("expected %v, got %v", ts, got[0].Timestamp)
	}
}
