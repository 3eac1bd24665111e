// Package backendtest holds the behaviour every backend.Backend must show.
// Implementations run it from their own tests:
//
//	func TestConformance(t *testing.T) {
//		backendtest.Run(t, func(t *testing.T, capacity int) backend.Backend {
//			return memory.New(capacity)
//		})
//	}
package backendtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/storage/backend"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

// Factory creates an empty backend bounded at capacity. The suite closes it.
type Factory func(t *testing.T, capacity int) backend.Backend

var (
	A = types.Channel{Name: "A", Group: "psu"}
	B = types.Channel{Name: "B", Group: "psu"}
	G = types.Channel{Name: "G", Group: "gauge"}

	// Base is 10:00:00 UTC on an arbitrary day.
	Base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
)

// At returns Base shifted by sec seconds.
func At(sec int) time.Time {
	return Base.Add(time.Duration(sec) * time.Second)
}

// Batch builds entries sharing one timestamp.
func Batch(ts time.Time, pairs ...any) []types.Entry {
	entries := make([]types.Entry, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		entries = append(entries, types.Entry{
			Channel: pairs[i].(types.Channel),
			Sample:  types.NewSample(ts, pairs[i+1].(float64)),
		})
	}
	return entries
}

// Values extracts the values of samples.
func Values(samples []types.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Run executes the suite against backends created by newBackend.
func Run(t *testing.T, newBackend Factory) {
	open := func(t *testing.T, capacity int) backend.Backend {
		b := newBackend(t, capacity)
		t.Cleanup(func() { b.Close() })
		return b
	}

	t.Run("Ping", func(t *testing.T) { testPing(t, open(t, 10)) })
	t.Run("CapacityScenario", func(t *testing.T) { testCapacity(t, open(t, 3)) })
	t.Run("EndToEnd", func(t *testing.T) { testEndToEnd(t, open(t, 10)) })
	t.Run("Range", func(t *testing.T) { testRange(t, open(t, 5)) })
	t.Run("Heads", func(t *testing.T) { testHeads(t, open(t, 5)) })
	t.Run("EmptyWindow", func(t *testing.T) { testEmptyWindow(t, open(t, 5)) })
	t.Run("OutOfOrderAccepted", func(t *testing.T) { testOutOfOrderAccepted(t, open(t, 5)) })
	t.Run("OutOfOrderRejected", func(t *testing.T) { testOutOfOrderRejected(t, open(t, 5)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, open(t, 2)) })
	t.Run("FlushAll", func(t *testing.T) { testFlushAll(t, open(t, 5)) })
	t.Run("NoTornReads", func(t *testing.T) { testNoTornReads(t, open(t, 50)) })
	t.Run("Close", func(t *testing.T) { testClose(t, newBackend(t, 5)) })
}

func apply(t *testing.T, b backend.Backend, entries []types.Entry) backend.ApplyResult {
	t.Helper()
	res, err := b.Apply(context.Background(), entries, backend.ApplyOptions{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return res
}

func window(t *testing.T, b backend.Backend, from, to time.Time, keys ...types.Key) map[types.Key][]types.Sample {
	t.Helper()
	got, err := b.Windows(context.Background(), keys, from, to)
	if err != nil {
		t.Fatalf("Windows: %v", err)
	}
	return got
}

func testPing(t *testing.T, b backend.Backend) {
	if err := b.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	if b.Name() == "" {
		t.Error("backend should have a name")
	}
}

func testCapacity(t *testing.T, b backend.Backend) {
	if b.Capacity() != 3 {
		t.Fatalf("expected capacity 3, got %d", b.Capacity())
	}

	evicted := 0
	for i, v := range []float64{1, 2, 3, 4} {
		evicted += apply(t, b, Batch(At(i), A, v)).Evicted
	}
	if evicted != 1 {
		t.Errorf("expected 1 eviction, got %d", evicted)
	}

	got := window(t, b, At(-60), At(60), A.Key())[A.Key()]
	if !equal(Values(got), []float64{2, 3, 4}) {
		t.Errorf("expected oldest-first [2 3 4], got %v", Values(got))
	}
}

func testEndToEnd(t *testing.T, b backend.Backend) {
	apply(t, b, Batch(At(0), A, 1.0, B, 2.0))
	apply(t, b, Batch(At(1), A, 1.1, B, 2.1))

	got := window(t, b, At(-60), At(300), A.Key(), B.Key())

	wantTimes := []time.Time{At(0), At(1)}
	for key, want := range map[types.Key][]float64{
		A.Key(): {1.0, 1.1},
		B.Key(): {2.0, 2.1},
	} {
		samples := got[key]
		if !equal(Values(samples), want) {
			t.Errorf("%s: expected %v, got %v", key, want, Values(samples))
			continue
		}
		for i, s := range samples {
			if !s.Timestamp.Equal(wantTimes[i]) {
				t.Errorf("%s[%d]: expected %v, got %v", key, i, wantTimes[i], s.Timestamp)
			}
			if s.Timestamp.Location() != time.UTC {
				t.Errorf("%s[%d]: timestamp not in UTC", key, i)
			}
		}
	}
}

func testRange(t *testing.T, b backend.Backend) {
	for i := 0; i < 7; i++ {
		apply(t, b, Batch(At(i), A, float64(i)))
	}

	tests := []struct {
		start, stop int
		want        []float64
	}{
		{0, -1, []float64{6, 5, 4, 3, 2}},
		{0, 0, []float64{6}},
		{1, 2, []float64{5, 4}},
		{-2, -1, []float64{3, 2}},
		{3, 100, []float64{3, 2}},
		{4, 1, []float64{}},
	}
	for _, tt := range tests {
		got, err := b.Range(context.Background(), A.Key(), tt.start, tt.stop)
		if err != nil {
			t.Fatalf("Range(%d, %d): %v", tt.start, tt.stop, err)
		}
		if !equal(Values(got), tt.want) {
			t.Errorf("Range(%d, %d) = %v, want %v", tt.start, tt.stop, Values(got), tt.want)
		}
	}

	got, err := b.Range(context.Background(), B.Key(), 0, -1)
	if err != nil || got == nil || len(got) != 0 {
		t.Errorf("range of unknown key should be empty, got %v, %v", got, err)
	}
}

func testHeads(t *testing.T, b backend.Backend) {
	apply(t, b, Batch(At(0), A, 1.0, B, 2.0))
	apply(t, b, Batch(At(1), A, 1.5))

	heads, err := b.Heads(context.Background(), []types.Key{A.Key(), B.Key(), G.Key()})
	if err != nil {
		t.Fatalf("Heads: %v", err)
	}
	if heads[A.Key()].Value != 1.5 || !heads[A.Key()].Timestamp.Equal(At(1)) {
		t.Errorf("unexpected head of A: %+v", heads[A.Key()])
	}
	if heads[B.Key()].Value != 2.0 {
		t.Errorf("unexpected head of B: %+v", heads[B.Key()])
	}
	if _, ok := heads[G.Key()]; ok {
		t.Error("empty channel should have no head")
	}
}

func testEmptyWindow(t *testing.T, b backend.Backend) {
	apply(t, b, Batch(At(0), A, 1.0))

	got := window(t, b, At(10), At(20), A.Key(), G.Key())
	for _, key := range []types.Key{A.Key(), G.Key()} {
		samples, ok := got[key]
		if !ok || samples == nil {
			t.Errorf("%s: expected an empty slice, got nil", key)
		}
		if len(samples) != 0 {
			t.Errorf("%s: expected no samples, got %v", key, Values(samples))
		}
	}
}

func testOutOfOrderAccepted(t *testing.T, b backend.Backend) {
	apply(t, b, Batch(At(10), A, 1.0, B, 1.0))
	res := apply(t, b, Batch(At(5), A, 2.0, B, 2.0))

	if len(res.OutOfOrder) != 2 {
		t.Fatalf("expected both channels flagged, got %v", res.OutOfOrder)
	}

	// Pushed anyway: the late sample is the new head.
	got, err := b.Range(context.Background(), A.Key(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !equal(Values(got), []float64{2}) {
		t.Errorf("expected head 2, got %v", Values(got))
	}

	win := window(t, b, At(0), At(20), A.Key())[A.Key()]
	if len(win) != 2 {
		t.Errorf("window should still find both samples, got %v", Values(win))
	}
}

func testOutOfOrderRejected(t *testing.T, b backend.Backend) {
	apply(t, b, Batch(At(10), A, 1.0))

	_, err := b.Apply(context.Background(), Batch(At(20), B, 9.0, A, 2.0), backend.ApplyOptions{}) // in order
	if err != nil {
		t.Fatal(err)
	}

	_, err = b.Apply(context.Background(), Batch(At(15), B, 3.0, A, 3.0), backend.ApplyOptions{RejectOutOfOrder: true})
	if !errors.Is(err, errors.ErrOutOfOrderSample) {
		t.Fatalf("expected ErrOutOfOrderSample, got %v", err)
	}

	got := window(t, b, At(0), At(60), A.Key(), B.Key())
	if !equal(Values(got[A.Key()]), []float64{1, 2}) {
		t.Errorf("rejected batch touched A: %v", Values(got[A.Key()]))
	}
	if !equal(Values(got[B.Key()]), []float64{9}) {
		t.Errorf("rejected batch touched B: %v", Values(got[B.Key()]))
	}
}

func testStats(t *testing.T, b backend.Backend) {
	for i := 0; i < 3; i++ {
		apply(t, b, Batch(At(i), A, 1.0, G, 1.0))
	}

	st, err := b.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Keys != 2 {
		t.Errorf("expected 2 keys, got %d", st.Keys)
	}
	if st.Samples != 4 {
		t.Errorf("expected 4 samples (bounded), got %d", st.Samples)
	}
	if st.Capacity != 2 {
		t.Errorf("expected capacity 2, got %d", st.Capacity)
	}
	if st.Backend != b.Name() {
		t.Errorf("expected backend name %q, got %q", b.Name(), st.Backend)
	}
}

func testFlushAll(t *testing.T, b backend.Backend) {
	apply(t, b, Batch(At(0), A, 1.0, B, 2.0))

	if err := b.FlushAll(context.Background()); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}

	got := window(t, b, At(-60), At(60), A.Key(), B.Key())
	if len(got[A.Key()]) != 0 || len(got[B.Key()]) != 0 {
		t.Errorf("expected empty store after flush, got %v", got)
	}

	// Writable again afterwards.
	apply(t, b, Batch(At(1), A, 3.0))
	got = window(t, b, At(-60), At(60), A.Key())
	if !equal(Values(got[A.Key()]), []float64{3}) {
		t.Errorf("expected [3] after flush and write, got %v", Values(got[A.Key()]))
	}
}

// testNoTornReads writes batches {A: i, B: i} while readers check that both
// channels always hold the same number of samples and the same head.
func testNoTornReads(t *testing.T, b backend.Backend) {
	const batches = 200

	ctx := context.Background()
	done := make(chan struct{})
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				got, err := b.Windows(ctx, []types.Key{A.Key(), B.Key()}, At(-1), At(batches+1))
				if err != nil {
					t.Errorf("Windows: %v", err)
					return
				}
				a, bb := got[A.Key()], got[B.Key()]
				if len(a) != len(bb) {
					t.Errorf("torn read: len(A)=%d len(B)=%d", len(a), len(bb))
					return
				}
				if n := len(a); n > 0 && a[n-1].Value != bb[n-1].Value {
					t.Errorf("torn read: A head %v, B head %v", a[n-1].Value, bb[n-1].Value)
					return
				}
			}
		}()
	}

	for i := 0; i < batches; i++ {
		if _, err := b.Apply(ctx, Batch(At(i), A, float64(i), B, float64(i)), backend.ApplyOptions{}); err != nil {
			t.Errorf("Apply %d: %v", i, err)
			break
		}
	}
	close(done)
	wg.Wait()
}

func testClose(t *testing.T, b backend.Backend) {
	apply(t, b, Batch(At(0), A, 1.0))

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	ctx := context.Background()
	if err := b.Ping(ctx); !errors.IsUnavailable(err) {
		t.Errorf("Ping after close: expected unavailable, got %v", err)
	}
	if _, err := b.Apply(ctx, Batch(At(1), A, 2.0), backend.ApplyOptions{}); !errors.Is(err, errors.ErrStoreUnavailable) {
		t.Errorf("Apply after close: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := b.Windows(ctx, []types.Key{A.Key()}, At(-1), At(1)); !errors.Is(err, errors.ErrStoreUnavailable) {
		t.Errorf("Windows after close: expected ErrStoreUnavailable, got %v", err)
	}
}
