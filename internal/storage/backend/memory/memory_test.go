package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/storage/backend"
	"github.com/xtxerr/ebismon/internal/storage/backend/backendtest"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

var (
	chA = backendtest.A
	chB = backendtest.B
)

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T, capacity int) backend.Backend {
		return New(capacity)
	})
}

func TestNew_DefaultCapacity(t *testing.T) {
	s := New(0)
	if s.Capacity() != 7200 {
		t.Errorf("expected default capacity 7200, got %d", s.Capacity())
	}
}

// TestApply_DelayedWriteNeverTorn stalls every batch between the write of
// A and the write of B. Concurrent readers must see either both or neither.
func TestApply_DelayedWriteNeverTorn(t *testing.T) {
	var stalls atomic.Int64
	s := New(100, WithWriteHook(func(k types.Key) {
		if k == chA.Key() {
			stalls.Add(1)
			time.Sleep(2 * time.Millisecond)
		}
	}))
	defer s.Close()

	ctx := context.Background()
	const batches = 30

	var torn atomic.Int64
	var reads atomic.Int64
	done := make(chan struct{})
	var wg sync.WaitGroup

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				heads, err := s.Heads(ctx, []types.Key{chA.Key(), chB.Key()})
				if err != nil {
					t.Errorf("Heads: %v", err)
					return
				}
				reads.Add(1)
				a, okA := heads[chA.Key()]
				b, okB := heads[chB.Key()]
				if okA != okB || a.Value != b.Value {
					torn.Add(1)
				}
			}
		}()
	}

	for i := 0; i < batches; i++ {
		entries := backendtest.Batch(backendtest.At(i), chA, float64(i), chB, float64(i))
		if _, err := s.Apply(ctx, entries, backend.ApplyOptions{}); err != nil {
			t.Fatalf("Apply: %v", err)
		}
	}
	close(done)
	wg.Wait()

	if stalls.Load() != batches {
		t.Fatalf("write hook ran %d times, want %d", stalls.Load(), batches)
	}
	if reads.Load() == 0 {
		t.Fatal("readers never ran")
	}
	if torn.Load() != 0 {
		t.Errorf("%d of %d reads observed a torn batch", torn.Load(), reads.Load())
	}
}

func TestRead_TimesOutWhileWriterStalls(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})

	s := New(10, WithWriteHook(func(types.Key) {
		close(entered)
		<-release
	}))
	defer s.Close()

	go func() {
		entries := backendtest.Batch(backendtest.At(0), chA, 1.0, chB, 2.0)
		s.Apply(context.Background(), entries, backend.ApplyOptions{})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Windows(ctx, []types.Key{chA.Key()}, backendtest.At(-1), backendtest.At(1))
	if !errors.Is(err, errors.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}

	close(release)

	got, err := s.Windows(context.Background(), []types.Key{chA.Key(), chB.Key()}, backendtest.At(-1), backendtest.At(1))
	if err != nil {
		t.Fatalf("Windows after release: %v", err)
	}
	if len(got[chA.Key()]) != 1 || len(got[chB.Key()]) != 1 {
		t.Errorf("expected the stalled batch to complete, got %v", got)
	}
}

func TestSetAvailable(t *testing.T) {
	s := New(10)
	defer s.Close()
	ctx := context.Background()

	s.SetAvailable(false)

	if err := s.Ping(ctx); !errors.IsUnavailable(err) {
		t.Errorf("Ping: expected unavailable, got %v", err)
	}
	_, err := s.Apply(ctx, backendtest.Batch(backendtest.At(0), chA, 1.0), backend.ApplyOptions{})
	if !errors.Is(err, errors.ErrStoreUnavailable) {
		t.Errorf("Apply: expected ErrStoreUnavailable, got %v", err)
	}

	s.SetAvailable(true)

	if _, err := s.Apply(ctx, backendtest.Batch(backendtest.At(0), chA, 1.0), backend.ApplyOptions{}); err != nil {
		t.Errorf("Apply after reconnect: %v", err)
	}
}

func TestApply_EmptyBatch(t *testing.T) {
	s := New(10)
	defer s.Close()

	_, err := s.Apply(context.Background(), nil, backend.ApplyOptions{})
	if !errors.Is(err, errors.ErrInvalidBatch) {
		t.Errorf("expected ErrInvalidBatch, got %v", err)
	}
}
