// Package buffer implements the per-channel bounded sample sequence.
//
// A RingBuffer holds the most recent Cap() samples of one channel. The
// logical order is newest-first: index 0 is the most recent sample, index
// Len()-1 the oldest. Push prepends and evicts the oldest sample once the
// capacity is exceeded, so a buffer never holds more than Cap() samples.
package buffer

import (
	"sort"
	"time"

	"github.com/xtxerr/ebismon/config"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

// RingBuffer is a fixed-capacity circular sequence of samples.
//
// RingBuffer is not safe for concurrent use. The backing store that owns a
// buffer serialises access to it; that same lock is what makes a batch
// across several buffers atomic.
type RingBuffer struct {
	data     []types.Sample
	head     int // next write position
	count    int
	capacity int

	// pushes counts every Push; the n-th pushed sample has sequence n.
	pushes int64
	// disorderedAt is the sequence of the latest sample that arrived older
	// than the head it was pushed onto, 0 if none.
	disorderedAt int64

	// Statistics
	evictions  int64
	outOfOrder int64
}

// PushResult describes what a push did besides storing the sample.
type PushResult struct {
	// Evicted is true if the oldest sample was dropped to make room.
	Evicted bool
	// OutOfOrder is true if the sample is older than the previous head.
	OutOfOrder bool
}

// New creates a new RingBuffer with the given capacity.
func New(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = config.DefaultBufferLen
	}
	return &RingBuffer{
		data:     make([]types.Sample, capacity),
		capacity: capacity,
	}
}

// Push prepends a sample, evicting the oldest one if the buffer is full.
// Existing entries are never modified.
func (rb *RingBuffer) Push(s types.Sample) PushResult {
	var res PushResult

	if rb.count > 0 {
		if s.Timestamp.Before(rb.at(0).Timestamp) {
			res.OutOfOrder = true
		}
	}

	if rb.count == rb.capacity {
		res.Evicted = true
		rb.evictions++
	} else {
		rb.count++
	}

	rb.data[rb.head] = s
	rb.head = (rb.head + 1) % rb.capacity
	rb.pushes++

	if res.OutOfOrder {
		rb.outOfOrder++
		rb.disorderedAt = rb.pushes
	}

	return res
}

// at returns the sample at newest-first index i. i must be in [0, count).
func (rb *RingBuffer) at(i int) types.Sample {
	idx := (rb.head - 1 - i) % rb.capacity
	if idx < 0 {
		idx += rb.capacity
	}
	return rb.data[idx]
}

// oldest returns the sample at oldest-first index j.
func (rb *RingBuffer) oldest(j int) types.Sample {
	return rb.at(rb.count - 1 - j)
}

// Head returns the newest sample.
// Returns false if the buffer is empty.
func (rb *RingBuffer) Head() (types.Sample, bool) {
	if rb.count == 0 {
		return types.Sample{}, false
	}
	return rb.at(0), true
}

// Tail returns the oldest sample.
// Returns false if the buffer is empty.
func (rb *RingBuffer) Tail() (types.Sample, bool) {
	if rb.count == 0 {
		return types.Sample{}, false
	}
	return rb.at(rb.count - 1), true
}

// Len returns the current number of samples in the buffer.
func (rb *RingBuffer) Len() int {
	return rb.count
}

// Cap returns the capacity of the buffer.
func (rb *RingBuffer) Cap() int {
	return rb.capacity
}

// IsEmpty returns true if the buffer is empty.
func (rb *RingBuffer) IsEmpty() bool {
	return rb.count == 0
}

// IsFull returns true if the next push will evict.
func (rb *RingBuffer) IsFull() bool {
	return rb.count == rb.capacity
}

// Range returns a copy of the newest-first index range [start, stop].
//
// Both bounds are inclusive. Negative indices count from the oldest end,
// -1 being the oldest sample. Out-of-range bounds are clamped; an empty
// range yields an empty slice.
func (rb *RingBuffer) Range(start, stop int) []types.Sample {
	lo, hi, ok := ClampRange(rb.count, start, stop)
	if !ok {
		return []types.Sample{}
	}

	out := make([]types.Sample, hi-lo+1)
	for i := range out {
		out[i] = rb.at(lo + i)
	}
	return out
}

// ClampRange resolves list-range bounds against a sequence of n elements.
// It returns the inclusive index range [lo, hi], or ok=false if empty.
func ClampRange(n, start, stop int) (lo, hi int, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

// Samples returns all samples, oldest-first.
func (rb *RingBuffer) Samples() []types.Sample {
	out := make([]types.Sample, rb.count)
	for j := range out {
		out[j] = rb.oldest(j)
	}
	return out
}

// Ordered reports whether the retained timestamps are non-decreasing from
// oldest to newest.
func (rb *RingBuffer) Ordered() bool {
	if rb.disorderedAt == 0 {
		return true
	}
	// The violation sits between samples disorderedAt-1 and disorderedAt.
	// It is gone once the earlier of the two has been evicted.
	oldestSeq := rb.pushes - int64(rb.count) + 1
	return oldestSeq >= rb.disorderedAt
}

// Window returns the samples with from <= timestamp <= to, oldest-first.
//
// When the buffer is ordered the bounds are located by binary search;
// otherwise every sample is checked.
func (rb *RingBuffer) Window(from, to time.Time) []types.Sample {
	if rb.count == 0 || from.After(to) {
		return []types.Sample{}
	}

	if !rb.Ordered() {
		return rb.scan(from, to)
	}

	lo := sort.Search(rb.count, func(j int) bool {
		return !rb.oldest(j).Timestamp.Before(from)
	})
	hi := sort.Search(rb.count, func(j int) bool {
		return rb.oldest(j).Timestamp.After(to)
	})
	if lo >= hi {
		return []types.Sample{}
	}

	out := make([]types.Sample, hi-lo)
	for j := range out {
		out[j] = rb.oldest(lo + j)
	}
	return out
}

// scan is the linear fallback of Window.
func (rb *RingBuffer) scan(from, to time.Time) []types.Sample {
	out := []types.Sample{}
	for j := 0; j < rb.count; j++ {
		s := rb.oldest(j)
		if s.Timestamp.Before(from) || s.Timestamp.After(to) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Clear removes all samples from the buffer.
func (rb *RingBuffer) Clear() {
	for i := range rb.data {
		rb.data[i] = types.Sample{}
	}

	rb.head = 0
	rb.count = 0
	rb.disorderedAt = 0
	rb.pushes = 0
}

// TimeRange returns the timestamps of the oldest and newest samples.
// Returns zero times if the buffer is empty.
func (rb *RingBuffer) TimeRange() (oldest, newest time.Time) {
	if rb.count == 0 {
		return time.Time{}, time.Time{}
	}
	return rb.at(rb.count - 1).Timestamp, rb.at(0).Timestamp
}

// Duration returns the time covered by samples in the buffer.
func (rb *RingBuffer) Duration() time.Duration {
	oldest, newest := rb.TimeRange()
	if oldest.IsZero() {
		return 0
	}
	return newest.Sub(oldest)
}

// Stats returns buffer statistics.
func (rb *RingBuffer) Stats() BufferStats {
	return BufferStats{
		Capacity:   rb.capacity,
		Count:      rb.count,
		UsageRatio: float64(rb.count) / float64(rb.capacity),
		PushCount:  rb.pushes,
		EvictCount: rb.evictions,
		OutOfOrder: rb.outOfOrder,
	}
}

// BufferStats holds buffer statistics.
type BufferStats struct {
	Capacity   int
	Count      int
	UsageRatio float64
	PushCount  int64
	EvictCount int64
	OutOfOrder int64
}
