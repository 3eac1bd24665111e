// Package aggregate computes window statistics of a channel: count, min,
// max, mean and, optionally, DDSketch percentiles.
package aggregate

import (
	"math"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/ebismon/internal/storage/types"
)

// Aggregate maintains running statistics of one channel over one window.
// Aggregate is not safe for concurrent use.
type Aggregate struct {
	// Identity
	channel string

	// Window bounds
	from time.Time
	to   time.Time

	// Running statistics
	count   int64
	sum     float64
	min     float64
	max     float64
	firstTs time.Time
	lastTs  time.Time

	// DDSketch for percentiles (nil if disabled)
	sketch *ddsketch.DDSketch
}

// New creates an aggregate without percentiles.
func New(channel string, from, to time.Time) *Aggregate {
	return &Aggregate{
		channel: channel,
		from:    from,
		to:      to,
		min:     math.MaxFloat64,
		max:     -math.MaxFloat64,
	}
}

// NewWithAccuracy creates an aggregate that also tracks percentiles with
// the given relative accuracy (0.01 = 1%).
func NewWithAccuracy(channel string, from, to time.Time, accuracy float64) *Aggregate {
	agg := New(channel, from, to)

	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err == nil {
		agg.sketch = sketch
	}

	return agg
}

// Add adds a value to the aggregate.
func (a *Aggregate) Add(value float64, ts time.Time) {
	a.count++
	a.sum += value

	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}

	if a.firstTs.IsZero() || ts.Before(a.firstTs) {
		a.firstTs = ts
	}
	if ts.After(a.lastTs) {
		a.lastTs = ts
	}

	if a.sketch != nil {
		a.sketch.Add(value)
	}
}

// AddSample adds a sample to the aggregate. Non-finite values are skipped.
func (a *Aggregate) AddSample(s types.Sample) {
	if !s.Finite() {
		return
	}
	a.Add(s.Value, s.Timestamp)
}

// AddSamples adds every sample.
func (a *Aggregate) AddSamples(samples []types.Sample) {
	for _, s := range samples {
		a.AddSample(s)
	}
}

// Count returns the number of samples added.
func (a *Aggregate) Count() int64 {
	return a.count
}

// IsEmpty returns true if no samples have been added.
func (a *Aggregate) IsEmpty() bool {
	return a.count == 0
}

// Summary returns the aggregation result.
func (a *Aggregate) Summary() types.Summary {
	s := types.Summary{
		Channel: a.channel,
		From:    a.from,
		To:      a.to,
		Count:   a.count,
		First:   a.firstTs,
		Last:    a.lastTs,
	}

	if a.count > 0 {
		s.Mean = a.sum / float64(a.count)
		s.Min = a.min
		s.Max = a.max
	}

	if a.sketch != nil && a.count > 0 {
		p50, _ := a.sketch.GetValueAtQuantile(0.50)
		p90, _ := a.sketch.GetValueAtQuantile(0.90)
		p99, _ := a.sketch.GetValueAtQuantile(0.99)
		s.SetPercentiles(p50, p90, p99)
	}

	return s
}

// Merge combines another aggregate of the same channel into this one.
func (a *Aggregate) Merge(other *Aggregate) {
	if other == nil || other.count == 0 {
		return
	}

	a.count += other.count
	a.sum += other.sum

	if other.min < a.min {
		a.min = other.min
	}
	if other.max > a.max {
		a.max = other.max
	}

	if a.firstTs.IsZero() || other.firstTs.Before(a.firstTs) {
		a.firstTs = other.firstTs
	}
	if other.lastTs.After(a.lastTs) {
		a.lastTs = other.lastTs
	}
	if other.from.Before(a.from) {
		a.from = other.from
	}
	if other.to.After(a.to) {
		a.to = other.to
	}

	if a.sketch != nil && other.sketch != nil {
		a.sketch.MergeWith(other.sketch)
	}
}

// Channel returns the channel the aggregate belongs to.
func (a *Aggregate) Channel() string {
	return a.channel
}
