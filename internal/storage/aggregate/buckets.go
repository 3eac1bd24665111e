package aggregate

import (
	"time"

	"github.com/xtxerr/ebismon/internal/storage/types"
)

// Options controls how summaries are built.
type Options struct {
	// Percentiles enables DDSketch percentiles.
	Percentiles bool

	// Accuracy is the relative accuracy of the sketches.
	Accuracy float64
}

func (o Options) newAggregate(channel string, from, to time.Time) *Aggregate {
	if o.Percentiles {
		return NewWithAccuracy(channel, from, to, o.Accuracy)
	}
	return New(channel, from, to)
}

// Summarize builds one summary over all samples.
func Summarize(channel string, samples []types.Sample, from, to time.Time, opts Options) types.Summary {
	agg := opts.newAggregate(channel, from, to)
	agg.AddSamples(samples)
	return agg.Summary()
}

// Buckets splits [from, to] into consecutive buckets of the given size,
// aligned on from, and summarizes the samples of each. The last bucket is
// cut at to. Empty buckets are included with Count 0, so the result always
// covers the whole window.
//
// samples must be oldest-first.
func Buckets(channel string, samples []types.Sample, from, to time.Time, size time.Duration, opts Options) []types.Summary {
	if size <= 0 || from.After(to) {
		return []types.Summary{Summarize(channel, samples, from, to, opts)}
	}

	var out []types.Summary
	i := 0
	for start := from; !start.After(to); start = start.Add(size) {
		end := start.Add(size)
		last := !end.Before(to)
		if last {
			end = to
		}

		agg := opts.newAggregate(channel, start, end)
		for ; i < len(samples); i++ {
			ts := samples[i].Timestamp
			if ts.Before(start) {
				continue
			}
			// Buckets are half-open except the last one.
			if ts.After(end) || (!last && ts.Equal(end)) {
				break
			}
			agg.AddSample(samples[i])
		}
		out = append(out, agg.Summary())

		if last {
			break
		}
	}
	return out
}
