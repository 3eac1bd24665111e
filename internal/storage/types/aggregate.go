package types

import "time"

// Summary holds statistics of one channel over a time window.
type Summary struct {
	Channel string
	From    time.Time
	To      time.Time

	Count int64
	Min   float64
	Max   float64
	Mean  float64

	// Percentiles, nil when the window is empty or sketches are disabled.
	P50 *float64
	P90 *float64
	P99 *float64

	// Timestamps of the first and last sample inside the window.
	First time.Time
	Last  time.Time
}

// SetPercentiles sets the percentile values.
func (s *Summary) SetPercentiles(p50, p90, p99 float64) {
	s.P50 = &p50
	s.P90 = &p90
	s.P99 = &p99
}

// HasPercentiles returns true if percentile values are set.
func (s *Summary) HasPercentiles() bool {
	return s.P50 != nil
}

// Span returns the time covered by the samples of the window.
func (s *Summary) Span() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Last.Sub(s.First)
}
