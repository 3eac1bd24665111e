package config

import (
	"fmt"
	"time"
)

// Requirements represents calculated resource requirements of the store.
type Requirements struct {
	Channels int

	// Samples held when every ring is full.
	MaxSamples int64

	// Memory requirements
	RingBytes     int64
	SketchBytes   int64
	TotalRAMBytes int64

	// History covered by a full ring at the given sample period.
	History time.Duration
}

// Constants for calculations
const (
	// Bytes per sample in a ring (time.Time + float64).
	bytesPerSample = 32

	// Bytes per ring header and map entry.
	bytesPerRing = 128

	// Rough size of one DDSketch built for a summary.
	bytesPerSketch = 2048
)

// CalculateRequirements computes resource requirements for a channel count
// and the expected period between two scans.
func (c *Config) CalculateRequirements(channels int, period time.Duration) Requirements {
	r := Requirements{Channels: channels}

	r.MaxSamples = int64(channels) * int64(c.BufferLen)
	r.RingBytes = r.MaxSamples*bytesPerSample + int64(channels)*bytesPerRing

	if c.Query.Percentile.Enabled {
		r.SketchBytes = int64(channels) * bytesPerSketch
	}

	r.TotalRAMBytes = r.RingBytes + r.SketchBytes
	r.History = time.Duration(c.BufferLen) * period

	return r
}

// String returns a one-line summary suitable for logging.
func (r Requirements) String() string {
	return fmt.Sprintf("channels=%d samples=%d ram=%s history=%s",
		r.Channels, r.MaxSamples, FormatBytes(r.TotalRAMBytes), r.History)
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1fGB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1fMB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1fKB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}
