package types

import (
	"math"
	"strings"
	"time"
)

// Sample is one reading of a channel.
// Timestamps are always held in UTC.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// NewSample creates a sample, normalising the timestamp to UTC.
func NewSample(ts time.Time, value float64) Sample {
	return Sample{Timestamp: ts.UTC(), Value: value}
}

// TimestampMs returns the timestamp as Unix milliseconds.
func (s Sample) TimestampMs() int64 {
	return s.Timestamp.UnixMilli()
}

// ISOTime returns the timestamp in RFC 3339 form with millisecond precision.
func (s Sample) ISOTime() string {
	return s.Timestamp.UTC().Format(ISOLayout)
}

// Finite reports whether the value is neither NaN nor infinite.
func (s Sample) Finite() bool {
	return !math.IsNaN(s.Value) && !math.IsInf(s.Value, 0)
}

// ISOLayout is the timestamp layout used on the wire and in exports.
const ISOLayout = "2006-01-02T15:04:05.000Z07:00"

// Field names one of the two sequences stored per channel.
type Field string

const (
	// FieldValue holds the readings.
	FieldValue Field = "val"
	// FieldTime holds the timestamps.
	FieldTime Field = "t"
)

// Key addresses one channel in the backing store: "{group}:{name}".
type Key string

// FieldKey returns the key of one of the channel's sequences,
// e.g. "psu:HV_Extractor:val".
func (k Key) FieldKey(f Field) string {
	return string(k) + ":" + string(f)
}

// Split returns the group and name parts of the key.
func (k Key) Split() (group, name string) {
	g, n, ok := strings.Cut(string(k), ":")
	if !ok {
		return "", string(k)
	}
	return g, n
}

// Channel identifies one measurement series.
type Channel struct {
	Name  string // e.g. "HV_Extractor"
	Group string // key namespace, e.g. "psu" or "gauge"
}

// Key returns the storage key of the channel.
func (c Channel) Key() Key {
	return Key(c.Group + ":" + c.Name)
}

// String returns the channel's storage key.
func (c Channel) String() string {
	return string(c.Key())
}

// Entry pairs a channel with the sample it received in a batch.
type Entry struct {
	Channel Channel
	Sample  Sample
}

// Batch is the set of readings captured by one hardware scan. It is built
// from one feed event, consumed by one atomic write and then discarded.
type Batch struct {
	Device  string
	Entries []Entry
}

// NewBatch creates a batch with the given capacity.
func NewBatch(device string, capacity int) *Batch {
	return &Batch{
		Device:  device,
		Entries: make([]Entry, 0, capacity),
	}
}

// Add appends a reading to the batch.
func (b *Batch) Add(ch Channel, s Sample) {
	b.Entries = append(b.Entries, Entry{Channel: ch, Sample: s})
}

// Len returns the number of readings in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Entries)
}

// Channels returns the channels of the batch in insertion order.
func (b *Batch) Channels() []Channel {
	out := make([]Channel, len(b.Entries))
	for i, e := range b.Entries {
		out[i] = e.Channel
	}
	return out
}

// Window is a read result: per channel name, samples oldest-first.
type Window map[string][]Sample
