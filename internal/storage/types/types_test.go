package types

import (
	"math"
	"testing"
	"time"
)

func TestChannelKey(t *testing.T) {
	ch := Channel{Name: "HV_Extractor", Group: "psu"}

	if ch.Key() != "psu:HV_Extractor" {
		t.Errorf("expected psu:HV_Extractor, got %s", ch.Key())
	}

	if got := ch.Key().FieldKey(FieldValue); got != "psu:HV_Extractor:val" {
		t.Errorf("expected value key psu:HV_Extractor:val, got %s", got)
	}
	if got := ch.Key().FieldKey(FieldTime); got != "psu:HV_Extractor:t" {
		t.Errorf("expected time key psu:HV_Extractor:t, got %s", got)
	}

	group, name := ch.Key().Split()
	if group != "psu" || name != "HV_Extractor" {
		t.Errorf("split: got (%s, %s)", group, name)
	}
}

func TestNewSampleNormalisesToUTC(t *testing.T) {
	zurich := time.FixedZone("CET", 3600)
	ts := time.Date(2024, 3, 1, 11, 0, 0, 0, zurich)

	s := NewSample(ts, 1.5)

	if s.Timestamp.Location() != time.UTC {
		t.Errorf("expected UTC location, got %v", s.Timestamp.Location())
	}
	if !s.Timestamp.Equal(ts) {
		t.Errorf("instant changed: %v != %v", s.Timestamp, ts)
	}
	if s.ISOTime() != "2024-03-01T10:00:00.000Z" {
		t.Errorf("unexpected ISO time %s", s.ISOTime())
	}
}

func TestSampleFinite(t *testing.T) {
	tests := []struct {
		value float64
		want  bool
	}{
		{1.0, true},
		{0, true},
		{math.NaN(), false},
		{math.Inf(1), false},
		{math.Inf(-1), false},
	}

	for _, tt := range tests {
		if got := (Sample{Value: tt.value}).Finite(); got != tt.want {
			t.Errorf("Finite(%v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestBatch(t *testing.T) {
	batch := NewBatch("hv", 2)

	if batch.Len() != 0 {
		t.Errorf("expected empty batch")
	}

	now := time.Now()
	batch.Add(Channel{Name: "a", Group: "psu"}, NewSample(now, 1))
	batch.Add(Channel{Name: "b", Group: "psu"}, NewSample(now, 2))

	if batch.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", batch.Len())
	}

	chans := batch.Channels()
	if chans[0].Name != "a" || chans[1].Name != "b" {
		t.Errorf("channels out of insertion order: %v", chans)
	}

	var nilBatch *Batch
	if nilBatch.Len() != 0 {
		t.Errorf("nil batch should have length 0")
	}
}

func TestSummaryPercentiles(t *testing.T) {
	var s Summary
	if s.HasPercentiles() {
		t.Error("new summary should not have percentiles")
	}

	s.SetPercentiles(1, 2, 3)
	if !s.HasPercentiles() || *s.P90 != 2 {
		t.Errorf("percentiles not set: %+v", s)
	}
}
