package catalog

import (
	"testing"
	"time"

	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

func TestDefaultCatalog(t *testing.T) {
	c := MustDefault()

	if got := len(c.Channels()); got != 12 {
		t.Errorf("expected 12 channels, got %d", got)
	}

	ch, err := c.Resolve("HV_Extractor")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ch.Key() != "psu:HV_Extractor" {
		t.Errorf("unexpected key %q", ch.Key())
	}
	if ch.Key().FieldKey(types.FieldTime) != "psu:HV_Extractor:t" {
		t.Errorf("unexpected time key %q", ch.Key().FieldKey(types.FieldTime))
	}

	g, err := c.Resolve("EBIS_Gun_Penning")
	if err != nil {
		t.Fatal(err)
	}
	if g.Group != "gauge" {
		t.Errorf("expected gauge group, got %q", g.Group)
	}
}

func TestResolve_Unknown(t *testing.T) {
	c := MustDefault()

	_, err := c.Resolve("doesNotExist")
	if !errors.Is(err, errors.ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}

	_, err = c.ResolveAll([]string{"HV_GunBias", "doesNotExist"})
	if !errors.Is(err, errors.ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel from ResolveAll, got %v", err)
	}
}

func TestDevice_Classification(t *testing.T) {
	c := MustDefault()

	tests := []struct {
		parameter string
		want      string
	}{
		{"TwinEBIS_cRIO_HV/PSU_all_values#I_read", "hv"},
		{"TwinEBIS_cRIO_Gun/PSU_all_values#I_read", "gun"},
		{"TwinEBIS_cRIO_Gun/Other#I_read", "gun"},
		{"TwinEBIS_cRIO_HV/Other#I_read", "hv"},
		{"gauges", "gauges"},
	}
	for _, tt := range tests {
		d, err := c.Device(tt.parameter)
		if err != nil {
			t.Errorf("Device(%q): %v", tt.parameter, err)
			continue
		}
		if d.Name != tt.want {
			t.Errorf("Device(%q) = %s, want %s", tt.parameter, d.Name, tt.want)
		}
	}

	if _, err := c.Device("Somewhere/Else"); !errors.Is(err, errors.ErrUnknownDevice) {
		t.Errorf("expected ErrUnknownDevice, got %v", err)
	}
}

func TestDevice_Map(t *testing.T) {
	c := MustDefault()
	d, err := c.Device("gun")
	if err != nil {
		t.Fatal(err)
	}
	if d.Width() != 6 {
		t.Fatalf("expected width 6, got %d", d.Width())
	}

	ts := time.Date(2024, 3, 1, 11, 0, 0, 0, time.FixedZone("CET", 3600))
	b, err := d.Map([]float64{0, 1, 2, 3, 4, 5, 99}, ts)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if b.Device != "gun" || b.Len() != 6 {
		t.Fatalf("unexpected batch %+v", b)
	}
	for i, e := range b.Entries {
		if e.Sample.Value != float64(i) {
			t.Errorf("entry %d: expected value %d, got %v", i, i, e.Sample.Value)
		}
		if !e.Sample.Timestamp.Equal(ts) || e.Sample.Timestamp.Location() != time.UTC {
			t.Errorf("entry %d: expected %v in UTC, got %v", i, ts, e.Sample.Timestamp)
		}
	}
	if b.Entries[5].Channel.Name != "GUN_Extractor" {
		t.Errorf("unexpected last channel %v", b.Entries[5].Channel)
	}

	if _, err := d.Map([]float64{1, 2, 3}, ts); !errors.Is(err, errors.ErrInvalidBatch) {
		t.Errorf("short value array: expected ErrInvalidBatch, got %v", err)
	}
}

func TestDevice_MapSparseIndices(t *testing.T) {
	c, err := New(Config{Devices: []DeviceConfig{{
		Name:  "crate",
		Group: "psu",
		Channels: []ChannelConfig{
			{Name: "second", Index: 3},
			{Name: "first", Index: 1},
		},
	}}})
	if err != nil {
		t.Fatal(err)
	}

	d, _ := c.Device("crate")
	b, err := d.Map([]float64{10, 11, 12, 13}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if b.Entries[0].Channel.Name != "first" || b.Entries[0].Sample.Value != 11 {
		t.Errorf("unexpected first entry %+v", b.Entries[0])
	}
	if b.Entries[1].Channel.Name != "second" || b.Entries[1].Sample.Value != 13 {
		t.Errorf("unexpected second entry %+v", b.Entries[1])
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{Devices: []DeviceConfig{{
			Name: "d", Group: "psu",
			Channels: []ChannelConfig{{Name: "a", Index: 0}},
		}}}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no devices", func(c *Config) { c.Devices = nil }},
		{"empty device name", func(c *Config) { c.Devices[0].Name = "" }},
		{"empty group", func(c *Config) { c.Devices[0].Group = "" }},
		{"colon in group", func(c *Config) { c.Devices[0].Group = "a:b" }},
		{"no channels", func(c *Config) { c.Devices[0].Channels = nil }},
		{"negative index", func(c *Config) { c.Devices[0].Channels[0].Index = -1 }},
		{"colon in channel", func(c *Config) { c.Devices[0].Channels[0].Name = "x:y" }},
		{"space in channel", func(c *Config) { c.Devices[0].Channels[0].Name = "HV Gun" }},
		{"dot in device", func(c *Config) { c.Devices[0].Name = "hv.crate" }},
		{"duplicate index", func(c *Config) {
			c.Devices[0].Channels = append(c.Devices[0].Channels, ChannelConfig{Name: "b", Index: 0})
		}},
		{"duplicate channel across devices", func(c *Config) {
			c.Devices = append(c.Devices, DeviceConfig{
				Name: "e", Group: "gauge",
				Channels: []ChannelConfig{{Name: "a", Index: 0}},
			})
		}},
		{"duplicate device", func(c *Config) {
			c.Devices = append(c.Devices, DeviceConfig{
				Name: "d", Group: "gauge",
				Channels: []ChannelConfig{{Name: "z", Index: 0}},
			})
		}},
	}

	base := valid()
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, errors.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if _, err := New(cfg); err == nil {
				t.Error("New should reject an invalid config")
			}
		})
	}
}

func TestCatalog_Contains(t *testing.T) {
	c := MustDefault()

	if !c.Contains(types.Channel{Name: "GUN_Anode", Group: "psu"}) {
		t.Error("declared channel not found")
	}
	if c.Contains(types.Channel{Name: "GUN_Anode", Group: "gauge"}) {
		t.Error("channel with wrong group should not match")
	}
}
