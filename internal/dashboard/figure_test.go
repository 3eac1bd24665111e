package dashboard

import (
	"testing"
	"time"

	"github.com/xtxerr/ebismon/internal/catalog"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

func TestBuildFigure(t *testing.T) {
	zurich, err := time.LoadLocation("Europe/Zurich")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	to := time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)
	from := to.Add(-5 * time.Minute)
	window := types.Window{
		"EBIS_Gun_Penning": {
			types.NewSample(to.Add(-2*time.Second), 2.4e-9),
			types.NewSample(to.Add(-time.Second), 2.5e-9),
		},
		"EBIS_Collector_Penning": {},
	}

	c := DefaultConfig().Categories[1]
	names := []string{"EBIS_Gun_Penning", "EBIS_Collector_Penning"}
	fig := BuildFigure(c, names, window, from, to, zurich)

	if len(fig.Data) != 2 {
		t.Fatalf("expected 2 traces, got %d", len(fig.Data))
	}
	gun := fig.Data[0]
	if gun.Name != "EBIS_Gun_Penning" || len(gun.X) != 2 || gun.Y[1] != 2.5e-9 {
		t.Errorf("gun trace: got %+v", gun)
	}
	// 10:04:58 UTC is 11:04:58 in Zurich in March.
	if gun.X[0] != "2024-03-01T11:04:58.000+01:00" {
		t.Errorf("x value: got %q", gun.X[0])
	}
	if coll := fig.Data[1]; len(coll.X) != 0 || coll.X == nil {
		t.Errorf("empty channel should be an empty trace, got %+v", coll)
	}

	want := []string{"2024-03-01T11:00:00.000+01:00", "2024-03-01T11:05:00.000+01:00"}
	if r := fig.Layout.XAxis.Range; len(r) != 2 || r[0] != want[0] || r[1] != want[1] {
		t.Errorf("x range: got %v, want %v", r, want)
	}
	if fig.Layout.YAxis.Type != "log" || fig.Layout.Template != "plotly_dark" || fig.Layout.UIRevision != 1 {
		t.Errorf("layout: got %+v", fig.Layout)
	}
}

func TestChannelNames(t *testing.T) {
	cat := catalog.MustDefault()

	psu := channelNames(cat, "psu")
	if len(psu) != 10 || psu[0] != "HV_GunBias" || psu[9] != "GUN_Extractor" {
		t.Errorf("psu channels: got %v", psu)
	}
	if got := channelNames(cat, "magnet"); len(got) != 0 {
		t.Errorf("unknown group: got %v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"zero window", func(c *Config) { c.WindowMinutes = 0 }},
		{"bad timezone", func(c *Config) { c.Timezone = "Nowhere/Land" }},
		{"no categories", func(c *Config) { c.Categories = nil }},
		{"duplicate category", func(c *Config) { c.Categories[1].Name = c.Categories[0].Name }},
		{"category without group", func(c *Config) { c.Categories[0].Group = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
