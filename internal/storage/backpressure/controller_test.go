package backpressure

import (
	"testing"
	"time"

	"github.com/xtxerr/ebismon/internal/storage/config"
)

type fakeGauge struct{ usage float64 }

func (g *fakeGauge) UsageRatio() float64 { return g.usage }

func testConfig() config.PressureConfig {
	cfg := config.DefaultConfig().Ingestion.Pressure
	cfg.Enabled = true
	cfg.Thresholds.Warning = 0.50
	cfg.Thresholds.Critical = 0.80
	cfg.Thresholds.Emergency = 0.95
	cfg.Recovery.Hysteresis = 0.10
	cfg.Recovery.Cooldown = 0
	return cfg
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelNormal, "normal"},
		{LevelWarning, "warning"},
		{LevelCritical, "critical"},
		{LevelEmergency, "emergency"},
		{Level(42), "unknown"},
	}

	for _, tt := range tests {
		if tt.level.String() != tt.expected {
			t.Errorf("level %d: expected %s, got %s", tt.level, tt.expected, tt.level.String())
		}
	}
}

func TestController_New(t *testing.T) {
	c := New(testConfig(), &fakeGauge{})

	if c.CurrentLevel() != LevelNormal {
		t.Errorf("expected initial level normal, got %s", c.CurrentLevel())
	}
	if c.ShouldDrop() {
		t.Error("should not drop at normal level")
	}
}

func TestController_Check(t *testing.T) {
	g := &fakeGauge{}
	c := New(testConfig(), g)

	steps := []struct {
		usage float64
		want  Level
	}{
		{0.10, LevelNormal},
		{0.50, LevelWarning},
		{0.80, LevelCritical},
		{0.96, LevelEmergency},
		{0.90, LevelEmergency}, // within hysteresis
		{0.84, LevelCritical},  // one step down
		{0.10, LevelWarning},   // one step per check
		{0.10, LevelNormal},
		{0.99, LevelEmergency}, // straight up
	}

	for i, s := range steps {
		g.usage = s.usage
		if got := c.Check(); got != s.want {
			t.Fatalf("step %d (usage %.2f): expected %s, got %s", i, s.usage, s.want, got)
		}
	}

	if !c.ShouldDrop() {
		t.Error("should drop at emergency level")
	}

	stats := c.Stats()
	if stats.EmergencyCount != 2 {
		t.Errorf("expected 2 emergency transitions, got %d", stats.EmergencyCount)
	}
	if stats.LevelChanges != 7 {
		t.Errorf("expected 7 level changes, got %d", stats.LevelChanges)
	}
}

func TestController_Cooldown(t *testing.T) {
	g := &fakeGauge{}
	cfg := testConfig()
	cfg.Recovery.Cooldown = time.Minute
	c := New(cfg, g)

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	g.usage = 0.85
	if got := c.Check(); got != LevelCritical {
		t.Fatalf("expected critical, got %s", got)
	}

	// Pressure gone, but cooldown still running.
	g.usage = 0
	now = now.Add(30 * time.Second)
	if got := c.Check(); got != LevelCritical {
		t.Errorf("expected critical during cooldown, got %s", got)
	}

	now = now.Add(31 * time.Second)
	if got := c.Check(); got != LevelWarning {
		t.Errorf("expected warning after cooldown, got %s", got)
	}
}

func TestController_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	c := New(cfg, GaugeFunc(func() float64 { return 1 }))

	if got := c.Check(); got != LevelNormal {
		t.Errorf("disabled controller should stay normal, got %s", got)
	}
	if c.IsEnabled() {
		t.Error("expected disabled")
	}
}

func TestController_OnLevelChange(t *testing.T) {
	g := &fakeGauge{}
	c := New(testConfig(), g)

	var changes [][2]Level
	c.SetOnLevelChange(func(old, new Level) {
		changes = append(changes, [2]Level{old, new})
	})

	g.usage = 0.6
	c.Check()
	c.Check()
	g.usage = 0.97
	c.Check()

	if len(changes) != 2 {
		t.Fatalf("expected 2 callbacks, got %v", changes)
	}
	if changes[1] != [2]Level{LevelWarning, LevelEmergency} {
		t.Errorf("unexpected second change %v", changes[1])
	}
}

func TestController_RecordDrop(t *testing.T) {
	c := New(testConfig(), &fakeGauge{usage: 0.3})

	c.RecordDrop()
	c.RecordDrop()

	stats := c.Stats()
	if stats.BatchesDropped != 2 {
		t.Errorf("expected 2 drops, got %d", stats.BatchesDropped)
	}
	if stats.QueueUsage != 0.3 {
		t.Errorf("expected usage 0.3, got %v", stats.QueueUsage)
	}
}
