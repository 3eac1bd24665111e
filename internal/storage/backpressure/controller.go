// Package backpressure sheds ingestion load when the batch queue fills up.
//
// The Controller turns the queue fill ratio into one of four levels.
// Rising pressure raises the level at once; falling pressure lowers it one
// step at a time, only once the ratio is a hysteresis margin below the
// threshold and the recovery cooldown has passed.
package backpressure

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/ebismon/internal/storage/config"
)

// Level represents the current backpressure level.
type Level int

const (
	// LevelNormal - system operating normally.
	LevelNormal Level = iota

	// LevelWarning - queue filling up, writes lag behind the feed.
	LevelWarning

	// LevelCritical - queue nearly full.
	LevelCritical

	// LevelEmergency - overload, drop batches before they are queued.
	LevelEmergency
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// MarshalText renders the level by name in JSON stats.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Gauge reports how full a queue is, between 0 and 1.
type Gauge interface {
	UsageRatio() float64
}

// GaugeFunc adapts a function to Gauge.
type GaugeFunc func() float64

// UsageRatio implements Gauge.
func (f GaugeFunc) UsageRatio() float64 { return f() }

// Controller manages backpressure based on queue utilization.
type Controller struct {
	mu sync.Mutex

	config config.PressureConfig
	gauge  Gauge

	// Current state
	level      atomic.Int32
	lastChange time.Time

	// Statistics
	stats Stats

	// Level change callback
	onLevelChange func(old, new Level)

	now func() time.Time
}

// Stats holds backpressure statistics.
type Stats struct {
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
	BatchesDropped int64
}

// New creates a new backpressure controller.
func New(cfg config.PressureConfig, gauge Gauge) *Controller {
	return &Controller{
		config: cfg,
		gauge:  gauge,
		now:    time.Now,
	}
}

// SetOnLevelChange sets the callback for level changes. It runs with the
// controller's lock held and must not call back into the controller.
func (c *Controller) SetOnLevelChange(fn func(old, new Level)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLevelChange = fn
}

// Check evaluates current conditions and updates the level.
// This should be called periodically.
func (c *Controller) Check() Level {
	if !c.config.Enabled {
		return LevelNormal
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current := Level(c.level.Load())
	next := c.determineLevel(current, c.gauge.UsageRatio())

	if next < current && c.now().Sub(c.lastChange) < c.config.Recovery.Cooldown {
		return current
	}

	if next != current {
		c.setLevel(current, next)
	}
	return next
}

// determineLevel determines the backpressure level based on usage.
func (c *Controller) determineLevel(current Level, usage float64) Level {
	t := c.config.Thresholds
	h := c.config.Recovery.Hysteresis

	raw := LevelNormal
	switch {
	case usage >= t.Emergency:
		raw = LevelEmergency
	case usage >= t.Critical:
		raw = LevelCritical
	case usage >= t.Warning:
		raw = LevelWarning
	}

	if raw >= current {
		return raw
	}

	// Going down: one step, with hysteresis.
	switch current {
	case LevelEmergency:
		if usage < t.Emergency-h {
			return LevelCritical
		}
	case LevelCritical:
		if usage < t.Critical-h {
			return LevelWarning
		}
	case LevelWarning:
		if usage < t.Warning-h {
			return LevelNormal
		}
	}
	return current
}

// setLevel updates the current level and fires callback.
func (c *Controller) setLevel(oldLevel, newLevel Level) {
	c.level.Store(int32(newLevel))
	c.lastChange = c.now()
	c.stats.LevelChanges++

	switch newLevel {
	case LevelWarning:
		c.stats.WarningCount++
	case LevelCritical:
		c.stats.CriticalCount++
	case LevelEmergency:
		c.stats.EmergencyCount++
	}

	if c.onLevelChange != nil {
		c.onLevelChange(oldLevel, newLevel)
	}
}

// CurrentLevel returns the current backpressure level.
func (c *Controller) CurrentLevel() Level {
	return Level(c.level.Load())
}

// ShouldDrop returns true if new batches should be dropped.
func (c *Controller) ShouldDrop() bool {
	return c.CurrentLevel() == LevelEmergency
}

// RecordDrop records that a batch was dropped.
func (c *Controller) RecordDrop() {
	c.mu.Lock()
	c.stats.BatchesDropped++
	c.mu.Unlock()
}

// Stats returns current statistics.
func (c *Controller) Stats() ControllerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ControllerStats{
		CurrentLevel:   c.CurrentLevel(),
		LevelChanges:   c.stats.LevelChanges,
		WarningCount:   c.stats.WarningCount,
		CriticalCount:  c.stats.CriticalCount,
		EmergencyCount: c.stats.EmergencyCount,
		BatchesDropped: c.stats.BatchesDropped,
		QueueUsage:     c.gauge.UsageRatio(),
	}
}

// ControllerStats holds controller statistics.
type ControllerStats struct {
	CurrentLevel   Level   `json:"level"`
	LevelChanges   int64   `json:"level_changes"`
	WarningCount   int64   `json:"warning_count"`
	CriticalCount  int64   `json:"critical_count"`
	EmergencyCount int64   `json:"emergency_count"`
	BatchesDropped int64   `json:"batches_dropped"`
	QueueUsage     float64 `json:"queue_usage"`
}

// IsEnabled returns whether backpressure is enabled.
func (c *Controller) IsEnabled() bool {
	return c.config.Enabled
}
