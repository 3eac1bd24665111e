// Package loader handles configuration file loading, validation, and
// conversion into the configurations of the daemon's components.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Processing include directives
//   - Converting feed sections into feed configurations
//   - Watching the file for runtime-reloadable settings
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/ebismon/config"
	"github.com/xtxerr/ebismon/internal/catalog"
	"github.com/xtxerr/ebismon/internal/constants"
	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/feed"
	"github.com/xtxerr/ebismon/internal/logging"
	"github.com/xtxerr/ebismon/internal/validation"
)

var log = logging.Component("loader")

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Process includes (load additional device files)
	baseDir := filepath.Dir(path)
	if err := processIncludes(cfg, baseDir); err != nil {
		return nil, err
	}

	return cfg, nil
}

// processIncludes loads and merges included configuration files.
func processIncludes(cfg *Config, baseDir string) error {
	for _, pattern := range cfg.Include {
		// Resolve relative paths
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(baseDir, pattern)
		}

		// Expand glob pattern
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}

		for _, match := range matches {
			if err := loadInclude(cfg, match); err != nil {
				return fmt.Errorf("load include %q: %w", match, err)
			}
		}
	}

	return nil
}

// include is the part of a configuration an include file may carry.
type include struct {
	Catalog struct {
		Devices []catalog.DeviceConfig `yaml:"devices"`
	} `yaml:"catalog"`
	Feed struct {
		SNMP struct {
			Devices []SNMPDeviceConfig `yaml:"devices"`
		} `yaml:"snmp"`
	} `yaml:"feed"`
}

// loadInclude loads a single include file and appends its devices.
func loadInclude(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	expanded := os.ExpandEnv(string(data))

	var partial include
	if err := yaml.Unmarshal([]byte(expanded), &partial); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	cfg.Catalog.Devices = append(cfg.Catalog.Devices, partial.Catalog.Devices...)
	cfg.Feed.SNMP.Devices = append(cfg.Feed.SNMP.Devices, partial.Feed.SNMP.Devices...)
	return nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	var errs []error

	// Logging validation
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, errors.NewValidation("logging.level", err.Error()))
	}
	if !constants.IsValidLogFormat(cfg.Logging.Format) {
		errs = append(errs, errors.NewValidation("logging.format", fmt.Sprintf("unknown format %q", cfg.Logging.Format)))
	}

	// Component sections validate themselves
	if err := cfg.Storage.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.Dashboard.Validate(); err != nil {
		errs = append(errs, err)
	}

	cat, err := catalog.New(cfg.Catalog)
	if err != nil {
		errs = append(errs, err)
	}

	// Dashboard categories must chart something
	if cat != nil {
		groups := make(map[string]bool)
		for _, ch := range cat.Channels() {
			groups[ch.Group] = true
		}
		for i, c := range cfg.Dashboard.Categories {
			if c.Group != "" && !groups[c.Group] {
				errs = append(errs, errors.NewValidation(
					fmt.Sprintf("dashboard.categories[%d].group", i),
					fmt.Sprintf("no catalog channels in group %q", c.Group)))
			}
		}
	}

	// MQTT validation (if enabled)
	if m := cfg.Feed.MQTT; m != nil {
		if m.Broker == "" {
			errs = append(errs, errors.NewValidation("feed.mqtt.broker", "cannot be empty"))
		}
		if m.Topic != "" {
			if err := validation.ValidateTopicFilter(m.Topic); err != nil {
				errs = append(errs, errors.NewValidation("feed.mqtt.topic", err.Error()))
			}
		}
		if m.QoS < 0 || m.QoS > 2 {
			errs = append(errs, errors.NewValidation("feed.mqtt.qos", "must be 0, 1 or 2"))
		}
	}

	// SNMP device validation
	for i, d := range ToSNMPDevices(&cfg.Feed.SNMP) {
		path := fmt.Sprintf("feed.snmp.devices[%d]", i)
		if err := d.Validate(); err != nil {
			errs = append(errs, errors.NewValidation(path, err.Error()))
			continue
		}
		if cat != nil {
			if _, err := cat.Device(d.Device); err != nil {
				errs = append(errs, errors.NewValidation(path+".device", err.Error()))
			}
		}
	}

	// Synthetic validation
	syn := cfg.Feed.Synthetic
	if syn.MinPeriod <= 0 {
		errs = append(errs, errors.NewValidation("feed.synthetic.min_period", "must be positive"))
	}
	if syn.MaxPeriod < syn.MinPeriod {
		errs = append(errs, errors.NewValidation("feed.synthetic.max_period", "must not be below min_period"))
	}

	return errors.Join(errs...)
}

// =============================================================================
// Conversion: Config → Feed Configs
// =============================================================================

// ToMQTTConfig converts the MQTT section to the subscriber configuration.
func ToMQTTConfig(cfg *MQTTConfig) feed.MQTTConfig {
	out := feed.MQTTConfig{
		Broker:         cfg.Broker,
		ClientID:       cfg.ClientID,
		Username:       cfg.Username,
		Password:       cfg.Password,
		Topic:          cfg.Topic,
		QoS:            byte(cfg.QoS),
		ConnectTimeout: cfg.ConnectTimeout.Duration(),
	}
	if out.ClientID == "" {
		out.ClientID = defaults.DefaultMQTTClientID
	}
	if out.Topic == "" {
		out.Topic = defaults.DefaultMQTTTopic
	}
	return out
}

// ToSNMPDevices converts the SNMP section, filling every empty device
// setting from the defaults.
func ToSNMPDevices(cfg *SNMPConfig) []feed.SNMPDevice {
	def := cfg.Defaults
	out := make([]feed.SNMPDevice, 0, len(cfg.Devices))

	for _, d := range cfg.Devices {
		dev := feed.SNMPDevice{
			Device:        d.Device,
			Host:          d.Host,
			Port:          pick(d.Port, def.Port),
			OIDs:          d.OIDs,
			Community:     pick(d.Community, def.Community),
			SecurityName:  pick(d.SecurityName, def.SecurityName),
			SecurityLevel: pick(d.SecurityLevel, def.SecurityLevel),
			AuthProtocol:  pick(d.AuthProtocol, def.AuthProtocol),
			AuthPassword:  pick(d.AuthPassword, def.AuthPassword),
			PrivProtocol:  pick(d.PrivProtocol, def.PrivProtocol),
			PrivPassword:  pick(d.PrivPassword, def.PrivPassword),
			ContextName:   d.ContextName,
			Interval:      pick(d.Interval, def.Interval).Duration(),
			Timeout:       pick(d.Timeout, def.Timeout).Duration(),
		}
		if d.Retries != nil {
			dev.Retries = *d.Retries
		} else if def.Retries != nil {
			dev.Retries = *def.Retries
		}
		out = append(out, dev)
	}
	return out
}

// ToSyntheticConfig converts the synthetic generator section.
func ToSyntheticConfig(cfg *SyntheticConfig) feed.SyntheticConfig {
	return feed.SyntheticConfig{
		MinPeriod: cfg.MinPeriod.Duration(),
		MaxPeriod: cfg.MaxPeriod.Duration(),
		LogGroups: cfg.LogGroups,
		Seed:      cfg.Seed,
	}
}

// pick returns v unless it is the zero value.
func pick[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// =============================================================================
// Logging
// =============================================================================

// InitLogging initializes the global logger from the logging section.
func InitLogging(cfg *LoggingConfig) error {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logging.Init(level, cfg.Format == constants.LogFormatJSON)
	return nil
}

// =============================================================================
// Config Watcher
// =============================================================================

// Watcher watches a config file for changes and reloads it.
//
// Only the log level is applied at runtime. The catalog, the storage and
// the feeds are fixed at startup, so other changes are reported and wait
// for a restart.
type Watcher struct {
	path     string
	interval time.Duration
	callback func(*Config, error)
	modTime  time.Time
}

// NewWatcher creates a new config file watcher. callback may be nil.
func NewWatcher(path string, interval time.Duration, callback func(*Config, error)) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		path:     path,
		interval: interval,
		callback: callback,
	}
}

// Run watches the config file until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	// Get initial mod time
	if info, err := os.Stat(w.path); err == nil {
		w.modTime = info.ModTime()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}

			if info.ModTime().After(w.modTime) {
				w.modTime = info.ModTime()
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err == nil {
		err = Validate(cfg)
	}
	if err != nil {
		log.Warn("config reload failed, keeping current settings", "path", w.path, "error", err)
		if w.callback != nil {
			w.callback(nil, err)
		}
		return
	}

	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		logging.SetLevel(level)
	}
	log.Info("config reloaded", "path", w.path, "log_level", cfg.Logging.Level)

	if w.callback != nil {
		w.callback(cfg, nil)
	}
}
