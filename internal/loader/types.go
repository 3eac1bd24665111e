// Package loader - Configuration Types
//
// Defines the YAML configuration structure for ebismond.
//
// ARCHITECTURE:
//
//   ┌─────────────────────────────────────────────────────────────────────┐
//   │                         config.yaml                                 │
//   ├─────────────────────────────────────────────────────────────────────┤
//   │                                                                     │
//   │  logging:     Level and output format                               │
//   │  include:     Additional files (catalog devices, SNMP devices)      │
//   │                                                                     │
//   │  ┌─────────────────────┐    ┌─────────────────────────────────┐    │
//   │  │      catalog:       │    │          storage:               │    │
//   │  ├─────────────────────┤    ├─────────────────────────────────┤    │
//   │  │ • Devices           │    │ • Backend (memory / duckdb)     │    │
//   │  │ • Channel fields    │    │ • BUFFERLEN                     │    │
//   │  │ • Key namespaces    │    │ • Connect retry                 │    │
//   │  │                     │    │ • Ingestion queue, pressure     │    │
//   │  │ Fixed at startup    │    │ • Query timeout, percentiles    │    │
//   │  └─────────────────────┘    └─────────────────────────────────┘    │
//   │                                                                     │
//   │  feed:        MQTT subscriber, SNMP devices, synthetic generator    │
//   │  dashboard:   HTTP API, chart categories, poll interval             │
//   │                                                                     │
//   └─────────────────────────────────────────────────────────────────────┘

package loader

import (
	"strconv"
	"time"

	defaults "github.com/xtxerr/ebismon/config"
	"github.com/xtxerr/ebismon/internal/catalog"
	"github.com/xtxerr/ebismon/internal/constants"
	"github.com/xtxerr/ebismon/internal/dashboard"
	storageconfig "github.com/xtxerr/ebismon/internal/storage/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for ebismond.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`

	// Include lists glob patterns of files whose catalog devices and SNMP
	// devices are appended to this configuration.
	Include []string `yaml:"include"`

	Catalog   catalog.Config        `yaml:"catalog"`
	Storage   storageconfig.Config  `yaml:"storage"`
	Feed      FeedConfig            `yaml:"feed"`
	Dashboard dashboard.Config      `yaml:"dashboard"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Reloaded at runtime.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// =============================================================================
// Feed Configuration
// =============================================================================

// FeedConfig configures the data sources.
type FeedConfig struct {
	// MQTT is the control-system gateway subscription. Nil disables it.
	MQTT *MQTTConfig `yaml:"mqtt"`

	SNMP SNMPConfig `yaml:"snmp"`

	// Synthetic runs only in mock mode.
	Synthetic SyntheticConfig `yaml:"synthetic"`
}

// MQTTConfig configures the MQTT subscriber.
type MQTTConfig struct {
	Broker         string   `yaml:"broker"`
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Topic          string   `yaml:"topic"`
	QoS            int      `yaml:"qos"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// SNMPConfig configures devices scanned over SNMP.
type SNMPConfig struct {
	// Defaults apply to every device that leaves a setting empty.
	Defaults SNMPDefaults `yaml:"defaults"`

	Devices []SNMPDeviceConfig `yaml:"devices"`
}

// SNMPDefaults holds settings shared by SNMP devices.
type SNMPDefaults struct {
	Port uint16 `yaml:"port"`

	// v2c
	Community string `yaml:"community"`

	// v3
	SecurityName  string `yaml:"security_name"`
	SecurityLevel string `yaml:"security_level"`
	AuthProtocol  string `yaml:"auth_protocol"`
	AuthPassword  string `yaml:"auth_password"`
	PrivProtocol  string `yaml:"priv_protocol"`
	PrivPassword  string `yaml:"priv_password"`

	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
	Retries  *int     `yaml:"retries"`
}

// SNMPDeviceConfig is one instrument. Its OIDs, in order, form the value
// array of the catalog device named by Device.
type SNMPDeviceConfig struct {
	SNMPDefaults `yaml:",inline"`

	Device      string   `yaml:"device"`
	Host        string   `yaml:"host"`
	OIDs        []string `yaml:"oids"`
	ContextName string   `yaml:"context_name"`
}

// SyntheticConfig configures the mock-mode generator.
type SyntheticConfig struct {
	MinPeriod Duration `yaml:"min_period"`
	MaxPeriod Duration `yaml:"max_period"`

	// LogGroups walk multiplicatively so they stay positive on a log axis.
	LogGroups []string `yaml:"log_groups"`
	Seed      int64    `yaml:"seed"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns the configuration of the TwinEBIS deployment.
func DefaultConfig() *Config {
	retries := 1
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: constants.LogFormatText,
		},
		Catalog:   catalog.DefaultConfig(),
		Storage:   *storageconfig.DefaultConfig(),
		Dashboard: dashboard.DefaultConfig(),
		Feed: FeedConfig{
			SNMP: SNMPConfig{
				Defaults: SNMPDefaults{
					Port:     161,
					Interval: Duration(defaults.DefaultSNMPInterval),
					Timeout:  Duration(defaults.DefaultSNMPTimeout),
					Retries:  &retries,
				},
			},
			Synthetic: SyntheticConfig{
				MinPeriod: Duration(defaults.DefaultSyntheticMinPeriod),
				MaxPeriod: Duration(defaults.DefaultSyntheticMaxPeriod),
				LogGroups: []string{"gauge"},
			},
		},
	}
}

// =============================================================================
// Custom Types
// =============================================================================

// Duration is a time.Duration that can be unmarshaled from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		// Try as int (seconds)
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	if i, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
