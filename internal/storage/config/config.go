// Package config holds the configuration of the ring store: the backing
// store, the ingestion path, the read path and window export.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/ebismon/config"
	"github.com/xtxerr/ebismon/internal/constants"
)

// Config represents the complete storage configuration.
type Config struct {
	// Backend selects the backing store: "memory" or "duckdb".
	Backend string `yaml:"backend"`

	// BufferLen is the per-channel ring capacity (BUFFERLEN).
	BufferLen int `yaml:"buffer_len"`

	// Mock enables the synthetic generator and the administrative reset.
	Mock bool `yaml:"mock"`

	// DuckDB configures the DuckDB backend.
	DuckDB DuckDBConfig `yaml:"duckdb"`

	// Connect configures the connectivity check at startup.
	Connect ConnectConfig `yaml:"connect"`

	// Ingestion configures the ingestion pipeline.
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Query configures the read path.
	Query QueryConfig `yaml:"query"`

	// Export configures window export to Parquet.
	Export ExportConfig `yaml:"export"`
}

// DuckDBConfig configures the DuckDB backend.
type DuckDBConfig struct {
	// Path is the database file. Empty means in-memory.
	Path string `yaml:"path"`

	// MaxOpenConns limits the connection pool. 0 keeps the driver default.
	MaxOpenConns int `yaml:"max_open_conns"`
}

// ConnectConfig configures the connectivity check at startup.
type ConnectConfig struct {
	// Timeout bounds a single probe.
	Timeout time.Duration `yaml:"timeout"`

	// Retries is the number of extra probes after the first failure.
	Retries int `yaml:"retries"`

	// Backoff is the delay after the first failed probe. It doubles after
	// every further failure, up to MaxBackoff.
	Backoff time.Duration `yaml:"backoff"`

	// MaxBackoff caps the delay between probes.
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// IngestionConfig configures the ingestion pipeline.
type IngestionConfig struct {
	// QueueSize is the capacity of the batch queue.
	QueueSize int `yaml:"queue_size"`

	// WriteTimeout bounds one atomic batch write.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// OutOfOrder is the policy for samples older than their channel's head:
	// "accept" applies them with a warning, "reject" fails the batch.
	OutOfOrder string `yaml:"out_of_order"`

	// Pressure configures queue load shedding.
	Pressure PressureConfig `yaml:"pressure"`
}

// PressureConfig configures queue load shedding.
type PressureConfig struct {
	// Enabled enables pressure handling.
	Enabled bool `yaml:"enabled"`

	// CheckInterval is how often the queue fill ratio is evaluated.
	CheckInterval time.Duration `yaml:"check_interval"`

	// Thresholds defines queue fill thresholds for level changes.
	Thresholds PressureThresholds `yaml:"thresholds"`

	// Recovery configures recovery behavior.
	Recovery PressureRecovery `yaml:"recovery"`
}

// PressureThresholds defines queue fill thresholds.
type PressureThresholds struct {
	// Warning threshold (0.0-1.0).
	Warning float64 `yaml:"warning"`

	// Critical threshold (0.0-1.0).
	Critical float64 `yaml:"critical"`

	// Emergency threshold (0.0-1.0).
	Emergency float64 `yaml:"emergency"`
}

// PressureRecovery configures recovery behavior.
type PressureRecovery struct {
	// Hysteresis to prevent flapping (0.0-1.0).
	Hysteresis float64 `yaml:"hysteresis"`

	// Cooldown is the minimum time between level changes.
	Cooldown time.Duration `yaml:"cooldown"`
}

// QueryConfig configures the read path.
type QueryConfig struct {
	// Timeout bounds one read.
	Timeout time.Duration `yaml:"timeout"`

	// MaxWindowMinutes is the largest window accepted by ReadRecent.
	MaxWindowMinutes int `yaml:"max_window_minutes"`

	// Percentile configures DDSketch percentiles of window summaries.
	Percentile PercentileConfig `yaml:"percentile"`
}

// PercentileConfig configures DDSketch percentile calculation.
type PercentileConfig struct {
	// Enabled enables percentile calculation.
	Enabled bool `yaml:"enabled"`

	// Accuracy is the relative accuracy (0.01 = 1% error).
	Accuracy float64 `yaml:"accuracy"`
}

// ExportConfig configures window export.
type ExportConfig struct {
	// Compression is the Parquet codec: snappy, zstd, gzip, none.
	Compression string `yaml:"compression"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend:   defaults.DefaultBackend,
		BufferLen: defaults.DefaultBufferLen,
		DuckDB: DuckDBConfig{
			Path: defaults.DefaultDuckDBPath,
		},
		Connect: ConnectConfig{
			Timeout:    defaults.DefaultConnectTimeout,
			Retries:    defaults.DefaultConnectRetries,
			Backoff:    defaults.DefaultConnectBackoff,
			MaxBackoff: defaults.DefaultConnectMaxBackoff,
		},
		Ingestion: IngestionConfig{
			QueueSize:    defaults.DefaultQueueSize,
			WriteTimeout: defaults.DefaultWriteTimeout,
			OutOfOrder:   defaults.DefaultOutOfOrderPolicy,
			Pressure: PressureConfig{
				Enabled:       true,
				CheckInterval: defaults.DefaultPressureCheckInterval,
				Thresholds: PressureThresholds{
					Warning:   0.50,
					Critical:  0.80,
					Emergency: 0.95,
				},
				Recovery: PressureRecovery{
					Hysteresis: 0.10,
					Cooldown:   5 * time.Second,
				},
			},
		},
		Query: QueryConfig{
			Timeout:          defaults.DefaultQueryTimeout,
			MaxWindowMinutes: defaults.DefaultMaxWindowMinutes,
			Percentile: PercentileConfig{
				Enabled:  true,
				Accuracy: defaults.DefaultSketchAccuracy,
			},
		},
		Export: ExportConfig{
			Compression: "zstd",
		},
	}
}

// RejectOutOfOrder reports whether the out-of-order policy is "reject".
func (c *IngestionConfig) RejectOutOfOrder() bool {
	return c.OutOfOrder == constants.OutOfOrderReject
}
