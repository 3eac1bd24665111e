package config

import (
	"fmt"

	"github.com/xtxerr/ebismon/internal/constants"
	"github.com/xtxerr/ebismon/internal/errors"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if !constants.IsValidBackend(c.Backend) {
		errs = append(errs, errors.NewValidation("backend", fmt.Sprintf("unknown backend %q (want one of %v)", c.Backend, constants.ValidBackends)))
	}

	if c.BufferLen <= 0 {
		errs = append(errs, errors.NewValidation("buffer_len", "must be positive"))
	}

	if c.DuckDB.MaxOpenConns < 0 {
		errs = append(errs, errors.NewValidation("duckdb.max_open_conns", "must not be negative"))
	}

	if err := c.Connect.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("connect: %w", err))
	}

	if err := c.Ingestion.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ingestion: %w", err))
	}

	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}

	if err := c.Export.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("export: %w", err))
	}

	return errors.Join(errs...)
}

// Validate checks the connect configuration.
func (c *ConnectConfig) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.NewValidation("timeout", "must be positive"))
	}
	if c.Retries < 0 {
		errs = append(errs, errors.NewValidation("retries", "must not be negative"))
	}
	if c.Backoff < 0 {
		errs = append(errs, errors.NewValidation("backoff", "must not be negative"))
	}
	if c.MaxBackoff < c.Backoff {
		errs = append(errs, errors.NewValidation("max_backoff", "must be >= backoff"))
	}

	return errors.Join(errs...)
}

// Validate checks the ingestion configuration.
func (c *IngestionConfig) Validate() error {
	var errs []error

	if c.QueueSize <= 0 {
		errs = append(errs, errors.NewValidation("queue_size", "must be positive"))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, errors.NewValidation("write_timeout", "must be positive"))
	}

	if !constants.IsValidOutOfOrderPolicy(c.OutOfOrder) {
		errs = append(errs, errors.NewValidation("out_of_order", fmt.Sprintf("unknown policy %q (want one of %v)", c.OutOfOrder, constants.ValidOutOfOrderPolicies)))
	}

	if err := c.Pressure.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pressure: %w", err))
	}

	return errors.Join(errs...)
}

// Validate checks the pressure configuration.
func (c *PressureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error
	t := c.Thresholds

	if c.CheckInterval <= 0 {
		errs = append(errs, errors.NewValidation("check_interval", "must be positive"))
	}
	if t.Warning <= 0 || t.Warning >= 1 {
		errs = append(errs, errors.NewValidation("thresholds.warning", "must be between 0 and 1"))
	}
	if t.Critical <= t.Warning || t.Critical >= 1 {
		errs = append(errs, errors.NewValidation("thresholds.critical", "must be between warning and 1"))
	}
	if t.Emergency <= t.Critical || t.Emergency > 1 {
		errs = append(errs, errors.NewValidation("thresholds.emergency", "must be between critical and 1"))
	}
	if c.Recovery.Hysteresis < 0 || c.Recovery.Hysteresis >= t.Warning {
		errs = append(errs, errors.NewValidation("recovery.hysteresis", "must be between 0 and the warning threshold"))
	}
	if c.Recovery.Cooldown < 0 {
		errs = append(errs, errors.NewValidation("recovery.cooldown", "must not be negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error

	if c.Timeout <= 0 {
		errs = append(errs, errors.NewValidation("timeout", "must be positive"))
	}
	if c.MaxWindowMinutes <= 0 {
		errs = append(errs, errors.NewValidation("max_window_minutes", "must be positive"))
	}
	if c.Percentile.Enabled {
		if c.Percentile.Accuracy <= 0 || c.Percentile.Accuracy >= 1 {
			errs = append(errs, errors.NewValidation("percentile.accuracy", "must be between 0 and 1"))
		}
	}

	return errors.Join(errs...)
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	switch c.Compression {
	case "snappy", "zstd", "gzip", "none", "":
		return nil
	default:
		return errors.NewValidation("compression", fmt.Sprintf("unknown codec %q", c.Compression))
	}
}
