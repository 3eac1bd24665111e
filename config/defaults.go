// Package config provides configuration defaults for ebismon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command-line flags.
package config

import "time"

// =============================================================================
// Ring Store Defaults
// =============================================================================

const (
	// DefaultBufferLen is the per-channel ring capacity (BUFFERLEN).
	// At one sample per second this holds roughly two hours of history.
	// Override via config: storage.buffer_len
	DefaultBufferLen = 7200

	// DefaultBackend selects the backing store: "memory" or "duckdb".
	// Override via config: storage.backend
	DefaultBackend = "memory"

	// DefaultDuckDBPath is the DuckDB database file. Empty means in-memory.
	// Override via config: storage.duckdb.path
	DefaultDuckDBPath = ""
)

// =============================================================================
// Connection Defaults
// =============================================================================

const (
	// DefaultConnectTimeout bounds a single connectivity probe.
	// Override via config: storage.connect.timeout
	DefaultConnectTimeout = 5 * time.Second

	// DefaultConnectRetries is the number of extra probes before giving up.
	// Override via config: storage.connect.retries
	DefaultConnectRetries = 3

	// DefaultConnectBackoff is the initial delay between probes; it doubles
	// after every failed attempt.
	// Override via config: storage.connect.backoff
	DefaultConnectBackoff = 500 * time.Millisecond

	// DefaultConnectMaxBackoff caps the delay between probes.
	// Override via config: storage.connect.max_backoff
	DefaultConnectMaxBackoff = 10 * time.Second
)

// =============================================================================
// Ingestion Defaults
// =============================================================================

const (
	// DefaultQueueSize is the capacity of the queue between the feed and the
	// batch writer. When full, new batches are dropped.
	// Override via config: ingestion.queue_size
	DefaultQueueSize = 256

	// DefaultWriteTimeout bounds one atomic batch write.
	// Override via config: ingestion.write_timeout
	DefaultWriteTimeout = 2 * time.Second

	// DefaultOutOfOrderPolicy decides what happens to samples older than the
	// current head: "accept" (apply and warn) or "reject".
	// Override via config: ingestion.out_of_order
	DefaultOutOfOrderPolicy = "accept"

	// DefaultPressureCheckInterval is how often queue pressure is evaluated.
	// Override via config: ingestion.pressure.check_interval
	DefaultPressureCheckInterval = time.Second
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultQueryTimeout bounds one window read.
	// Override via config: query.timeout
	DefaultQueryTimeout = 2 * time.Second

	// DefaultMaxWindowMinutes is the largest window the API accepts.
	// Override via config: query.max_window_minutes
	DefaultMaxWindowMinutes = 120

	// DefaultSketchAccuracy is the relative accuracy of window percentiles.
	// Override via config: query.sketch_accuracy
	DefaultSketchAccuracy = 0.01
)

// =============================================================================
// Dashboard Defaults
// =============================================================================

const (
	// DefaultListenAddress is the HTTP API listen address.
	// Override via config: dashboard.listen
	DefaultListenAddress = "0.0.0.0:8050"

	// DefaultPollInterval is how often the dashboard refreshes its figures.
	// Override via config: dashboard.poll_interval
	DefaultPollInterval = time.Second

	// DefaultWindowMinutes is the history shown when none is requested.
	// Override via config: dashboard.window_minutes
	DefaultWindowMinutes = 5

	// DefaultTimezone is used for the x-axis range of chart payloads.
	// Override via config: dashboard.timezone
	DefaultTimezone = "Europe/Zurich"

	// DefaultShutdownTimeout bounds the HTTP server drain on shutdown.
	DefaultShutdownTimeout = 5 * time.Second
)

// =============================================================================
// Feed Defaults
// =============================================================================

const (
	// DefaultMQTTTopic is the topic filter the MQTT feed subscribes to.
	// Override via config: feed.mqtt.topic
	DefaultMQTTTopic = "ebis/+/values"

	// DefaultMQTTClientID identifies the feed at the broker.
	// Override via config: feed.mqtt.client_id
	DefaultMQTTClientID = "ebismond"

	// DefaultSNMPInterval is the scan interval of SNMP devices.
	// Override via config: feed.snmp.interval
	DefaultSNMPInterval = time.Second

	// DefaultSNMPTimeout bounds one SNMP scan.
	// Override via config: feed.snmp.timeout
	DefaultSNMPTimeout = 800 * time.Millisecond

	// DefaultSyntheticMinPeriod and DefaultSyntheticMaxPeriod bound the
	// random delay between synthetic scans in mock mode.
	DefaultSyntheticMinPeriod = 800 * time.Millisecond
	DefaultSyntheticMaxPeriod = 1200 * time.Millisecond
)
