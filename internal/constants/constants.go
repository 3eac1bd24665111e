// Package constants provides centralized domain-specific constants
// for the entire ebismon application.
//
// This file consolidates the magic strings shared by configuration,
// validation and the components that act on them.
package constants

// =============================================================================
// Storage Backends
// =============================================================================

const (
	// BackendMemory keeps the ring buffers in process memory.
	BackendMemory = "memory"

	// BackendDuckDB keeps the ring buffers in an embedded DuckDB database.
	BackendDuckDB = "duckdb"
)

// ValidBackends contains all valid backend values
var ValidBackends = []string{BackendMemory, BackendDuckDB}

// IsValidBackend checks if a backend name is valid
func IsValidBackend(name string) bool {
	return contains(ValidBackends, name)
}

// =============================================================================
// Out-of-Order Policy - samples older than their channel's head
// =============================================================================

const (
	// OutOfOrderAccept applies the sample and logs a warning
	OutOfOrderAccept = "accept"

	// OutOfOrderReject fails the whole batch before touching the store
	OutOfOrderReject = "reject"
)

// ValidOutOfOrderPolicies contains all valid out-of-order policies
var ValidOutOfOrderPolicies = []string{OutOfOrderAccept, OutOfOrderReject}

// IsValidOutOfOrderPolicy checks if a policy is valid
func IsValidOutOfOrderPolicy(policy string) bool {
	return contains(ValidOutOfOrderPolicies, policy)
}

// =============================================================================
// Log Formats
// =============================================================================

const (
	// LogFormatText is the human-readable slog text format
	LogFormatText = "text"

	// LogFormatJSON is one JSON object per line
	LogFormatJSON = "json"
)

// ValidLogFormats contains all valid log formats
var ValidLogFormats = []string{LogFormatText, LogFormatJSON}

// IsValidLogFormat checks if a format is valid
func IsValidLogFormat(format string) bool {
	return contains(ValidLogFormats, format)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
