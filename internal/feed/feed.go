// Package feed connects the control-system data sources to the ingestion
// path.
//
// Every source turns one hardware scan into one OnBatch call carrying the
// device's positional value array. Sources implemented here:
//   - MQTT: JSON events published by the control-system gateway
//   - SNMP: periodic GETs of instruments exposing readings over SNMP
//   - Synthetic: a random-walk generator for mock mode
package feed

import "context"

// Sink receives one scan of a device. *ingestion.Service implements it.
type Sink interface {
	OnBatch(parameter string, values []float64) error
}

// Source is a feed that runs until its context is canceled.
type Source interface {
	// Name identifies the source in logs.
	Name() string

	// Run delivers scans to the sink until ctx is done.
	Run(ctx context.Context) error
}

// Stats holds per-source counters.
type Stats struct {
	Scans    int64 `json:"scans"`
	Rejected int64 `json:"rejected"`
	Failures int64 `json:"failures"`
}
