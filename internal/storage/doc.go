// Package storage implements the bounded time-series ring store that sits
// between the control-system feed and the dashboard.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│    Feed     │────▶│  Ingestion  │────▶│   Backend   │
//	│  (OnBatch)  │     │ queue+writer│     │ memory/duckdb│
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                                               │
//	                                               ▼
//	                    ┌─────────────┐     ┌─────────────┐
//	                    │  Dashboard  │◀────│    Query    │
//	                    │  (HTTP API) │     │  windows    │
//	                    └─────────────┘     └─────────────┘
//
// Every channel keeps its most recent BUFFERLEN samples. A feed event is
// applied as one atomic batch across all the channels it touches, and every
// read observes all requested channels at one instant, so a reader never
// sees half a scan.
//
// The Service in this package owns the backend and wires the ingestion and
// query services to it. It is the only place that hands out the
// administrative reset, and only in mock mode.
package storage
