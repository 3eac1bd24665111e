// Package types defines the core data types used throughout the ring store.
//
// Key types:
//   - Sample: one (timestamp, value) reading of a channel
//   - Channel: a named, independently stored measurement series
//   - Batch: the readings of one hardware scan, written atomically
//   - Summary: statistics of a channel over a time window
package types
