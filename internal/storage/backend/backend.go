// Package backend defines the backing store of the ring store.
//
// A Backend owns one ring per channel, addressed by the channel key, and
// stores it as two parallel newest-first sequences ("{key}:val" and
// "{key}:t") bounded at the store's capacity. Its one hard contract is the
// multi-key transaction: Apply either appends every entry of a batch or
// none of them, and no reader can observe anything in between.
//
// Two implementations exist:
//   - memory: in-process rings guarded by one context-aware RW lock
//   - duckdb: an embedded DuckDB database, one SQL transaction per batch
package backend

import (
	"context"
	"time"

	"github.com/xtxerr/ebismon/internal/storage/types"
)

// Backend is the transactional key space holding every channel's ring.
//
// Implementations must be safe for concurrent use. Errors caused by the
// store being closed, unreachable or too slow wrap
// errors.ErrStoreUnavailable.
type Backend interface {
	// Name identifies the implementation in logs and stats.
	Name() string

	// Capacity returns the per-channel bound (BUFFERLEN).
	Capacity() int

	// Ping checks that the store can serve requests.
	Ping(ctx context.Context) error

	// Apply appends every entry as one atomic unit, evicting the oldest
	// samples of each touched channel beyond Capacity.
	Apply(ctx context.Context, entries []types.Entry, opts ApplyOptions) (ApplyResult, error)

	// Windows returns, for each key, the samples with from <= t <= to,
	// oldest-first. All keys are read at one consistent instant. Keys
	// without samples map to an empty slice.
	Windows(ctx context.Context, keys []types.Key, from, to time.Time) (map[types.Key][]types.Sample, error)

	// Range returns the newest-first index range [start, stop] of one key,
	// with list-range semantics (inclusive, negative from the oldest end).
	Range(ctx context.Context, key types.Key, start, stop int) ([]types.Sample, error)

	// Heads returns the newest sample of each non-empty key.
	Heads(ctx context.Context, keys []types.Key) (map[types.Key]types.Sample, error)

	// Stats returns occupancy figures.
	Stats(ctx context.Context) (Stats, error)

	// FlushAll deletes every key. Administrative use only.
	FlushAll(ctx context.Context) error

	// Close releases the store. Further calls fail as unavailable.
	Close() error
}

// ApplyOptions tunes one Apply call.
type ApplyOptions struct {
	// RejectOutOfOrder fails the whole batch with errors.ErrOutOfOrderSample
	// if any entry is older than its channel's head. Nothing is applied.
	RejectOutOfOrder bool
}

// ApplyResult reports side effects of a successful Apply.
type ApplyResult struct {
	// Evicted is the number of samples dropped to respect the bound.
	Evicted int

	// OutOfOrder lists the keys whose new sample precedes the previous head.
	OutOfOrder []types.Key
}

// Stats holds backend occupancy figures.
type Stats struct {
	Backend  string `json:"backend"`
	Capacity int    `json:"capacity"`
	Keys     int    `json:"keys"`
	Samples  int64  `json:"samples"`
	Batches  int64  `json:"batches"`
}
