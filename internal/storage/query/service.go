// Package query is the read path of the ring store.
//
// Every call resolves channel names through the catalog and reads all
// requested channels from the backend in one consistent operation, so a
// batch is either fully visible to a reader or not at all.
package query

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/xtxerr/ebismon/internal/catalog"
	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/logging"
	"github.com/xtxerr/ebismon/internal/storage/aggregate"
	"github.com/xtxerr/ebismon/internal/storage/backend"
	"github.com/xtxerr/ebismon/internal/storage/config"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

var log = logging.Component("query")

// Service provides windowed reads over the backing store.
type Service struct {
	config  config.QueryConfig
	backend backend.Backend
	catalog *catalog.Catalog

	// Statistics
	stats Stats

	now func() time.Time
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted atomic.Int64
	SamplesReturned atomic.Int64
	Errors          atomic.Int64
}

// New creates a new query service reading from b.
func New(cfg config.QueryConfig, b backend.Backend, cat *catalog.Catalog) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultConfig().Query.Timeout
	}
	return &Service{
		config:  cfg,
		backend: b,
		catalog: cat,
		now:     time.Now,
	}
}

// resolve maps names to channels. An empty list selects every channel of
// the catalog. Duplicate names are read once.
func (s *Service) resolve(names []string) ([]types.Channel, error) {
	if len(names) == 0 {
		return s.catalog.Channels(), nil
	}

	seen := make(map[string]bool, len(names))
	unique := make([]string, 0, len(names))
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			unique = append(unique, name)
		}
	}
	return s.catalog.ResolveAll(unique)
}

func keysOf(channels []types.Channel) []types.Key {
	keys := make([]types.Key, len(channels))
	for i, ch := range channels {
		keys[i] = ch.Key()
	}
	return keys
}

// withTimeout bounds one backend read by the query timeout.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.Timeout)
}

// fail counts and classifies a backend error.
func (s *Service) fail(op string, err error) error {
	s.stats.Errors.Add(1)
	if errors.IsValidation(err) {
		return err
	}
	log.Warn("read failed", "op", op, "error", err)
	return errors.Unavailable(op, err)
}

// ReadWindow returns, per channel name, the samples with
// from <= timestamp <= to, oldest-first. A channel without samples in the
// window maps to an empty slice.
func (s *Service) ReadWindow(ctx context.Context, names []string, from, to time.Time) (types.Window, error) {
	if from.After(to) {
		s.stats.Errors.Add(1)
		return nil, errors.Wrapf(errors.ErrInvalidWindow, "from %s after to %s",
			from.UTC().Format(types.ISOLayout), to.UTC().Format(types.ISOLayout))
	}

	channels, err := s.resolve(names)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	byKey, err := s.backend.Windows(ctx, keysOf(channels), from.UTC(), to.UTC())
	if err != nil {
		return nil, s.fail("read window", err)
	}

	out := make(types.Window, len(channels))
	var n int64
	for _, ch := range channels {
		samples := byKey[ch.Key()]
		if samples == nil {
			samples = []types.Sample{}
		}
		out[ch.Name] = samples
		n += int64(len(samples))
	}

	s.stats.QueriesExecuted.Add(1)
	s.stats.SamplesReturned.Add(n)
	return out, nil
}

// ReadRecent reads the window [now - minutes, now].
func (s *Service) ReadRecent(ctx context.Context, names []string, minutes int) (types.Window, error) {
	from, to, err := s.Recent(minutes)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, err
	}
	return s.ReadWindow(ctx, names, from, to)
}

// Recent returns the bounds of the window covering the last minutes.
func (s *Service) Recent(minutes int) (from, to time.Time, err error) {
	if minutes <= 0 {
		return time.Time{}, time.Time{}, errors.Wrapf(errors.ErrInvalidWindow, "window of %d minutes", minutes)
	}
	if limit := s.config.MaxWindowMinutes; limit > 0 && minutes > limit {
		return time.Time{}, time.Time{}, errors.Wrapf(errors.ErrInvalidWindow,
			"window of %d minutes exceeds %d", minutes, limit)
	}

	to = s.now().UTC()
	from = to.Add(-time.Duration(minutes) * time.Minute)
	return from, to, nil
}

// Range returns the samples of one channel between the newest-first
// indices start and stop, both inclusive. Negative indices count back from
// the oldest sample, so Range(ctx, name, 0, -1) returns the whole buffer.
func (s *Service) Range(ctx context.Context, name string, start, stop int) ([]types.Sample, error) {
	ch, err := s.catalog.Resolve(name)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	samples, err := s.backend.Range(ctx, ch.Key(), start, stop)
	if err != nil {
		return nil, s.fail("range", err)
	}
	if samples == nil {
		samples = []types.Sample{}
	}

	s.stats.QueriesExecuted.Add(1)
	s.stats.SamplesReturned.Add(int64(len(samples)))
	return samples, nil
}

// Latest returns the newest sample of each channel. Channels that have no
// samples yet are left out.
func (s *Service) Latest(ctx context.Context, names []string) (map[string]types.Sample, error) {
	channels, err := s.resolve(names)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	heads, err := s.backend.Heads(ctx, keysOf(channels))
	if err != nil {
		return nil, s.fail("latest", err)
	}

	out := make(map[string]types.Sample, len(heads))
	for _, ch := range channels {
		if head, ok := heads[ch.Key()]; ok {
			out[ch.Name] = head
		}
	}

	s.stats.QueriesExecuted.Add(1)
	s.stats.SamplesReturned.Add(int64(len(out)))
	return out, nil
}

// Summarize returns per-channel statistics over [from, to].
func (s *Service) Summarize(ctx context.Context, names []string, from, to time.Time) (map[string]types.Summary, error) {
	window, err := s.ReadWindow(ctx, names, from, to)
	if err != nil {
		return nil, err
	}

	opts := s.aggregateOptions()
	out := make(map[string]types.Summary, len(window))
	for name, samples := range window {
		out[name] = aggregate.Summarize(name, samples, from.UTC(), to.UTC(), opts)
	}
	return out, nil
}

// SummarizeBuckets is Summarize with [from, to] split into buckets of the
// given size.
func (s *Service) SummarizeBuckets(ctx context.Context, names []string, from, to time.Time, size time.Duration) (map[string][]types.Summary, error) {
	if size <= 0 {
		s.stats.Errors.Add(1)
		return nil, errors.Wrapf(errors.ErrInvalidWindow, "bucket size %s", size)
	}

	window, err := s.ReadWindow(ctx, names, from, to)
	if err != nil {
		return nil, err
	}

	opts := s.aggregateOptions()
	out := make(map[string][]types.Summary, len(window))
	for name, samples := range window {
		out[name] = aggregate.Buckets(name, samples, from.UTC(), to.UTC(), size, opts)
	}
	return out, nil
}

func (s *Service) aggregateOptions() aggregate.Options {
	return aggregate.Options{
		Percentiles: s.config.Percentile.Enabled,
		Accuracy:    s.config.Percentile.Accuracy,
	}
}

// Stats returns query statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		QueriesExecuted: s.stats.QueriesExecuted.Load(),
		SamplesReturned: s.stats.SamplesReturned.Load(),
		Errors:          s.stats.Errors.Load(),
	}
}

// ServiceStats holds service statistics.
type ServiceStats struct {
	QueriesExecuted int64 `json:"queries_executed"`
	SamplesReturned int64 `json:"samples_returned"`
	Errors          int64 `json:"errors"`
}
