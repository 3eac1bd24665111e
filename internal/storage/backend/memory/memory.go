// Package memory is the in-process backend of the ring store.
//
// All rings live in one map guarded by a single read/write lock. A batch is
// applied while holding the write lock, a multi-channel read holds the read
// lock for its whole duration, so readers see every batch entirely or not
// at all. The lock is acquired with the caller's context: a stalled store
// surfaces as errors.ErrStoreUnavailable instead of blocking forever.
package memory

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/logging"
	"github.com/xtxerr/ebismon/internal/storage/backend"
	"github.com/xtxerr/ebismon/internal/storage/buffer"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

var log = logging.Component("backend.memory")

// maxReaders is the weight of the write side of the lock.
const maxReaders = 1 << 20

// Option configures a Store.
type Option func(*Store)

// WithWriteHook installs fn, called after each entry of a batch has been
// pushed and before the next one. It runs under the write lock.
func WithWriteHook(fn func(types.Key)) Option {
	return func(s *Store) {
		s.writeHook = fn
	}
}

// Store is the in-memory backend.
type Store struct {
	lock     *semaphore.Weighted
	rings    map[types.Key]*buffer.RingBuffer
	capacity int

	writeHook func(types.Key)

	available atomic.Bool
	closed    atomic.Bool

	batches atomic.Int64
}

// New creates an empty store bounding every channel at capacity.
func New(capacity int, opts ...Option) *Store {
	s := &Store{
		lock:     semaphore.NewWeighted(maxReaders),
		rings:    make(map[types.Key]*buffer.RingBuffer),
		capacity: buffer.New(capacity).Cap(),
	}
	s.available.Store(true)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ backend.Backend = (*Store)(nil)

// Name implements backend.Backend.
func (s *Store) Name() string { return "memory" }

// Capacity implements backend.Backend.
func (s *Store) Capacity() int { return s.capacity }

// SetAvailable simulates losing and regaining the store. While unavailable
// every call fails with errors.ErrStoreUnavailable.
func (s *Store) SetAvailable(ok bool) {
	s.available.Store(ok)
}

func (s *Store) check(op string) error {
	if s.closed.Load() {
		return errors.Unavailable(op, errors.ErrStoreClosed)
	}
	if !s.available.Load() {
		return errors.Unavailable(op, errors.New("connection lost"))
	}
	return nil
}

func (s *Store) rlock(ctx context.Context, op string) error {
	if err := s.check(op); err != nil {
		return err
	}
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return errors.Unavailable(op, err)
	}
	if s.closed.Load() {
		s.lock.Release(1)
		return errors.Unavailable(op, errors.ErrStoreClosed)
	}
	return nil
}

func (s *Store) runlock() { s.lock.Release(1) }

func (s *Store) wlock(ctx context.Context, op string) error {
	if err := s.check(op); err != nil {
		return err
	}
	if err := s.lock.Acquire(ctx, maxReaders); err != nil {
		return errors.Unavailable(op, err)
	}
	if s.closed.Load() {
		s.lock.Release(maxReaders)
		return errors.Unavailable(op, errors.ErrStoreClosed)
	}
	return nil
}

func (s *Store) wunlock() { s.lock.Release(maxReaders) }

// Ping implements backend.Backend.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.check("ping"); err != nil {
		return err
	}
	return ctx.Err()
}

// Apply implements backend.Backend.
func (s *Store) Apply(ctx context.Context, entries []types.Entry, opts backend.ApplyOptions) (backend.ApplyResult, error) {
	var res backend.ApplyResult
	if len(entries) == 0 {
		return res, errors.NewInvalidBatch("no entries")
	}

	if err := s.wlock(ctx, "apply"); err != nil {
		return res, err
	}
	defer s.wunlock()

	// Decide before mutating anything.
	late := s.outOfOrder(entries)
	if len(late) > 0 && opts.RejectOutOfOrder {
		return res, errors.Wrapf(errors.ErrOutOfOrderSample, "%d channel(s), first %s", len(late), late[0])
	}
	res.OutOfOrder = late

	for i, e := range entries {
		key := e.Channel.Key()
		rb, ok := s.rings[key]
		if !ok {
			rb = buffer.New(s.capacity)
			s.rings[key] = rb
		}

		if rb.Push(e.Sample).Evicted {
			res.Evicted++
		}

		if s.writeHook != nil && i < len(entries)-1 {
			s.writeHook(key)
		}
	}

	s.batches.Add(1)
	return res, nil
}

// outOfOrder returns the keys whose entry precedes the current head. Must
// be called with the lock held.
func (s *Store) outOfOrder(entries []types.Entry) []types.Key {
	heads := make(map[types.Key]time.Time, len(entries))
	var late []types.Key

	for _, e := range entries {
		key := e.Channel.Key()
		head, seen := heads[key]
		if !seen {
			if rb, ok := s.rings[key]; ok {
				if h, ok := rb.Head(); ok {
					head, seen = h.Timestamp, true
				}
			}
		}
		if seen && e.Sample.Timestamp.Before(head) {
			late = append(late, key)
		}
		heads[key] = e.Sample.Timestamp
	}
	return late
}

// Windows implements backend.Backend.
func (s *Store) Windows(ctx context.Context, keys []types.Key, from, to time.Time) (map[types.Key][]types.Sample, error) {
	if err := s.rlock(ctx, "read window"); err != nil {
		return nil, err
	}
	defer s.runlock()

	out := make(map[types.Key][]types.Sample, len(keys))
	for _, key := range keys {
		if rb, ok := s.rings[key]; ok {
			out[key] = rb.Window(from, to)
		} else {
			out[key] = []types.Sample{}
		}
	}
	return out, nil
}

// Range implements backend.Backend.
func (s *Store) Range(ctx context.Context, key types.Key, start, stop int) ([]types.Sample, error) {
	if err := s.rlock(ctx, "read range"); err != nil {
		return nil, err
	}
	defer s.runlock()

	rb, ok := s.rings[key]
	if !ok {
		return []types.Sample{}, nil
	}
	return rb.Range(start, stop), nil
}

// Heads implements backend.Backend.
func (s *Store) Heads(ctx context.Context, keys []types.Key) (map[types.Key]types.Sample, error) {
	if err := s.rlock(ctx, "read heads"); err != nil {
		return nil, err
	}
	defer s.runlock()

	out := make(map[types.Key]types.Sample, len(keys))
	for _, key := range keys {
		if rb, ok := s.rings[key]; ok {
			if h, ok := rb.Head(); ok {
				out[key] = h
			}
		}
	}
	return out, nil
}

// Stats implements backend.Backend.
func (s *Store) Stats(ctx context.Context) (backend.Stats, error) {
	if err := s.rlock(ctx, "stats"); err != nil {
		return backend.Stats{}, err
	}
	defer s.runlock()

	st := backend.Stats{
		Backend:  s.Name(),
		Capacity: s.capacity,
		Keys:     len(s.rings),
		Batches:  s.batches.Load(),
	}
	for _, rb := range s.rings {
		st.Samples += int64(rb.Len())
	}
	return st, nil
}

// FlushAll implements backend.Backend.
func (s *Store) FlushAll(ctx context.Context) error {
	if err := s.wlock(ctx, "flush"); err != nil {
		return err
	}
	defer s.wunlock()

	n := len(s.rings)
	s.rings = make(map[types.Key]*buffer.RingBuffer)
	log.Warn("all rings flushed", "keys", n)
	return nil
}

// Close implements backend.Backend. The rings are released once in-flight
// calls have finished.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.lock.Acquire(context.Background(), maxReaders); err == nil {
		s.rings = nil
		s.lock.Release(maxReaders)
	}
	return nil
}
