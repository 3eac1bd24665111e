// Package duckdb is the embedded-database backend of the ring store.
//
// Every channel owns rows in two tables, ring_values and ring_times, that
// realise the "{key}:val" and "{key}:t" sequences. Rows carry a per-channel
// sequence number; the newest row has the highest seq. A batch is one SQL
// transaction that inserts one row per table and channel and deletes the
// rows that fell out of the bound, so a reader running in its own
// transaction sees every batch entirely or not at all.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"golang.org/x/sync/semaphore"

	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/logging"
	"github.com/xtxerr/ebismon/internal/storage/backend"
	"github.com/xtxerr/ebismon/internal/storage/buffer"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

var log = logging.Component("backend.duckdb")

var schema = []string{`
	CREATE TABLE IF NOT EXISTS ring_values (
		ring VARCHAR NOT NULL,
		seq  BIGINT  NOT NULL,
		val  DOUBLE  NOT NULL
	)`, `
	CREATE TABLE IF NOT EXISTS ring_times (
		ring  VARCHAR NOT NULL,
		seq   BIGINT  NOT NULL,
		ts_us BIGINT  NOT NULL
	)`,
}

// Config holds the backend settings.
type Config struct {
	// Path is the database file. Empty opens an in-memory database.
	Path string

	// Capacity bounds every channel (BUFFERLEN).
	Capacity int

	// MaxOpenConns limits the connection pool. Zero keeps the driver default.
	MaxOpenConns int
}

// Store is the DuckDB backend.
type Store struct {
	db       *sql.DB
	path     string
	capacity int

	// writers serialises batches so they never conflict with each other.
	writers *semaphore.Weighted

	closed  atomic.Bool
	batches atomic.Int64
}

var _ backend.Backend = (*Store)(nil)

// Open opens or creates the database and its tables.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, errors.Unavailable("open duckdb", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Unavailable("create schema", err)
		}
	}

	s := &Store{
		db:       db,
		path:     cfg.Path,
		capacity: buffer.New(cfg.Capacity).Cap(),
		writers:  semaphore.NewWeighted(1),
	}

	log.Info("duckdb backend opened", "path", displayPath(cfg.Path), "capacity", s.capacity)
	return s, nil
}

func displayPath(p string) string {
	if p == "" {
		return ":memory:"
	}
	return p
}

// Name implements backend.Backend.
func (s *Store) Name() string { return "duckdb" }

// Capacity implements backend.Backend.
func (s *Store) Capacity() int { return s.capacity }

func (s *Store) check(op string) error {
	if s.closed.Load() {
		return errors.Unavailable(op, errors.ErrStoreClosed)
	}
	return nil
}

// Ping implements backend.Backend.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.check("ping"); err != nil {
		return err
	}
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Unavailable("ping", err)
	}
	return nil
}

// transaction runs fn in one transaction. The context is checked again
// before commit so a timed-out batch is never committed late.
func (s *Store) transaction(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	if err := s.check(op); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Unavailable(op, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return errors.Unavailable(op, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Unavailable(op, err)
	}
	return nil
}

// ringState is the head of one channel as seen inside a transaction.
type ringState struct {
	seq   int64
	count int
	head  time.Time
}

func loadState(ctx context.Context, tx *sql.Tx, key types.Key) (ringState, error) {
	var st ringState
	var seq, ts sql.NullInt64

	err := tx.QueryRowContext(ctx, `
		SELECT max(seq), arg_max(ts_us, seq), count(*)
		FROM ring_times WHERE ring = ?`, string(key)).Scan(&seq, &ts, &st.count)
	if err != nil {
		return st, err
	}
	if seq.Valid {
		st.seq = seq.Int64
		st.head = time.UnixMicro(ts.Int64).UTC()
	}
	return st, nil
}

// Apply implements backend.Backend.
func (s *Store) Apply(ctx context.Context, entries []types.Entry, opts backend.ApplyOptions) (backend.ApplyResult, error) {
	var res backend.ApplyResult
	if len(entries) == 0 {
		return res, errors.NewInvalidBatch("no entries")
	}

	if err := s.writers.Acquire(ctx, 1); err != nil {
		return res, errors.Unavailable("apply", err)
	}
	defer s.writers.Release(1)

	err := s.transaction(ctx, "apply", func(tx *sql.Tx) error {
		states := make(map[types.Key]*ringState, len(entries))

		// Decide before mutating anything.
		var late []types.Key
		heads := make(map[types.Key]time.Time, len(entries))
		for _, e := range entries {
			key := e.Channel.Key()
			if _, ok := states[key]; !ok {
				st, err := loadState(ctx, tx, key)
				if err != nil {
					return errors.Unavailable("apply", err)
				}
				states[key] = &st
				if st.count > 0 {
					heads[key] = st.head
				}
			}
			if head, ok := heads[key]; ok && e.Sample.Timestamp.Before(head) {
				late = append(late, key)
			}
			heads[key] = e.Sample.Timestamp
		}
		if len(late) > 0 && opts.RejectOutOfOrder {
			return errors.Wrapf(errors.ErrOutOfOrderSample, "%d channel(s), first %s", len(late), late[0])
		}
		res.OutOfOrder = late

		for _, e := range entries {
			key := e.Channel.Key()
			st := states[key]
			st.seq++

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ring_values (ring, seq, val) VALUES (?, ?, ?)`,
				string(key), st.seq, e.Sample.Value); err != nil {
				return errors.Unavailable("apply", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ring_times (ring, seq, ts_us) VALUES (?, ?, ?)`,
				string(key), st.seq, e.Sample.Timestamp.UnixMicro()); err != nil {
				return errors.Unavailable("apply", err)
			}

			if st.count < s.capacity {
				st.count++
				continue
			}

			cutoff := st.seq - int64(s.capacity)
			for _, table := range []string{"ring_values", "ring_times"} {
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM `+table+` WHERE ring = ? AND seq <= ?`,
					string(key), cutoff); err != nil {
					return errors.Unavailable("apply", err)
				}
			}
			res.Evicted++
		}
		return nil
	})
	if err != nil {
		return backend.ApplyResult{}, err
	}

	s.batches.Add(1)
	return res, nil
}

const joined = `
	FROM ring_values v
	JOIN ring_times t ON t.ring = v.ring AND t.seq = v.seq`

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func keyArgs(keys []types.Key) []any {
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = string(k)
	}
	return args
}

// Windows implements backend.Backend.
func (s *Store) Windows(ctx context.Context, keys []types.Key, from, to time.Time) (map[types.Key][]types.Sample, error) {
	out := make(map[types.Key][]types.Sample, len(keys))
	for _, k := range keys {
		out[k] = []types.Sample{}
	}
	if err := s.check("read window"); err != nil {
		return nil, err
	}
	if len(keys) == 0 || from.After(to) {
		return out, nil
	}

	err := s.transaction(ctx, "read window", func(tx *sql.Tx) error {
		args := append(keyArgs(keys), from.UnixMicro(), to.UnixMicro())
		rows, err := tx.QueryContext(ctx, `
			SELECT v.ring, t.ts_us, v.val`+joined+`
			WHERE v.ring IN (`+placeholders(len(keys))+`)
			  AND t.ts_us BETWEEN ? AND ?
			ORDER BY v.ring, v.seq`, args...)
		if err != nil {
			return errors.Unavailable("read window", err)
		}
		defer rows.Close()

		for rows.Next() {
			var ring string
			var ts int64
			var val float64
			if err := rows.Scan(&ring, &ts, &val); err != nil {
				return errors.Unavailable("read window", err)
			}
			key := types.Key(ring)
			out[key] = append(out[key], types.Sample{Timestamp: time.UnixMicro(ts).UTC(), Value: val})
		}
		if err := rows.Err(); err != nil {
			return errors.Unavailable("read window", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Range implements backend.Backend.
func (s *Store) Range(ctx context.Context, key types.Key, start, stop int) ([]types.Sample, error) {
	out := []types.Sample{}

	err := s.transaction(ctx, "read range", func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT count(*) FROM ring_times WHERE ring = ?`, string(key)).Scan(&n); err != nil {
			return errors.Unavailable("read range", err)
		}

		lo, hi, ok := buffer.ClampRange(n, start, stop)
		if !ok {
			return nil
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT t.ts_us, v.val`+joined+`
			WHERE v.ring = ?
			ORDER BY v.seq DESC`+
			fmt.Sprintf(" LIMIT %d OFFSET %d", hi-lo+1, lo), string(key))
		if err != nil {
			return errors.Unavailable("read range", err)
		}
		defer rows.Close()

		for rows.Next() {
			var ts int64
			var val float64
			if err := rows.Scan(&ts, &val); err != nil {
				return errors.Unavailable("read range", err)
			}
			out = append(out, types.Sample{Timestamp: time.UnixMicro(ts).UTC(), Value: val})
		}
		if err := rows.Err(); err != nil {
			return errors.Unavailable("read range", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Heads implements backend.Backend.
func (s *Store) Heads(ctx context.Context, keys []types.Key) (map[types.Key]types.Sample, error) {
	out := make(map[types.Key]types.Sample, len(keys))
	if err := s.check("read heads"); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return out, nil
	}

	err := s.transaction(ctx, "read heads", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT v.ring, t.ts_us, v.val`+joined+`
			WHERE v.ring IN (`+placeholders(len(keys))+`)
			QUALIFY row_number() OVER (PARTITION BY v.ring ORDER BY v.seq DESC) = 1`,
			keyArgs(keys)...)
		if err != nil {
			return errors.Unavailable("read heads", err)
		}
		defer rows.Close()

		for rows.Next() {
			var ring string
			var ts int64
			var val float64
			if err := rows.Scan(&ring, &ts, &val); err != nil {
				return errors.Unavailable("read heads", err)
			}
			out[types.Key(ring)] = types.Sample{Timestamp: time.UnixMicro(ts).UTC(), Value: val}
		}
		if err := rows.Err(); err != nil {
			return errors.Unavailable("read heads", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stats implements backend.Backend.
func (s *Store) Stats(ctx context.Context) (backend.Stats, error) {
	st := backend.Stats{
		Backend:  s.Name(),
		Capacity: s.capacity,
		Batches:  s.batches.Load(),
	}

	err := s.transaction(ctx, "stats", func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT count(DISTINCT ring), count(*) FROM ring_times`).Scan(&st.Keys, &st.Samples); err != nil {
			return errors.Unavailable("stats", err)
		}
		return nil
	})
	return st, err
}

// FlushAll implements backend.Backend.
func (s *Store) FlushAll(ctx context.Context) error {
	if err := s.writers.Acquire(ctx, 1); err != nil {
		return errors.Unavailable("flush", err)
	}
	defer s.writers.Release(1)

	err := s.transaction(ctx, "flush", func(tx *sql.Tx) error {
		for _, table := range []string{"ring_values", "ring_times"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return errors.Unavailable("flush", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Warn("all rings flushed", "path", displayPath(s.path))
	return nil
}

// Close implements backend.Backend.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
