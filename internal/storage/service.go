package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/ebismon/internal/catalog"
	"github.com/xtxerr/ebismon/internal/constants"
	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/logging"
	"github.com/xtxerr/ebismon/internal/storage/backend"
	"github.com/xtxerr/ebismon/internal/storage/backend/duckdb"
	"github.com/xtxerr/ebismon/internal/storage/backend/memory"
	"github.com/xtxerr/ebismon/internal/storage/backpressure"
	"github.com/xtxerr/ebismon/internal/storage/config"
	"github.com/xtxerr/ebismon/internal/storage/export"
	"github.com/xtxerr/ebismon/internal/storage/ingestion"
	"github.com/xtxerr/ebismon/internal/storage/query"
)

var log = logging.Component("storage")

// Service is the main storage service that orchestrates all components.
type Service struct {
	mu sync.Mutex

	config  *config.Config
	catalog *catalog.Catalog
	open    func(ctx context.Context) (backend.Backend, error)

	// Components, set by Connect
	backend   backend.Backend
	ingestion *ingestion.Service
	query     *query.Service

	// State
	connected atomic.Bool
	running   atomic.Bool
	closed    atomic.Bool

	// Statistics
	startTime time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBackend makes Connect use b instead of building the configured
// backend.
func WithBackend(b backend.Backend) Option {
	return func(s *Service) {
		s.open = func(context.Context) (backend.Backend, error) { return b, nil }
	}
}

// New creates a new storage service. Nothing is opened until Connect.
func New(cfg *config.Config, cat *catalog.Catalog, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if cat == nil {
		cat = catalog.MustDefault()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Service{
		config:  cfg,
		catalog: cat,
	}
	s.open = s.openBackend

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// openBackend builds the backend named by the configuration.
func (s *Service) openBackend(ctx context.Context) (backend.Backend, error) {
	switch s.config.Backend {
	case constants.BackendDuckDB:
		return duckdb.Open(ctx, duckdb.Config{
			Path:         s.config.DuckDB.Path,
			Capacity:     s.config.BufferLen,
			MaxOpenConns: s.config.DuckDB.MaxOpenConns,
		})
	default:
		return memory.New(s.config.BufferLen), nil
	}
}

// Connect opens the backend and checks that it answers. A failed probe is
// retried with exponential backoff; when every attempt failed Connect
// returns ErrStoreUnreachable. Connect on a connected service is a no-op.
func (s *Service) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return errors.Wrap(errors.ErrStoreClosed, "connect")
	}
	if s.connected.Load() {
		return nil
	}

	cc := s.config.Connect
	backoff := cc.Backoff
	attempts := cc.Retries + 1

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = s.probe(ctx); err == nil {
			break
		}

		if attempt == attempts {
			break
		}

		log.Warn("store not reachable, retrying",
			"backend", s.config.Backend,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect: %w: %w", errors.ErrStoreUnreachable, ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if cc.MaxBackoff > 0 && backoff > cc.MaxBackoff {
			backoff = cc.MaxBackoff
		}
	}
	if err != nil {
		log.Error("store unreachable", "backend", s.config.Backend, "attempts", attempts, "error", err)
		return fmt.Errorf("connect after %d attempts: %w: %w", attempts, errors.ErrStoreUnreachable, err)
	}

	s.ingestion = ingestion.New(s.config.Ingestion, s.backend, s.catalog)
	s.query = query.New(s.config.Query, s.backend, s.catalog)
	s.connected.Store(true)

	req := s.config.CalculateRequirements(len(s.catalog.Channels()), time.Second)
	log.Info("store connected",
		"backend", s.backend.Name(),
		"buffer_len", s.backend.Capacity(),
		"mock", s.config.Mock,
		"requirements", req.String())
	return nil
}

// probe opens the backend if needed and pings it once.
func (s *Service) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Connect.Timeout)
	defer cancel()

	if s.backend == nil {
		b, err := s.open(ctx)
		if err != nil {
			return err
		}
		s.backend = b
	}
	return s.backend.Ping(ctx)
}

// IsHealthy reports whether the backend answers a ping within the connect
// timeout.
func (s *Service) IsHealthy(ctx context.Context) bool {
	if !s.connected.Load() || s.closed.Load() {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Connect.Timeout)
	defer cancel()

	return s.backend.Ping(ctx) == nil
}

// Start starts the ingestion worker and the pressure monitor.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected.Load() {
		return fmt.Errorf("start: not connected: %w", errors.ErrNotRunning)
	}
	if s.running.Load() {
		return fmt.Errorf("service already running")
	}

	if err := s.ingestion.Start(); err != nil {
		return fmt.Errorf("start ingestion: %w", err)
	}

	s.running.Store(true)
	s.startTime = time.Now()
	return nil
}

// Stop stops the ingestion worker after writing what is still queued.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stopLocked()
}

func (s *Service) stopLocked() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)

	if err := s.ingestion.Stop(); err != nil {
		return fmt.Errorf("stop ingestion: %w", err)
	}
	return nil
}

// Close stops the service and releases the backend. Close is idempotent.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if err := s.stopLocked(); err != nil {
		errs = append(errs, err)
	}
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
	}
	s.connected.Store(false)

	log.Info("store closed")
	return errors.Join(errs...)
}

// Ingestion returns the write path. Nil before Connect.
func (s *Service) Ingestion() *ingestion.Service {
	return s.ingestion
}

// Query returns the read path. Nil before Connect.
func (s *Service) Query() *query.Service {
	return s.query
}

// Backend returns the backing store. Nil before Connect.
func (s *Service) Backend() backend.Backend {
	return s.backend
}

// Catalog returns the channel catalog.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// Config returns the current configuration.
func (s *Service) Config() *config.Config {
	return s.config
}

// IsRunning returns whether the ingestion worker is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// Export reads the window [from, to] of the named channels and writes it
// to w as Parquet. It returns the number of rows written.
func (s *Service) Export(ctx context.Context, w io.Writer, names []string, from, to time.Time) (int64, error) {
	if !s.connected.Load() {
		return 0, errors.Unavailable("export", errors.ErrNotRunning)
	}

	window, err := s.query.ReadWindow(ctx, names, from, to)
	if err != nil {
		return 0, err
	}

	opts := export.Options{Compression: export.ParseCompressionType(s.config.Export.Compression)}
	n, err := export.WriteParquet(w, window, s.catalog, opts)
	if err != nil {
		return n, fmt.Errorf("export window: %w", err)
	}
	return n, nil
}

// Admin grants the administrative operations. They exist only in mock
// mode; ok is false otherwise or before Connect.
func (s *Service) Admin() (admin *Admin, ok bool) {
	if !s.config.Mock || !s.connected.Load() {
		return nil, false
	}
	return &Admin{backend: s.backend}, true
}

// Admin holds operations that must never be reachable from the normal
// ingestion and query paths.
type Admin struct {
	backend backend.Backend
}

// ResetAll wipes every channel of the store.
func (a *Admin) ResetAll(ctx context.Context) error {
	log.Warn("resetting all channels")
	return a.backend.FlushAll(ctx)
}

// Stats returns combined statistics.
func (s *Service) Stats(ctx context.Context) ServiceStats {
	st := ServiceStats{
		Running:   s.running.Load(),
		Connected: s.connected.Load(),
	}
	if !s.startTime.IsZero() && st.Running {
		st.Uptime = time.Since(s.startTime)
	}
	if !st.Connected {
		return st
	}

	if bs, err := s.backend.Stats(ctx); err == nil {
		st.Backend = bs
	}
	st.Ingestion = s.ingestion.Stats()
	st.Query = s.query.Stats()
	st.Pressure = s.ingestion.Pressure().Stats()
	return st
}

// ServiceStats holds combined statistics.
type ServiceStats struct {
	Running   bool                         `json:"running"`
	Connected bool                         `json:"connected"`
	Uptime    time.Duration                `json:"uptime"`
	Backend   backend.Stats                `json:"backend"`
	Ingestion ingestion.ServiceStats       `json:"ingestion"`
	Query     query.ServiceStats           `json:"query"`
	Pressure  backpressure.ControllerStats `json:"pressure"`
}
