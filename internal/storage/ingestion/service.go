// Package ingestion is the write path of the ring store.
//
// The Service accepts feed events through OnBatch, maps them through the
// catalog into batches, and queues them. A single worker drains the queue
// in arrival order and applies each batch atomically with WriteBatch. A
// batch that cannot be written is counted, logged and dropped; it is never
// retried, since a retry could land behind newer samples.
package ingestion

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/ebismon/internal/catalog"
	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/logging"
	"github.com/xtxerr/ebismon/internal/storage/backend"
	"github.com/xtxerr/ebismon/internal/storage/backpressure"
	"github.com/xtxerr/ebismon/internal/storage/config"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

var log = logging.Component("ingestion")

// drainTimeout bounds the writes of batches still queued at Stop.
const drainTimeout = 5 * time.Second

// Service orchestrates the batch ingestion pipeline.
// It manages the flow: feed event → catalog → queue → backend
type Service struct {
	config  config.IngestionConfig
	backend backend.Backend
	catalog *catalog.Catalog

	queue    chan *types.Batch
	pressure *backpressure.Controller

	// State
	running atomic.Bool
	gate    sync.RWMutex // Enqueue holds it across the running check and the send
	mu      sync.Mutex   // serialises Start and Stop
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	stats Stats

	now func() time.Time
}

// Stats holds ingestion statistics.
type Stats struct {
	BatchesReceived atomic.Int64
	BatchesWritten  atomic.Int64
	BatchesDropped  atomic.Int64 // queue full or emergency shedding
	BatchesFailed   atomic.Int64 // store unavailable
	BatchesRejected atomic.Int64 // validation or out-of-order policy
	SamplesWritten  atomic.Int64
	SamplesEvicted  atomic.Int64
	OutOfOrder      atomic.Int64
}

// New creates a new ingestion service writing to b.
func New(cfg config.IngestionConfig, b backend.Backend, cat *catalog.Catalog) *Service {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultConfig().Ingestion.QueueSize
	}

	s := &Service{
		config:  cfg,
		backend: b,
		catalog: cat,
		queue:   make(chan *types.Batch, queueSize),
		now:     time.Now,
	}

	s.pressure = backpressure.New(cfg.Pressure, backpressure.GaugeFunc(s.QueueUsage))
	s.pressure.SetOnLevelChange(func(old, new backpressure.Level) {
		if new > old {
			log.Warn("queue pressure rising", "from", old, "to", new, "queue", len(s.queue))
		} else {
			log.Info("queue pressure easing", "from", old, "to", new, "queue", len(s.queue))
		}
	})

	return s
}

// Start starts the write worker and the pressure monitor.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return fmt.Errorf("ingestion already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.gate.Lock()
	s.running.Store(true)
	s.gate.Unlock()

	s.wg.Add(1)
	go s.writeWorker()

	if s.pressure.IsEnabled() {
		s.wg.Add(1)
		go s.pressureWorker()
	}

	log.Info("ingestion started",
		"queue_size", cap(s.queue),
		"write_timeout", s.config.WriteTimeout,
		"out_of_order", s.config.OutOfOrder)
	return nil
}

// Stop stops accepting batches, writes what is still queued and waits for
// the workers to exit.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return nil
	}

	// No batch can be queued behind the drain once running is false.
	s.gate.Lock()
	s.running.Store(false)
	s.gate.Unlock()

	s.cancel()
	s.wg.Wait()

	log.Info("ingestion stopped",
		"written", s.stats.BatchesWritten.Load(),
		"dropped", s.stats.BatchesDropped.Load(),
		"failed", s.stats.BatchesFailed.Load())
	return nil
}

// IsRunning returns whether the service is running.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// OnBatch is the ingress callback of the feed: one call per hardware scan.
//
// The parameter is classified through the catalog, the values are mapped
// onto the device's channels and stamped with one instant, and the batch is
// queued. OnBatch never blocks: when the queue is full, or pressure is at
// emergency level, the batch is dropped with errors.ErrQueueFull.
func (s *Service) OnBatch(parameter string, values []float64) error {
	dev, err := s.catalog.Device(parameter)
	if err != nil {
		s.stats.BatchesRejected.Add(1)
		return err
	}

	batch, err := dev.Map(values, s.now())
	if err != nil {
		s.stats.BatchesRejected.Add(1)
		return err
	}

	return s.Enqueue(batch)
}

// Enqueue queues a batch for the write worker.
func (s *Service) Enqueue(batch *types.Batch) error {
	s.gate.RLock()
	defer s.gate.RUnlock()

	if !s.running.Load() {
		return errors.ErrNotRunning
	}

	s.stats.BatchesReceived.Add(1)

	if s.pressure.ShouldDrop() {
		s.pressure.RecordDrop()
		s.stats.BatchesDropped.Add(1)
		return fmt.Errorf("device %s: shedding load: %w", batch.Device, errors.ErrQueueFull)
	}

	select {
	case s.queue <- batch:
		return nil
	default:
		s.stats.BatchesDropped.Add(1)
		log.Warn("queue full, batch dropped", "device", batch.Device, "channels", batch.Len())
		return fmt.Errorf("device %s: %w", batch.Device, errors.ErrQueueFull)
	}
}

// WriteBatch validates a batch and applies it to the store as one atomic
// unit, bounded by the configured write timeout.
//
// Errors:
//   - errors.ErrInvalidBatch: empty batch, unnamed channel, duplicate
//     channel, zero timestamp or non-finite value
//   - errors.ErrUnknownChannel: channel not in the catalog
//   - errors.ErrOutOfOrderSample: only under the reject policy
//   - errors.ErrStoreUnavailable: store unreachable or timed out
//
// Nothing is applied when an error is returned.
func (s *Service) WriteBatch(ctx context.Context, batch *types.Batch) error {
	entries, err := s.validate(batch)
	if err != nil {
		s.stats.BatchesRejected.Add(1)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
	defer cancel()

	res, err := s.backend.Apply(ctx, entries, backend.ApplyOptions{
		RejectOutOfOrder: s.config.RejectOutOfOrder(),
	})
	if err != nil {
		if errors.Is(err, errors.ErrOutOfOrderSample) {
			s.stats.BatchesRejected.Add(1)
			s.stats.OutOfOrder.Add(1)
			log.Warn("out-of-order batch rejected", "device", batch.Device, "error", err)
			return err
		}
		s.stats.BatchesFailed.Add(1)
		log.Error("batch dropped", "device", batch.Device, "channels", len(entries), "error", err)
		return errors.Unavailable("write batch", err)
	}

	if n := len(res.OutOfOrder); n > 0 {
		s.stats.OutOfOrder.Add(int64(n))
		log.Warn("out-of-order samples applied",
			"device", batch.Device,
			"channels", res.OutOfOrder,
			"error", errors.ErrOutOfOrderSample)
	}

	s.stats.BatchesWritten.Add(1)
	s.stats.SamplesWritten.Add(int64(len(entries)))
	s.stats.SamplesEvicted.Add(int64(res.Evicted))
	return nil
}

// validate checks the batch and returns its entries with UTC timestamps.
func (s *Service) validate(batch *types.Batch) ([]types.Entry, error) {
	if batch.Len() == 0 {
		return nil, errors.NewInvalidBatch("empty batch")
	}

	seen := make(map[types.Key]bool, batch.Len())
	entries := make([]types.Entry, 0, batch.Len())

	for _, e := range batch.Entries {
		if e.Channel.Name == "" {
			return nil, errors.NewInvalidBatch("entry without channel")
		}
		if !s.catalog.Contains(e.Channel) {
			return nil, errors.NewUnknownChannel(e.Channel.String())
		}

		key := e.Channel.Key()
		if seen[key] {
			return nil, errors.NewInvalidBatch(fmt.Sprintf("channel %s appears twice", key))
		}
		seen[key] = true

		if e.Sample.Timestamp.IsZero() {
			return nil, errors.NewInvalidBatch(fmt.Sprintf("channel %s: zero timestamp", key))
		}
		if !e.Sample.Finite() {
			return nil, errors.NewInvalidBatch(fmt.Sprintf("channel %s: non-finite value %v", key, e.Sample.Value))
		}

		entries = append(entries, types.Entry{
			Channel: e.Channel,
			Sample:  types.NewSample(e.Sample.Timestamp, e.Sample.Value),
		})
	}

	return entries, nil
}

// writeWorker drains the queue in arrival order.
func (s *Service) writeWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			s.drain()
			return
		case batch := <-s.queue:
			// Bounded by the write timeout; errors are counted and
			// logged by WriteBatch.
			_ = s.WriteBatch(context.Background(), batch)
		}
	}
}

// drain writes the batches left in the queue at shutdown.
func (s *Service) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case batch := <-s.queue:
			_ = s.WriteBatch(ctx, batch)
		default:
			return
		}
	}
}

// pressureWorker periodically evaluates the queue pressure.
func (s *Service) pressureWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Pressure.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.pressure.Check()
		}
	}
}

// QueueUsage returns the queue fill ratio.
func (s *Service) QueueUsage() float64 {
	return float64(len(s.queue)) / float64(cap(s.queue))
}

// Pressure returns the backpressure controller.
func (s *Service) Pressure() *backpressure.Controller {
	return s.pressure
}

// Stats returns current statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		Running:         s.running.Load(),
		BatchesReceived: s.stats.BatchesReceived.Load(),
		BatchesWritten:  s.stats.BatchesWritten.Load(),
		BatchesDropped:  s.stats.BatchesDropped.Load(),
		BatchesFailed:   s.stats.BatchesFailed.Load(),
		BatchesRejected: s.stats.BatchesRejected.Load(),
		SamplesWritten:  s.stats.SamplesWritten.Load(),
		SamplesEvicted:  s.stats.SamplesEvicted.Load(),
		OutOfOrder:      s.stats.OutOfOrder.Load(),
		QueueLength:     len(s.queue),
		QueueCapacity:   cap(s.queue),
		PressureLevel:   s.pressure.CurrentLevel().String(),
	}
}

// ServiceStats holds combined service statistics.
type ServiceStats struct {
	Running         bool   `json:"running"`
	BatchesReceived int64  `json:"batches_received"`
	BatchesWritten  int64  `json:"batches_written"`
	BatchesDropped  int64  `json:"batches_dropped"`
	BatchesFailed   int64  `json:"batches_failed"`
	BatchesRejected int64  `json:"batches_rejected"`
	SamplesWritten  int64  `json:"samples_written"`
	SamplesEvicted  int64  `json:"samples_evicted"`
	OutOfOrder      int64  `json:"out_of_order"`
	QueueLength     int    `json:"queue_length"`
	QueueCapacity   int    `json:"queue_capacity"`
	PressureLevel   string `json:"pressure_level"`
}
