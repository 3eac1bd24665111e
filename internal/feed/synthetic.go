package feed

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/ebismon/internal/catalog"
	"github.com/xtxerr/ebismon/internal/logging"
)

var synthLog = logging.Component("feed.synthetic")

// Resetter wipes the store before synthetic data is generated.
// *storage.Admin implements it.
type Resetter interface {
	ResetAll(ctx context.Context) error
}

// SyntheticConfig configures the random-walk generator.
type SyntheticConfig struct {
	// MinPeriod and MaxPeriod bound the random delay between two rounds.
	MinPeriod time.Duration
	MaxPeriod time.Duration

	// LogGroups lists channel groups that walk multiplicatively around
	// LogStart, so they stay positive on a log axis.
	LogGroups []string
	LogStart  float64

	// Seed fixes the generator. Zero seeds from the clock.
	Seed int64
}

// Synthetic emits one random-walk scan per catalog device every round.
type Synthetic struct {
	config  SyntheticConfig
	catalog *catalog.Catalog
	sink    Sink
	reset   Resetter

	mu     sync.Mutex
	rng    *rand.Rand
	state  map[string][]float64 // per device, by value index
	logGrp map[string]bool

	rounds   atomic.Int64
	rejected atomic.Int64
}

var _ Source = (*Synthetic)(nil)

// NewSynthetic creates a generator. reset may be nil.
func NewSynthetic(cfg SyntheticConfig, cat *catalog.Catalog, sink Sink, reset Resetter) *Synthetic {
	if cfg.MinPeriod <= 0 {
		cfg.MinPeriod = 800 * time.Millisecond
	}
	if cfg.MaxPeriod < cfg.MinPeriod {
		cfg.MaxPeriod = cfg.MinPeriod
	}
	if cfg.LogStart <= 0 {
		cfg.LogStart = 1e-9
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	logGrp := make(map[string]bool, len(cfg.LogGroups))
	for _, g := range cfg.LogGroups {
		logGrp[g] = true
	}

	return &Synthetic{
		config:  cfg,
		catalog: cat,
		sink:    sink,
		reset:   reset,
		rng:     rand.New(rand.NewSource(seed)),
		state:   make(map[string][]float64),
		logGrp:  logGrp,
	}
}

// Name implements Source.
func (s *Synthetic) Name() string { return "synthetic" }

// Run wipes the store once, then emits a round after every random delay
// until ctx is done.
func (s *Synthetic) Run(ctx context.Context) error {
	if s.reset != nil {
		if err := s.reset.ResetAll(ctx); err != nil {
			return fmt.Errorf("reset store: %w", err)
		}
	}

	synthLog.Info("generating synthetic data",
		"devices", len(s.catalog.Devices()),
		"min_period", s.config.MinPeriod,
		"max_period", s.config.MaxPeriod)

	for {
		s.Round()

		select {
		case <-ctx.Done():
			synthLog.Info("synthetic generator stopped", "rounds", s.rounds.Load())
			return nil
		case <-time.After(s.period()):
		}
	}
}

// Round emits one scan per device.
func (s *Synthetic) Round() {
	s.rounds.Add(1)
	for _, d := range s.catalog.Devices() {
		values := s.next(d)
		if err := s.sink.OnBatch(d.Name, values); err != nil {
			s.rejected.Add(1)
			synthLog.Debug("synthetic scan dropped", "device", d.Name, "error", err)
		}
	}
}

// next advances the walk of every value of d.
func (s *Synthetic) next(d *catalog.Device) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	multiplicative := s.logGrp[d.Group]

	cur, ok := s.state[d.Name]
	if !ok {
		cur = make([]float64, d.Width())
		if multiplicative {
			for i := range cur {
				cur[i] = s.config.LogStart
			}
		}
		s.state[d.Name] = cur
	}

	for i := range cur {
		step := s.rng.Float64() - 0.5
		if multiplicative {
			cur[i] *= math.Exp(step / 10)
		} else {
			cur[i] += step
		}
	}

	out := make([]float64, len(cur))
	copy(out, cur)
	return out
}

func (s *Synthetic) period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	spread := s.config.MaxPeriod - s.config.MinPeriod
	if spread <= 0 {
		return s.config.MinPeriod
	}
	return s.config.MinPeriod + time.Duration(s.rng.Int63n(int64(spread)))
}

// Stats returns source counters.
func (s *Synthetic) Stats() Stats {
	return Stats{Scans: s.rounds.Load(), Rejected: s.rejected.Load()}
}
