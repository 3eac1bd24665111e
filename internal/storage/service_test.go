package storage

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/ebismon/internal/catalog"
	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/storage/backend"
	"github.com/xtxerr/ebismon/internal/storage/backend/memory"
	"github.com/xtxerr/ebismon/internal/storage/config"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// flaky fails the first n pings.
type flaky struct {
	*memory.Store
	failures int64
	pings    atomic.Int64
}

func (f *flaky) Ping(ctx context.Context) error {
	if f.pings.Add(1) <= f.failures {
		return errors.Unavailable("ping", errors.New("connection refused"))
	}
	return f.Store.Ping(ctx)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BufferLen = 100
	cfg.Connect.Retries = 3
	cfg.Connect.Backoff = time.Millisecond
	cfg.Connect.MaxBackoff = 2 * time.Millisecond
	return cfg
}

func newConnected(t *testing.T, cfg *config.Config) *Service {
	t.Helper()

	svc, err := New(cfg, catalog.MustDefault())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return svc
}

func TestService_NewWithNilConfig(t *testing.T) {
	svc, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if svc.Config().BufferLen != 7200 {
		t.Errorf("expected default buffer len, got %d", svc.Config().BufferLen)
	}
	if svc.Backend() != nil || svc.Query() != nil || svc.Ingestion() != nil {
		t.Error("nothing should be opened before Connect")
	}
}

func TestService_NewInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Backend = "redis"

	if _, err := New(cfg, nil); !errors.Is(err, errors.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestService_Connect(t *testing.T) {
	svc := newConnected(t, testConfig())

	if svc.Backend() == nil || svc.Backend().Name() != "memory" {
		t.Fatalf("expected memory backend, got %v", svc.Backend())
	}
	if svc.Backend().Capacity() != 100 {
		t.Errorf("expected capacity 100, got %d", svc.Backend().Capacity())
	}
	if svc.Query() == nil || svc.Ingestion() == nil {
		t.Error("connect should wire the read and write paths")
	}
	if !svc.IsHealthy(context.Background()) {
		t.Error("connected service should be healthy")
	}

	// Second connect is a no-op.
	b := svc.Backend()
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if svc.Backend() != b {
		t.Error("second connect should keep the backend")
	}
}

func TestService_ConnectRetries(t *testing.T) {
	f := &flaky{Store: memory.New(10), failures: 2}

	svc, err := New(testConfig(), nil, WithBackend(f))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect should succeed after retries: %v", err)
	}
	if got := f.pings.Load(); got != 3 {
		t.Errorf("expected 3 pings, got %d", got)
	}
}

func TestService_ConnectUnreachable(t *testing.T) {
	f := &flaky{Store: memory.New(10), failures: 1 << 30}

	svc, err := New(testConfig(), nil, WithBackend(f))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	err = svc.Connect(context.Background())
	if !errors.Is(err, errors.ErrStoreUnreachable) {
		t.Fatalf("expected ErrStoreUnreachable, got %v", err)
	}
	if got := f.pings.Load(); got != 4 {
		t.Errorf("expected 1 probe plus 3 retries, got %d", got)
	}
	if svc.IsHealthy(context.Background()) {
		t.Error("unreachable store should not be healthy")
	}
	if err := svc.Start(); !errors.Is(err, errors.ErrNotRunning) {
		t.Errorf("start without connection should fail, got %v", err)
	}
}

func TestService_ConnectCanceled(t *testing.T) {
	f := &flaky{Store: memory.New(10), failures: 1 << 30}

	cfg := testConfig()
	cfg.Connect.Backoff = time.Hour
	cfg.Connect.MaxBackoff = time.Hour

	svc, err := New(cfg, nil, WithBackend(f))
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = svc.Connect(ctx)
	if !errors.Is(err, errors.ErrStoreUnreachable) {
		t.Errorf("expected ErrStoreUnreachable, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("connect should stop waiting when the context ends")
	}
}

func TestService_StartStop(t *testing.T) {
	svc := newConnected(t, testConfig())

	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !svc.IsRunning() || !svc.Ingestion().IsRunning() {
		t.Error("service should be running")
	}
	if err := svc.Start(); err == nil {
		t.Error("second start should fail")
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if svc.IsRunning() {
		t.Error("service should be stopped")
	}
	if err := svc.Stop(); err != nil {
		t.Errorf("second stop should be a no-op: %v", err)
	}
}

func TestService_CloseIdempotent(t *testing.T) {
	svc := newConnected(t, testConfig())
	if err := svc.Start(); err != nil {
		t.Fatal(err)
	}

	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if svc.IsRunning() {
		t.Error("closed service should not run")
	}
	if svc.IsHealthy(context.Background()) {
		t.Error("closed service should not be healthy")
	}
	if err := svc.Connect(context.Background()); !errors.Is(err, errors.ErrStoreClosed) {
		t.Errorf("connect after close should fail, got %v", err)
	}
}

func TestService_AdminOnlyInMockMode(t *testing.T) {
	svc := newConnected(t, testConfig())

	if _, ok := svc.Admin(); ok {
		t.Error("admin must not be available outside mock mode")
	}
}

func TestService_ResetAll(t *testing.T) {
	cfg := testConfig()
	cfg.Mock = true
	svc := newConnected(t, cfg)

	ch := types.Channel{Name: "HV_GunBias", Group: "psu"}
	_, err := svc.Backend().Apply(context.Background(),
		[]types.Entry{{Channel: ch, Sample: types.NewSample(base, 1)}}, backend.ApplyOptions{})
	if err != nil {
		t.Fatal(err)
	}

	admin, ok := svc.Admin()
	if !ok {
		t.Fatal("admin should be available in mock mode")
	}
	if err := admin.ResetAll(context.Background()); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}

	got, err := svc.Query().Latest(context.Background(), []string{"HV_GunBias"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty store after reset, got %v", got)
	}
}

func TestService_Export(t *testing.T) {
	svc := newConnected(t, testConfig())

	ch := types.Channel{Name: "EBIS_Gun_Penning", Group: "gauge"}
	_, err := svc.Backend().Apply(context.Background(),
		[]types.Entry{{Channel: ch, Sample: types.NewSample(base, 3e-9)}}, backend.ApplyOptions{})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	n, err := svc.Export(context.Background(), &buf, []string{"EBIS_Gun_Penning"}, base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row, got %d", n)
	}
	if buf.Len() == 0 {
		t.Error("export should write data")
	}
}

func TestService_ExportNotConnected(t *testing.T) {
	svc, err := New(testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if _, err := svc.Export(context.Background(), &buf, nil, base, base); !errors.Is(err, errors.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestService_Stats(t *testing.T) {
	svc, err := New(testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()

	if st := svc.Stats(context.Background()); st.Connected || st.Running {
		t.Errorf("unexpected stats before connect: %+v", st)
	}

	if err := svc.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := svc.Stats(context.Background())
	if !st.Connected || st.Backend.Backend != "memory" || st.Backend.Capacity != 100 {
		t.Errorf("unexpected stats %+v", st)
	}
}
