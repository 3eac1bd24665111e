package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/ebismon/internal/catalog"
	"github.com/xtxerr/ebismon/internal/storage"
	"github.com/xtxerr/ebismon/internal/storage/config"
	testutil "github.com/xtxerr/ebismon/internal/testing"
)

const hvParameter = "TwinEBIS_cRIO_HV/PSU_all_values#I_read"

func startService(t *testing.T, cfg *config.Config) *storage.Service {
	t.Helper()

	svc, err := storage.New(cfg, catalog.MustDefault())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return svc
}

// TestIntegration_FullPipeline drives feed events through the queue and
// reads them back, once per backend.
func TestIntegration_FullPipeline(t *testing.T) {
	backends := map[string]func(t *testing.T, cfg *config.Config){
		"memory": func(t *testing.T, cfg *config.Config) { cfg.Backend = "memory" },
		"duckdb": func(t *testing.T, cfg *config.Config) {
			cfg.Backend = "duckdb"
			cfg.DuckDB.Path = filepath.Join(t.TempDir(), "ebis.duckdb")
		},
	}

	for name, setup := range backends {
		t.Run(name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.BufferLen = 3
			setup(t, cfg)

			svc := startService(t, cfg)
			ing := svc.Ingestion()

			start := time.Now().UTC()
			for i := 1; i <= 4; i++ {
				v := float64(i)
				if err := ing.OnBatch(hvParameter, []float64{v, v + 10, v + 20, v + 30}); err != nil {
					t.Fatalf("OnBatch %d: %v", i, err)
				}
			}

			err := testutil.Eventually(5*time.Second, 10*time.Millisecond, func() bool {
				return ing.Stats().BatchesWritten == 4
			})
			if err != nil {
				t.Fatalf("batches not written: %+v", ing.Stats())
			}

			window, err := svc.Query().ReadWindow(context.Background(),
				[]string{"HV_GunBias", "HV_Extractor"}, start.Add(-time.Minute), time.Now().UTC().Add(time.Minute))
			if err != nil {
				t.Fatalf("ReadWindow: %v", err)
			}

			gunBias := window["HV_GunBias"]
			if len(gunBias) != 3 {
				t.Fatalf("expected 3 samples after eviction, got %d", len(gunBias))
			}
			for i, want := range []float64{2, 3, 4} {
				if gunBias[i].Value != want {
					t.Errorf("HV_GunBias[%d] = %v, want %v", i, gunBias[i].Value, want)
				}
			}

			// One scan is one instant across every channel of the device.
			extractor := window["HV_Extractor"]
			for i := range gunBias {
				if !gunBias[i].Timestamp.Equal(extractor[i].Timestamp) {
					t.Errorf("sample %d: timestamps differ across channels", i)
				}
			}
			if extractor[2].Value != 34 {
				t.Errorf("expected newest HV_Extractor 34, got %v", extractor[2].Value)
			}
		})
	}
}

func TestIntegration_ServiceLifecycle(t *testing.T) {
	cfg := config.DefaultConfig()

	svc, err := storage.New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := svc.Connect(context.Background()); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		if err := svc.Start(); err != nil {
			t.Fatalf("Start cycle %d: %v", i, err)
		}
		if err := svc.Stop(); err != nil {
			t.Fatalf("Stop cycle %d: %v", i, err)
		}
	}

	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
