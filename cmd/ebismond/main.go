// ebismond bridges the TwinEBIS control-system feed to the monitoring
// dashboard through the bounded ring store.
package main

import (
	"context"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/ebismon/internal/catalog"
	"github.com/xtxerr/ebismon/internal/dashboard"
	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/feed"
	"github.com/xtxerr/ebismon/internal/loader"
	"github.com/xtxerr/ebismon/internal/logging"
	"github.com/xtxerr/ebismon/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

var log = logging.Component("main")

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "dashboard listen address (overrides config)")
	backend := flag.String("backend", "", "storage backend: memory or duckdb (overrides config)")
	dbPath := flag.String("db", "", "DuckDB database path (overrides config)")
	mock := flag.Bool("mock", false, "generate synthetic data instead of reading the feed")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	watch := flag.Bool("watch", false, "watch config for log level changes")
	dump := flag.String("dump", "", "print the rows of an export file as JSON lines and exit")
	flag.Parse()

	if *dump != "" {
		if err := dumpExport(*dump, os.Stdout); err != nil {
			log.Error("dump failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*cfgPath, func(cfg *loader.Config) {
		if *listen != "" {
			cfg.Dashboard.Listen = *listen
		}
		if *backend != "" {
			cfg.Storage.Backend = *backend
		}
		if *dbPath != "" {
			cfg.Storage.DuckDB.Path = *dbPath
		}
		if *mock {
			cfg.Storage.Mock = true
		}
		if *logLevel != "" {
			cfg.Logging.Level = *logLevel
		}
	}, *watch); err != nil {
		log.Error("ebismond failed", "error", err)
		os.Exit(1)
	}
}

func run(cfgPath string, override func(*loader.Config), watch bool) error {
	// Load config
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		log.Info("no config file found, using defaults", "path", cfgPath)
		cfg = loader.DefaultConfig()
		watch = false
	}
	override(cfg)

	if err := loader.Validate(cfg); err != nil {
		return err
	}
	if err := loader.InitLogging(&cfg.Logging); err != nil {
		return err
	}
	log.Info("ebismond starting", "version", Version, "backend", cfg.Storage.Backend, "mock", cfg.Storage.Mock)

	cat, err := catalog.New(cfg.Catalog)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// =========================================================================
	// Ring Store
	// =========================================================================

	store, err := storage.New(&cfg.Storage, cat)
	if err != nil {
		return err
	}
	defer store.Close()

	// Fail fast when the store cannot be reached.
	if err := store.Connect(ctx); err != nil {
		return err
	}
	if err := store.Start(); err != nil {
		return err
	}
	defer store.Stop()

	// =========================================================================
	// Feeds
	// =========================================================================

	sink := store.Ingestion()
	var sources []feed.Source

	if admin, ok := store.Admin(); ok {
		syn := loader.ToSyntheticConfig(&cfg.Feed.Synthetic)
		sources = append(sources, feed.NewSynthetic(syn, cat, sink, admin))
	} else {
		if cfg.Feed.MQTT != nil {
			sources = append(sources, feed.NewMQTT(loader.ToMQTTConfig(cfg.Feed.MQTT), sink))
		}
		if devices := loader.ToSNMPDevices(&cfg.Feed.SNMP); len(devices) > 0 {
			sources = append(sources, feed.NewSNMP(devices, sink))
		}
	}
	if len(sources) == 0 {
		log.Warn("no feed configured, the store will stay empty")
	}

	// =========================================================================
	// Dashboard
	// =========================================================================

	dash, err := dashboard.New(cfg.Dashboard, store)
	if err != nil {
		return err
	}

	// =========================================================================
	// Run
	// =========================================================================

	g, ctx := errgroup.WithContext(ctx)

	for _, src := range sources {
		g.Go(func() error {
			log.Info("feed started", "source", src.Name())
			if err := src.Run(ctx); err != nil {
				return errors.Wrapf(err, "feed %s", src.Name())
			}
			return nil
		})
	}

	g.Go(func() error {
		return dash.Run(ctx)
	})

	if watch {
		w := loader.NewWatcher(cfgPath, 5*time.Second, func(_ *loader.Config, err error) {
			if err == nil {
				log.Info("only the log level is applied at runtime, restart for other changes")
			}
		})
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	err = g.Wait()
	log.Info("shutting down", "stats", store.Stats(context.Background()))
	return err
}
