// Package dashboard serves the HTTP API the chart page polls.
//
// Endpoints:
//
//	GET /api/window   raw samples of a window, oldest-first
//	GET /api/figure   chart payload of one category
//	GET /api/latest   newest sample per channel
//	GET /api/range    newest-first index range of one channel
//	GET /api/summary  window statistics, optionally bucketed
//	GET /api/export   window as a Parquet file
//	GET /api/stats    store statistics
//	GET /healthz      store health
//
// Windows are selected with minutes=N (the last N minutes) or with
// from/to in RFC 3339. channels=a,b restricts the read; by default every
// channel is read.
package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	defaults "github.com/xtxerr/ebismon/config"
	"github.com/xtxerr/ebismon/internal/catalog"
	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/logging"
	"github.com/xtxerr/ebismon/internal/storage"
	"github.com/xtxerr/ebismon/internal/storage/query"
)

var log = logging.Component("dashboard")

// Store is the part of the storage service the API reads from.
// *storage.Service implements it.
type Store interface {
	Query() *query.Service
	Catalog() *catalog.Catalog
	Export(ctx context.Context, w io.Writer, names []string, from, to time.Time) (int64, error)
	IsHealthy(ctx context.Context) bool
	Stats(ctx context.Context) storage.ServiceStats
}

// Server serves the dashboard API over HTTP.
type Server struct {
	config     Config
	store      Store
	loc        *time.Location
	httpServer *http.Server
	poller     *Poller

	figures  singleflight.Group
	requests atomic.Uint64
}

// New creates a Server reading from store.
func New(cfg Config, store Store) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dashboard config: %w", err)
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	s := &Server{config: cfg, store: store, loc: loc}
	s.poller = NewPoller(cfg.PollInterval, func(ctx context.Context) (Figure, error) {
		return s.buildFigure(ctx, cfg.Categories[0], cfg.WindowMinutes)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /api/window", s.handleWindow)
	mux.HandleFunc("GET /api/figure", s.handleFigure)
	mux.HandleFunc("GET /api/latest", s.handleLatest)
	mux.HandleFunc("GET /api/range", s.handleRange)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/export", s.handleExport)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.withRequestID(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Poller returns the poller that keeps the default figure fresh.
func (s *Server) Poller() *Poller {
	return s.poller
}

// Run polls the default figure and serves HTTP until ctx is done, then
// drains open requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	log.Info("dashboard listening", "addr", ln.Addr().String())

	go s.poller.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaults.DefaultShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// withRequestID tags every request so its log lines can be correlated.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.ContextWithRequestID(r.Context(), s.requests.Add(1))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderIndex(w, s.config)
}

func (s *Server) handleWindow(w http.ResponseWriter, r *http.Request) {
	names := channelsParam(r)
	from, to, err := s.windowParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	window, err := s.store.Query().ReadWindow(r.Context(), names, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, formatWindow(window, from, to))
}

func (s *Server) handleFigure(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("category")
	if name == "" {
		name = s.config.Categories[0].Name
	}
	c, ok := s.config.category(name)
	if !ok {
		writeError(w, r, errors.Wrapf(errors.ErrUnknownChannel, "category %q", name))
		return
	}

	minutes, err := s.minutesParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// A polled figure is only served while the store still answers;
	// otherwise the build below reports the store error.
	if c.Name == s.config.Categories[0].Name && minutes == s.config.WindowMinutes {
		if fig, ok := s.poller.Current(); ok && s.store.IsHealthy(r.Context()) {
			writeJSON(w, http.StatusOK, fig)
			return
		}
	}

	// Shared builds must outlive the request that started them.
	ctx := context.WithoutCancel(r.Context())
	key := c.Name + "/" + strconv.Itoa(minutes)
	v, err, _ := s.figures.Do(key, func() (interface{}, error) {
		return s.buildFigure(ctx, c, minutes)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v.(Figure))
}

func (s *Server) buildFigure(ctx context.Context, c Category, minutes int) (Figure, error) {
	q := s.store.Query()
	from, to, err := q.Recent(minutes)
	if err != nil {
		return Figure{}, err
	}

	names := channelNames(s.store.Catalog(), c.Group)
	if len(names) == 0 {
		return BuildFigure(c, nil, nil, from, to, s.loc), nil
	}

	window, err := q.ReadWindow(ctx, names, from, to)
	if err != nil {
		return Figure{}, err
	}
	return BuildFigure(c, names, window, from, to, s.loc), nil
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := s.store.Query().Latest(r.Context(), channelsParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, formatLatest(latest))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	names := channelsParam(r)
	from, to, err := s.windowParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	q := s.store.Query()
	if b := r.URL.Query().Get("bucket"); b != "" {
		size, err := time.ParseDuration(b)
		if err != nil {
			writeError(w, r, errors.Wrapf(errors.ErrInvalidWindow, "bucket %q", b))
			return
		}
		buckets, err := q.SummarizeBuckets(r.Context(), names, from, to, size)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, formatBuckets(buckets))
		return
	}

	summaries, err := q.Summarize(r.Context(), names, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, formatSummaries(summaries))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	names := channelsParam(r)
	from, to, err := s.windowParams(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Buffered so a failed export can still answer with an error status.
	var buf bytes.Buffer
	n, err := s.store.Export(r.Context(), &buf, names, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}

	filename := fmt.Sprintf("ebismon-%s.parquet", to.UTC().Format("20060102T150405Z"))
	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("X-Row-Count", strconv.FormatInt(n, 10))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsJSON{
		Store:  s.store.Stats(r.Context()),
		Poller: s.poller.Stats(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.store.IsHealthy(r.Context()) {
		writeError(w, r, errors.Wrap(errors.ErrStoreUnavailable, "health check failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// Parameters
// =============================================================================

// channelsParam splits channels=a,b. Empty means every channel.
// handleRange serves channel=NAME&start=I&stop=J with list-range indices;
// start defaults to 0 and stop to -1.
func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := q.Get("channel")
	if name == "" {
		writeError(w, r, errors.Wrap(errors.ErrUnknownChannel, "channel parameter is required"))
		return
	}

	start, err := indexParam(q.Get("start"), 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	stop, err := indexParam(q.Get("stop"), -1)
	if err != nil {
		writeError(w, r, err)
		return
	}

	samples, err := s.store.Query().Range(r.Context(), name, start, stop)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, formatRange(name, samples))
}

func indexParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	i, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidWindow, "index %q", raw)
	}
	return i, nil
}

func channelsParam(r *http.Request) []string {
	raw := r.URL.Query().Get("channels")
	if raw == "" {
		return nil
	}
	var names []string
	for _, n := range strings.Split(raw, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func (s *Server) minutesParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("minutes")
	if raw == "" {
		return s.config.WindowMinutes, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalidWindow, "minutes %q", raw)
	}
	return minutes, nil
}

// windowParams reads from/to if given, the last minutes otherwise.
func (s *Server) windowParams(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if q.Has("from") || q.Has("to") {
		if from, err = time.Parse(time.RFC3339Nano, q.Get("from")); err != nil {
			return from, to, errors.Wrapf(errors.ErrInvalidWindow, "from %q", q.Get("from"))
		}
		if to, err = time.Parse(time.RFC3339Nano, q.Get("to")); err != nil {
			return from, to, errors.Wrapf(errors.ErrInvalidWindow, "to %q", q.Get("to"))
		}
		return from, to, nil
	}

	minutes, err := s.minutesParam(r)
	if err != nil {
		return from, to, err
	}
	return s.store.Query().Recent(minutes)
}
