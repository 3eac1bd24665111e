// Package logging provides structured logging for ebismon.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//
//	// Get a component logger
//	log := logging.Component("ingestion")
//	log.Info("batch applied", "device", "hv", "channels", 4)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Logger is the global logger instance.
var Logger *slog.Logger

// level is shared by every handler built by Init so SetLevel can change the
// verbosity of component loggers that were created before.
var level = new(slog.LevelVar)

var initialized atomic.Bool

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(lvl slog.Level, jsonFormat bool) {
	InitWriter(os.Stdout, lvl, jsonFormat)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, lvl slog.Level, jsonFormat bool) {
	level.Set(lvl)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
	initialized.Store(true)
}

// SetLevel changes the minimum level of loggers created by Init.
func SetLevel(lvl slog.Level) {
	level.Set(lvl)
}

// ParseLevel parses "debug", "info", "warn" or "error".
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func ensure() {
	if !initialized.Load() {
		Init(slog.LevelInfo, false)
	}
}

// With returns a new logger with additional attributes.
// These attributes are included in every log entry from the returned logger.
func With(args ...any) *slog.Logger {
	ensure()
	return Logger.With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Component loggers resolve the global handler lazily, so a package-level
// `var log = logging.Component("x")` picks up a later Init.
//
// Example:
//
//	log := logging.Component("query")
//	log.Info("started") // Output: time=... level=INFO component=query msg=started
func Component(name string) *slog.Logger {
	return slog.New(&componentHandler{attrs: []slog.Attr{slog.String("component", name)}})
}

// componentHandler forwards to whatever Logger currently holds.
type componentHandler struct {
	attrs []slog.Attr
	group string
}

func (h *componentHandler) target() slog.Handler {
	ensure()
	t := Logger.Handler()
	if len(h.attrs) > 0 {
		t = t.WithAttrs(h.attrs)
	}
	if h.group != "" {
		t = t.WithGroup(h.group)
	}
	return t
}

func (h *componentHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.target().Enabled(ctx, lvl)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.target().Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &componentHandler{attrs: merged, group: h.group}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{attrs: h.attrs, group: name}
}

// WithContext returns a logger that includes context values.
// This is useful for request-scoped logging.
func WithContext(ctx context.Context) *slog.Logger {
	ensure()

	logger := Logger

	if requestID, ok := ctx.Value(contextKeyRequestID).(uint64); ok {
		logger = logger.With("request_id", requestID)
	}
	if device, ok := ctx.Value(contextKeyDevice).(string); ok {
		logger = logger.With("device", device)
	}

	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyRequestID contextKey = iota
	contextKeyDevice
)

// ContextWithRequestID adds a request ID to the context for logging.
func ContextWithRequestID(ctx context.Context, requestID uint64) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// ContextWithDevice adds a feed device name to the context for logging.
func ContextWithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, contextKeyDevice, device)
}
