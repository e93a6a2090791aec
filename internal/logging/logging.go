// Package logging wires slog to size-rotated JSON log files and keeps a
// ring buffer of recent records for the status endpoint.
package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aseofsmartice/surveillance/internal/config"
)

// Log file names under the logging directory.
const (
	CaptureLog     = "capture.log"
	ErrorLog       = "errors.log"
	PerformanceLog = "performance.log"
)

// perfComponents route their records into the performance log as well:
// GPU samples, dispatcher job timings, and buffer flush statistics.
var perfComponents = map[string]bool{
	"gpu":          true,
	"dispatch":     true,
	"event_buffer": true,
}

// Logs holds the configured sinks. Close flushes the rotating files.
type Logs struct {
	Buffer  *RingBuffer
	closers []*lumberjack.Logger
}

// Setup installs the process-wide slog default: JSON records to the
// rotating capture log, errors duplicated into the error log, processing
// and GPU records duplicated into the performance log, and everything
// mirrored into the ring buffer. In debug level the records also go to
// stderr.
func Setup(cfg config.LoggingConfig) (*Logs, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, err
	}

	level := parseLevel(cfg.Level)
	capture := rotated(filepath.Join(cfg.Dir, CaptureLog), cfg)
	errors := rotated(filepath.Join(cfg.Dir, ErrorLog), cfg)
	perf := rotated(filepath.Join(cfg.Dir, PerformanceLog), cfg)

	buffer := NewRingBuffer(1000)
	handler := slog.Handler(&teeHandler{
		main: &teeHandler{
			main: slog.NewJSONHandler(capture, &slog.HandlerOptions{Level: level}),
			errs: slog.NewJSONHandler(errors, &slog.HandlerOptions{Level: slog.LevelError}),
		},
		errs: &componentHandler{
			inner:      slog.NewJSONHandler(perf, &slog.HandlerOptions{Level: level}),
			components: perfComponents,
		},
	})
	if level == slog.LevelDebug {
		handler = &teeHandler{
			main: handler,
			errs: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		}
	}
	slog.SetDefault(slog.New(newCaptureHandler(buffer, handler)))

	return &Logs{
		Buffer:  buffer,
		closers: []*lumberjack.Logger{capture, errors, perf},
	}, nil
}

// Close flushes and closes the rotating files.
func (l *Logs) Close() {
	for _, c := range l.closers {
		_ = c.Close()
	}
}

func rotated(path string, cfg config.LoggingConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// teeHandler forwards every record to main and error-level records to
// errs as well.
type teeHandler struct {
	main slog.Handler
	errs slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.main.Enabled(ctx, level) || h.errs.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.main.Enabled(ctx, r.Level) {
		err = h.main.Handle(ctx, r)
	}
	if h.errs.Enabled(ctx, r.Level) {
		if e := h.errs.Handle(ctx, r.Clone()); e != nil && err == nil {
			err = e
		}
	}
	return err
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{main: h.main.WithAttrs(attrs), errs: h.errs.WithAttrs(attrs)}
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{main: h.main.WithGroup(name), errs: h.errs.WithGroup(name)}
}

// componentHandler forwards records only for loggers whose "component"
// attribute is in the allowed set. The attribute arrives through With on
// the package logger, so it is tracked across WithAttrs.
type componentHandler struct {
	inner      slog.Handler
	components map[string]bool
	component  string
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.components[h.component] && h.inner.Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	component := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			component = a.Value.String()
		}
	}
	return &componentHandler{
		inner:      h.inner.WithAttrs(attrs),
		components: h.components,
		component:  component,
	}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{
		inner:      h.inner.WithGroup(name),
		components: h.components,
		component:  h.component,
	}
}
