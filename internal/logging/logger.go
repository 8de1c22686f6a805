// Package logging owns the process-wide structured logger: slog over a
// rotating file. Component loggers are created as package-level vars before
// Init runs, so they resolve the active handler lazily at log time.
package logging

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names attached to every record.
const (
	CompStore     = "store"
	CompSearch    = "search"
	CompAnalytics = "analytics"
	CompIngest    = "ingest"
	CompService   = "service"
	CompWeb       = "web"
)

// Config selects the sink, level, format, and rotation policy.
type Config struct {
	Dir        string // empty: records are discarded
	Level      string // debug, info, warn, error
	Format     string // json (default) or text
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Debug      bool // forces debug level regardless of Level
}

var state struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	rotator *lumberjack.Logger
}

func parseLevel(cfg Config) slog.Level {
	if cfg.Debug {
		return slog.LevelDebug
	}
	switch cfg.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Init installs the global logger. Callable more than once; the last call
// wins.
func Init(cfg Config) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if cfg.Dir == "" {
		state.logger = discardLogger()
		return
	}

	state.rotator = &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, "turnlog.log"),
		MaxSize:    orDefault(cfg.MaxSizeMB, 10),
		MaxBackups: orDefault(cfg.MaxBackups, 5),
		MaxAge:     orDefault(cfg.MaxAgeDays, 14),
		Compress:   cfg.Compress,
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg)}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(state.rotator, opts)
	} else {
		h = slog.NewJSONHandler(state.rotator, opts)
	}
	state.logger = slog.New(h)
}

// Logger returns the active global logger, or a discarding one before Init.
func Logger() *slog.Logger {
	state.mu.RLock()
	defer state.mu.RUnlock()
	if state.logger == nil {
		return discardLogger()
	}
	return state.logger
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// ForComponent returns a logger tagged with a component name. The returned
// logger binds to whatever handler Init installs, even when created first.
func ForComponent(name string) *slog.Logger {
	return slog.New(&lateHandler{component: name})
}

// lateHandler resolves the global handler on every call instead of capturing
// it at construction.
type lateHandler struct {
	component string
	attrs     []slog.Attr
	group     string
}

func (h *lateHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return Logger().Handler().Enabled(ctx, level)
}

func (h *lateHandler) Handle(ctx context.Context, r slog.Record) error {
	target := Logger().Handler().WithAttrs([]slog.Attr{slog.String("component", h.component)})
	if len(h.attrs) > 0 {
		target = target.WithAttrs(h.attrs)
	}
	if h.group != "" {
		target = target.WithGroup(h.group)
	}
	return target.Handle(ctx, r)
}

func (h *lateHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &lateHandler{component: h.component, attrs: merged, group: h.group}
}

func (h *lateHandler) WithGroup(name string) slog.Handler {
	return &lateHandler{component: h.component, attrs: h.attrs, group: name}
}

// Shutdown closes the rotating writer and drops the global logger.
func Shutdown() {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.rotator != nil {
		_ = state.rotator.Close()
		state.rotator = nil
	}
	state.logger = nil
}
