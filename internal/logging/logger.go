package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/journal"
)

// Logger is the subset of *slog.Logger that components depend on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

type moduleLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

var (
	mu          sync.RWMutex
	modules     = map[string]*moduleLogger{}
	current     Config
	initialized bool
	output      io.Writer = os.Stdout
	globalLevel = &slog.LevelVar{}
)

// Initialize applies config to every module logger and to slog's default.
// Loggers handed out earlier share their LevelVar with the rebuilt ones,
// so they follow later level changes as well.
func Initialize(config Config) {
	mu.Lock()
	defer mu.Unlock()

	current = config
	initialized = true
	global := levelOr(config.Level, slog.LevelInfo)
	globalLevel.Set(global)

	for name, m := range modules {
		m.level.Set(moduleLevel(config, name, global))
		m.logger = newModuleLogger(config.Format, name, m.level)
	}
	slog.SetDefault(slog.New(createHandler(config.Format, globalLevel)))
}

// SetLevels applies new global and per-module levels in place. Format
// changes need a restart.
func SetLevels(config Config) {
	mu.Lock()
	defer mu.Unlock()

	current.Level = config.Level
	current.Modules = config.Modules
	global := levelOr(config.Level, slog.LevelInfo)
	globalLevel.Set(global)
	for name, m := range modules {
		m.level.Set(moduleLevel(config, name, global))
	}
}

// SetOutput redirects stdout logging, mainly for tests. Applies to
// handlers created afterwards.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// GetLogger returns the logger for module, creating it on first use.
// Every record carries a module attribute.
func GetLogger(module string) *slog.Logger {
	mu.RLock()
	m, ok := modules[module]
	mu.RUnlock()
	if ok {
		return m.logger
	}

	mu.Lock()
	defer mu.Unlock()
	if m, ok := modules[module]; ok {
		return m.logger
	}

	level := &slog.LevelVar{}
	format := "text"
	if initialized {
		level.Set(moduleLevel(current, module, levelOr(current.Level, slog.LevelInfo)))
		format = current.Format
	}
	m = &moduleLogger{level: level, logger: newModuleLogger(format, module, level)}
	modules[module] = m
	return m.logger
}

func newModuleLogger(format, module string, level slog.Leveler) *slog.Logger {
	return slog.New(createHandler(format, level)).With("module", module)
}

// createHandler writes to stdout in the given format and to the journal
// when one is reachable.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var std slog.Handler = slog.NewTextHandler(output, opts)
	if format == "json" {
		std = slog.NewJSONHandler(output, opts)
	}

	var handlers fanout
	if output != os.Stdout || stdoutUsable() {
		handlers = append(handlers, std)
	}
	if journal.Enabled() {
		handlers = append(handlers, newJournalHandler(level))
	}

	switch len(handlers) {
	case 0:
		return std
	case 1:
		return handlers[0]
	default:
		return handlers
	}
}

// stdoutUsable reports whether stdout is open on a terminal, pipe,
// socket or file.
func stdoutUsable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return mode.IsRegular() || mode&(os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0
}

func moduleLevel(config Config, module string, fallback slog.Level) slog.Level {
	return levelOr(config.Modules[module], fallback)
}

func levelOr(s string, fallback slog.Level) slog.Level {
	if l, ok := parseLevel(s); ok {
		return l
	}
	return fallback
}

// parseLevel accepts slog level names in any case plus "warning".
func parseLevel(s string) (slog.Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	if s == "" {
		return 0, false
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, false
	}
	return l, true
}
