// Package logger holds the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config for logger
type Config struct {
	Level   string // debug, info, warn, error
	Format  string // json or console
	Service string
	Output  io.Writer
}

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stdout).With().Timestamp().Str("service", "flow").Logger()
)

// ParseLevel parses a string level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// New builds a logger from cfg without touching the default one.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if cfg.Service == "" {
		cfg.Service = "flow"
	}
	return zerolog.New(out).
		Level(ParseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Logger()
}

// Init replaces the default logger.
func Init(cfg Config) zerolog.Logger {
	l := New(cfg)
	mu.Lock()
	base = l
	mu.Unlock()
	return l
}

// Get returns the default logger for injection into components.
func Get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Get().With().Str("component", name).Logger()
}

func WithField(key string, value any) zerolog.Logger {
	return Get().With().Interface(key, value).Logger()
}

func WithError(err error) zerolog.Logger {
	return Get().With().Err(err).Logger()
}

// Package-level functions using default logger
func Debug(msg string, args ...any) { l := Get(); l.Debug().Msgf(msg, args...) }
func Info(msg string, args ...any)  { l := Get(); l.Info().Msgf(msg, args...) }
func Warn(msg string, args ...any)  { l := Get(); l.Warn().Msgf(msg, args...) }
func Error(msg string, args ...any) { l := Get(); l.Error().Msgf(msg, args...) }
func Fatal(msg string, args ...any) { l := Get(); l.Fatal().Msgf(msg, args...) }
