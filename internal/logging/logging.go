// Package logging configures the process-wide zerolog logger.
//
// Diagnostics always go to stderr (or a caller-supplied writer): stdout is
// reserved for the looped command's output and the summary block.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger initialisation.
type Config struct {
	// Level is a zerolog level name ("debug", "info", "warn", ...).
	// Empty or unknown names fall back to DefaultLevel.
	Level string

	// Format is "console" or "json". Empty means console.
	Format string

	// EnableCaller adds file:line to every event.
	EnableCaller bool

	// Output overrides the destination. Nil means os.Stderr.
	Output io.Writer

	// NoColor disables ANSI colour in console output.
	NoColor bool
}

// DefaultLevel is used when Config.Level is empty or invalid.
const DefaultLevel = zerolog.WarnLevel

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stderr).Level(DefaultLevel).With().Timestamp().Logger()
)

// Init replaces the base logger. It is safe to call more than once; loggers
// previously returned by Component keep their old configuration.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if !strings.EqualFold(cfg.Format, "json") {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.TimeOnly,
			NoColor:    cfg.NoColor,
		}
	}

	ctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.EnableCaller {
		ctx = ctx.Caller()
	}

	mu.Lock()
	base = ctx.Logger()
	mu.Unlock()
}

// ParseLevel converts a level name into a zerolog.Level.
func ParseLevel(name string) zerolog.Level {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return DefaultLevel
	}
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return DefaultLevel
	}
	return lvl
}

// Logger returns the current base logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Logger().With().Str("component", name).Logger()
}

// With returns a copy of the base logger with a string field attached, and
// installs it as the new base. Used to tag every later logger with the run's
// session id.
func With(key, value string) zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	base = base.With().Str(key, value).Logger()
	return base
}
