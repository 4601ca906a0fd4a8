// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled turns logging off (tests, embedding hosts with own logging).
	LevelDisabled LogLevel = "disabled"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to zerolog.Level. Unknown names map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForSession derives a logger tagged with a search session and the entity it lists.
func ForSession(base zerolog.Logger, sessionID, entity string) zerolog.Logger {
	ctx := base.With().Str("session", sessionID)
	if entity != "" {
		ctx = ctx.Str("entity", entity)
	}
	return ctx.Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache decisions (hit/miss, key, remaining TTL)
//   - Fetch lifecycle (start, cancel reason, promotion, stale discard)
//   - Prefetch eligibility
//
// Info: Normal operation events
//   - Session opened/closed
//   - New search started
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Prefetch failures (swallowed)
//   - Reference data lookups falling back to the origin
//
// Error: Error conditions requiring attention
//   - Primary fetch failures shown to the user
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (fetch, search, prefetch, enrich, httpexec)
//   - session: search session id
//   - entity: listed entity (purchases, transfers, ...)
//   - key: filter key of the query
//   - page: page number
//   - purpose: primary or prefetch
//   - request_id: coordinator request id
//   - reason: why a request was cancelled
