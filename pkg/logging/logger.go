// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
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

// Setup configures the global zerolog logger. Component loggers created with
// NewLogger after Setup inherit its output and level.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a level name.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return "", fmt.Errorf("unknown log level %q (want debug, info, warn or error)", s)
}

// parseLevel maps a level to zerolog. Unknown names log at info.
func parseLevel(level LogLevel) zerolog.Level {
	l, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return map[LogLevel]zerolog.Level{
		LevelDebug: zerolog.DebugLevel,
		LevelInfo:  zerolog.InfoLevel,
		LevelWarn:  zerolog.WarnLevel,
		LevelError: zerolog.ErrorLevel,
	}[l]
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache decisions (hit, conditional match, joined refresh)
//   - Record reads and writes (key, etag, watermark)
//   - Gateway probe steps
//
// Info: Normal operation events
//   - Completed refreshes (items loaded or merged)
//   - Server startup/shutdown, startup record counts
//
// Warn: Degraded service that still answers the request
//   - Stale content served
//   - Cache read/write failures (fail open)
//   - Upstream retries, rate limit throttling
//   - Image detection failures
//
// Error: Error conditions requiring attention
//   - Requests answered with 500
//   - Critical rate limit blocks
//   - Configuration errors
//
// Context Fields:
//   - component: Emitting package (cache, orchestrator, upstream, imagedetect, http)
//   - collection: Public collection name of the request
//   - schema: Upstream schema name
//   - format: Feed format (rss, atom, json)
//   - cache_state: Orchestrator state (FRESH_HIT, COLD_MISS, ...)
//   - etag: ETag of the served content
//   - gateway: Image gateway host
//   - tx_id: Transaction id being probed
//   - error_class: Upstream error classification
//   - duration: Operation duration
