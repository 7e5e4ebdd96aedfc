// Package logging configures the zerolog logger shared by all components.
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

// Output formats accepted by FormatPretty.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Service is added to every entry when set.
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger

	return logger
}

// ValidateLevel reports whether level is one of the supported levels.
func ValidateLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %q (want debug, info, warn or error)", level)
	}
}

// FormatPretty maps a format name to Config.Pretty.
func FormatPretty(format string) (bool, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return false, nil
	case FormatConsole:
		return true, nil
	default:
		return false, fmt.Errorf("unknown log format %q (want json or console)", format)
	}
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: request-level detail
//   - Individual API requests (endpoint, url)
//   - Token expiry after a successful exchange
//
// Info: normal run progress
//   - Run start and completion
//   - Tile catalog size, density fetch start and summary
//   - Scheduler and HTTP server startup/shutdown
//
// Warn: degraded but continuing
//   - Failed density chunks (skipped)
//   - Malformed catalog or density entries
//   - Empty result (EmptyResultWarning), run skipped because one is active
//
// Error: the run failed
//   - Token exchange rejected or unreachable
//   - Tile catalog unavailable
//   - Sink write failed
//
// Context Fields:
//   - run_id: UUID of the pipeline run
//   - region: grid kind/id, e.g. postal-code-areas/3097
//   - target_date: YYYY-MM-DD of the requested day
//   - endpoint: grids or dwell-density
//   - status: HTTP status code
//   - error_class: client, server, rate_limit, network or decode
//   - chunk, chunk_size: density chunk index and size
//   - tiles, records, failed_chunks: run counters
