// Package logging sets up zerolog for the Helix client packages and gives
// each of them a component logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is the minimum severity written.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty writes colored console lines instead of JSON.
	Pretty bool

	// Output defaults to os.Stderr when nil.
	Output io.Writer
}

// DefaultConfig logs JSON at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup installs the global logger every component logger derives from and
// returns it. Component loggers created before Setup keep the old output.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return log.Logger
}

// parseLevel maps a configured level to zerolog, falling back to info.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		name = "warn"
	}
	switch l, err := zerolog.ParseLevel(name); {
	case err != nil, name == "", l < zerolog.DebugLevel, l > zerolog.ErrorLevel:
		return zerolog.InfoLevel
	default:
		return l
	}
}

// Component names used by the client packages.
const (
	ComponentClient     = "helix-client"
	ComponentAuth       = "helix-auth"
	ComponentRateLimit  = "helix-ratelimit"
	ComponentPagination = "helix-pagination"
	ComponentProxy      = "helix-proxy"
)

// NewLogger returns a child of the global logger tagged with component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// ForRequest tags logger with a fresh request_id and the endpoint path, so
// every attempt of one call (waits, reauth, retries) can be correlated. The
// request ID is returned as well.
func ForRequest(logger zerolog.Logger, endpoint string) (zerolog.Logger, string) {
	id := uuid.NewString()
	return logger.With().
		Str("request_id", id).
		Str("endpoint", endpoint).
		Logger(), id
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Request flow (request sent, error classified)
//   - Page fetches (page number, item count, last page)
//   - Token requests being started
//
// Info: Normal operation events
//   - New access token obtained
//   - Reauthentication after a rejected token
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Rate limit cooldowns (429 or empty bucket)
//   - Retry attempts
//   - Redis errors (fallback to local rate limit state)
//   - Client errors returned to the caller
//
// Error: Error conditions requiring attention
//   - Failed token requests
//   - Token rejected again after reauthentication
//   - Exhausted retries
//   - Configuration errors
//
// Context Fields:
//   - component: package emitting the event
//   - request_id: correlates all attempts of one call
//   - endpoint: Helix endpoint path
//   - status: HTTP status code
//   - error_class: Error classification (client, unauthorized, server, rate_limit, network, decode)
//   - attempt: retry number
//   - blocked_until: end of the rate limit cooldown
//
// Access tokens and client secrets are never logged.
