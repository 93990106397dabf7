// Package logx configures the process-wide zerolog logger.
package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment represents the deployment environment of the process.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// String returns the string representation of the environment.
func (e Environment) String() string {
	return string(e)
}

// IsProduction reports whether the environment corresponds to production.
func (e Environment) IsProduction() bool {
	return e == Production
}

// ParseEnvironment normalises v into one of the known environments.
// Unknown values fall back to Development.
func ParseEnvironment(v string) Environment {
	switch Environment(strings.ToLower(strings.TrimSpace(v))) {
	case Production:
		return Production
	case Testing:
		return Testing
	default:
		return Development
	}
}

// New builds a logger writing to w. Production gets JSON at info level,
// everything else a console writer at debug level.
func New(w io.Writer, env Environment) zerolog.Logger {
	if env.IsProduction() {
		return zerolog.New(w).With().Timestamp().Logger().Level(zerolog.InfoLevel)
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(console).With().Timestamp().Caller().Logger().Level(zerolog.DebugLevel)
}

// Init replaces the global logger with one for env writing to stderr and
// returns it.
func Init(env Environment) zerolog.Logger {
	log.Logger = New(os.Stderr, env)
	return log.Logger
}

// Error starts an error event on the global logger.
func Error() *zerolog.Event {
	return log.Error()
}
