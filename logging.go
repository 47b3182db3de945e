package corort

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Package-level logger configuration. Logging is a cross-cutting
// concern shared by every IoScheduler and ThreadPool instance in a
// process, so it is configured once via SetLogger rather than threaded
// through every constructor.
var globalLogger struct {
	sync.RWMutex
	logger zerolog.Logger
}

func init() {
	globalLogger.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// SetLogger replaces the package-level logger. An IoScheduler takes its
// logger from Log() when it is constructed, so the change applies to
// schedulers created afterward; ThreadPool and continuation-panic reports
// read Log() at each log call.
func SetLogger(l zerolog.Logger) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = l
}

// Log returns the current package-level logger.
func Log() zerolog.Logger {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	return globalLogger.logger
}

// withComponent returns a logger with a "component" field set, mirroring
// the scoped-sub-logger convention used elsewhere for worker- and
// task-tagged log lines.
func withComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}

// withFD returns a logger with an "fd" field set, for descriptor-scoped
// poller diagnostics.
func withFD(l zerolog.Logger, fd int) zerolog.Logger {
	return l.With().Int("fd", fd).Logger()
}
